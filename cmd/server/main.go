package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lindenhq/linden/internal"
	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/events"
	"github.com/lindenhq/linden/internal/handler"
	"github.com/lindenhq/linden/internal/jobs"
	"github.com/lindenhq/linden/internal/handler/webhook"
	"github.com/lindenhq/linden/internal/middleware"
	"github.com/lindenhq/linden/internal/postgres"
	"github.com/lindenhq/linden/internal/router"
	"github.com/lindenhq/linden/internal/routes"
	"github.com/lindenhq/linden/internal/service"
	"github.com/lindenhq/linden/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize stores
	ledgerStore := postgres.NewLedgerStore(pool)
	identityStore := postgres.NewIdentityStore(pool)

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	billingProvider, err := billing.NewStripeProvider(cfg.Stripe)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", cfg.Stripe.IsTestMode())

	// Initialize event publisher
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		logger.Info("Connecting to NATS...", "url", cfg.NATS.URL)
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.ClientName)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("NATS publisher initialized")
	} else {
		logger.Warn("NATS_URL not set, payment events will not be published")
	}

	// Initialize payment metrics
	if cfg.Metrics.Enabled {
		telemetry.Init(cfg.Metrics.Namespace)
	}

	// Initialize services
	identityService := service.NewIdentityService(identityStore, billingProvider, logger)
	vaultService := service.NewVaultService(identityService, billingProvider, logger)
	chargeService := service.NewChargeService(ledgerStore, identityService, billingProvider, publisher, logger)
	ledgerService := service.NewLedgerService(ledgerStore)
	reconciler := service.NewReconciler(ledgerStore, billingProvider, publisher, cfg.Stripe.WebhookSecret, logger)
	logger.Info("Payment services initialized")

	// Background maintenance: prune old webhook dedup markers
	go jobs.PruneWebhookEvents(ctx, ledgerStore, jobs.DefaultEventRetention, 24*time.Hour, logger)

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	apiDeps := routes.APIDeps{
		PaymentHandler:    handler.NewPaymentHandler(chargeService, ledgerService, logger),
		InstrumentHandler: handler.NewInstrumentHandler(vaultService, logger),
	}

	stripeWebhookHandler := webhook.NewStripeHandler(reconciler, logger)
	webhookDeps := routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	}

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	// Initialize Prometheus HTTP metrics
	metrics := middleware.NewMetrics(cfg.Metrics.Namespace)

	// Configure security headers
	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0 // Disable HSTS in development
	}

	// Configure rate limiting
	defaultRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		defaultRateLimiter.Middleware,
		router.Logger(logger),
		middleware.WithRequestLogger(logger),
	)

	// Metrics endpoint (no auth required, but should be protected in production via firewall)
	if cfg.Metrics.Enabled {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			metrics.Handler().ServeHTTP(w, req)
		})
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Register route groups
	routes.RegisterAPIRoutes(r, apiDeps)
	routes.RegisterWebhookRoutes(r, webhookDeps)

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting payments server", "address", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
