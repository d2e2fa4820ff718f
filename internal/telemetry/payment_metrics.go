package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics holds Prometheus metrics for payment-level observability.
type PaymentMetrics struct {
	// Charge path
	IntentsCreated   *prometheus.CounterVec // method_type
	ChargesSucceeded *prometheus.CounterVec // method_type
	ChargesFailed    *prometheus.CounterVec // method_type, reason

	// Webhook reconciliation
	WebhookReceived  *prometheus.CounterVec // event_type
	WebhookProcessed *prometheus.CounterVec // event_type
	WebhookDuplicate *prometheus.CounterVec // event_type
	WebhookIgnored   *prometheus.CounterVec // event_type
	WebhookFailed    *prometheus.CounterVec // event_type, reason
	WebhookOrphaned  prometheus.Counter     // events creating their own ledger row
	WebhookLatency   *prometheus.HistogramVec

	// Revenue
	RevenueCollectedCents *prometheus.CounterVec // currency
	RefundedCents         *prometheus.CounterVec // currency

	// External API performance
	ProviderLatency *prometheus.HistogramVec // call
}

// Payments is the package-level metrics instance, set once at startup.
// Nil checks at call sites keep tests free of a metrics registry.
var Payments *PaymentMetrics

// Init creates, registers, and installs the package-level payment metrics.
func Init(namespace string) *PaymentMetrics {
	Payments = NewPaymentMetrics(namespace)
	return Payments
}

// NewPaymentMetrics creates and registers all payment metrics.
func NewPaymentMetrics(namespace string) *PaymentMetrics {
	if namespace == "" {
		namespace = "linden"
	}

	subsystem := "payments"

	return &PaymentMetrics{
		IntentsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "intents_created_total",
				Help:      "Total payment intents created for the card-entry flow",
			},
			[]string{"method_type"},
		),
		ChargesSucceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charges_succeeded_total",
				Help:      "Total charges settled as paid (either write path)",
			},
			[]string{"method_type"},
		),
		ChargesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charges_failed_total",
				Help:      "Total charges settled as failed",
			},
			[]string{"method_type", "reason"},
		),
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook deliveries received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook deliveries absorbed into the ledger",
			},
			[]string{"event_type"},
		),
		WebhookDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duplicate_total",
				Help:      "Total webhook redeliveries acked without effect",
			},
			[]string{"event_type"},
		),
		WebhookIgnored: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_ignored_total",
				Help:      "Total webhook deliveries of unconsumed event types",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook deliveries rejected for processor retry",
			},
			[]string{"event_type", "reason"},
		),
		WebhookOrphaned: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_orphaned_total",
				Help:      "Webhook events that created their own ledger row (no local intent record)",
			},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook handling duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"event_type"},
		),
		RevenueCollectedCents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_cents_total",
				Help:      "Total settled payment volume in minor currency units",
			},
			[]string{"currency"},
		),
		RefundedCents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunded_cents_total",
				Help:      "Total refunded volume in minor currency units",
			},
			[]string{"currency"},
		),
		ProviderLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_api_duration_seconds",
				Help:      "Payment processor API call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"call"},
		),
	}
}
