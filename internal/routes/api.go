package routes

import (
	"github.com/lindenhq/linden/internal/middleware"
	"github.com/lindenhq/linden/internal/router"
)

// RegisterAPIRoutes registers the payment API routes.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	// Money-moving endpoints get their own tighter per-IP limit on top of
	// the global one.
	chargeLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())

	// Payments
	r.Post("/api/payments/intents", deps.PaymentHandler.CreateIntent, chargeLimiter.Middleware)
	r.Post("/api/payments/charges", deps.PaymentHandler.Charge, chargeLimiter.Middleware)
	r.Get("/api/payments", deps.PaymentHandler.List)
	r.Get("/api/payments/overdue", deps.PaymentHandler.ListOverdue)
	r.Get("/api/payments/{id}", deps.PaymentHandler.Get)
	r.Get("/api/payments/{id}/receipt", deps.PaymentHandler.Receipt)
	r.Post("/api/payments/{id}/refund", deps.PaymentHandler.Refund)

	// Stored payment instruments
	r.Get("/api/payment-methods", deps.InstrumentHandler.List)
	r.Post("/api/payment-methods", deps.InstrumentHandler.Attach)
	r.Delete("/api/payment-methods/{id}", deps.InstrumentHandler.Detach)
}
