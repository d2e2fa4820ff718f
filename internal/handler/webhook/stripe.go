// Package webhook receives payment processor webhook deliveries. The HTTP
// layer here stays thin: read the body, pass it to the reconciler, map the
// outcome to a status code the processor's retry machinery understands.
package webhook

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/handler"
	"github.com/lindenhq/linden/internal/service"
)

// maxPayloadBytes bounds webhook bodies. Stripe events are small; anything
// larger is not a legitimate delivery.
const maxPayloadBytes = 1 << 16

// StripeHandler handles Stripe webhook deliveries.
type StripeHandler struct {
	reconciler service.Reconciler
	logger     *slog.Logger
}

// NewStripeHandler creates a Stripe webhook handler.
func NewStripeHandler(reconciler service.Reconciler, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		reconciler: reconciler,
		logger:     logger.With("handler", "stripe_webhook"),
	}
}

// HandleWebhook processes one incoming Stripe webhook delivery.
//
// Status code contract with Stripe's retry machinery:
//   - 2xx: delivery absorbed (or safely ignorable); do not redeliver.
//   - 400/401: malformed or unauthenticated; redelivery will not help.
//   - 5xx: transient local failure; please redeliver.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe
//	stripe trigger payment_intent.succeeded
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.read", "error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		handler.ErrorResponse(w, r, domain.Invalid("webhook.read", "missing Stripe-Signature header"))
		return
	}

	result, err := h.reconciler.Handle(r.Context(), payload, signature)
	if err != nil {
		if domain.ErrorCode(err) == domain.EUNAUTHORIZED {
			handler.ErrorResponse(w, r, err)
			return
		}
		// Transient failure (store unavailable, etc.). A 5xx tells Stripe
		// to redeliver; the dedup log makes the retry safe.
		h.logger.Error("webhook processing failed", "error", err)
		handler.ErrorResponse(w, r, domain.Unavailable(err, "webhook.handle", "event could not be processed, please retry"))
		return
	}

	h.logger.Info("webhook acked",
		"event_type", result.EventType,
		"ignored", result.Ignored,
		"duplicate", result.Duplicate,
		"created", result.Created)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received": true}`))
}
