package routes

import (
	"net/http"

	"github.com/lindenhq/linden/internal/handler"
)

// APIDeps contains dependencies for the JSON API routes.
type APIDeps struct {
	PaymentHandler    *handler.PaymentHandler
	InstrumentHandler *handler.InstrumentHandler
}

// WebhookDeps contains dependencies for webhook routes.
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}
