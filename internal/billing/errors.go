package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAPIKey is returned when the processor API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrPaymentIntentNotFound is returned when a payment intent does not exist.
	ErrPaymentIntentNotFound = errors.New("billing: payment intent not found")

	// ErrCustomerNotFound is returned when a customer does not exist.
	ErrCustomerNotFound = errors.New("billing: customer not found")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrAmountTooSmall is returned when the amount is below the processor's minimum.
	ErrAmountTooSmall = errors.New("billing: amount too small (minimum $0.50 USD)")
)

// ProviderError wraps a processor API error with enough structure for
// callers to pick between "declined, try another instrument" and
// "transient, retry later" without knowing the processor.
type ProviderError struct {
	Message       string // human-readable error message
	Code          string // processor error code (e.g., "card_declined")
	DeclineCode   string // card decline reason (if applicable)
	HTTPStatus    int    // HTTP status from the processor
	RequestID     string // processor request id for debugging
	OriginalError error  // original error from the SDK
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("billing: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// IsDeclined returns true if the error is a processor rejection of the
// charge itself (a FAILED ledger outcome, not a system error).
func (e *ProviderError) IsDeclined() bool {
	return e.Code == "card_declined" || e.DeclineCode != ""
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *ProviderError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error" || e.HTTPStatus >= 500
}

// IsDeclined reports whether err represents a processor-declined charge.
func IsDeclined(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsDeclined()
}

// IsTemporary reports whether err is transient and worth retrying.
func IsTemporary(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsTemporary()
}
