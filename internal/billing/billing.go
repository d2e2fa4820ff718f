package billing

import (
	"context"
	"time"
)

// Provider defines the capability interface for the external payment
// processor. Implementations can use Stripe, Adyen, etc.; the ledger and
// reconciler never see anything below this boundary.
type Provider interface {
	// CreateCustomer creates a billing customer record in the processor.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomerByEmail searches for an existing customer by email.
	// Used for reconciliation of partially failed prior provisioning -
	// the processor's own lookup is the de-duplication authority.
	// Returns nil, nil if no customer found (not an error).
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)

	// CreatePaymentIntent creates an unconfirmed payment intent for the
	// card-entry flow. Returns the intent with client_secret for frontend
	// confirmation.
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// ConfirmPaymentIntent creates and confirms a payment intent against a
	// stored instrument in one synchronous round-trip. On a decline the
	// returned intent (when the processor attached one to the error)
	// carries the failed state alongside the error.
	ConfirmPaymentIntent(ctx context.Context, params ConfirmPaymentIntentParams) (*PaymentIntent, error)

	// GetPaymentIntent retrieves an existing payment intent.
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// ListPaymentMethods returns the stored instruments for a customer.
	// Always a read-through: instruments change out-of-band (expiry,
	// bank-side removal), so there is no local cache to consult.
	ListPaymentMethods(ctx context.Context, customerID string) (*InstrumentList, error)

	// AttachPaymentMethod attaches an instrument to a customer and
	// optionally marks it as the default.
	AttachPaymentMethod(ctx context.Context, params AttachParams) (*Instrument, error)

	// DetachPaymentMethod removes a stored instrument.
	DetachPaymentMethod(ctx context.Context, instrumentID string) error

	// RefundPayment refunds a completed payment.
	RefundPayment(ctx context.Context, params RefundParams) (*Refund, error)

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error

	// ConstructWebhookEvent verifies and parses a webhook payload into a
	// processor-neutral event. Event types this system does not consume
	// come back as EventUnknown (acked and ignored upstream).
	ConstructWebhookEvent(payload []byte, signature string, secret string) (*WebhookEvent, error)
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email    string
	Name     string
	Phone    string
	Metadata map[string]string
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CreatePaymentIntentParams contains parameters for creating a payment intent.
type CreatePaymentIntentParams struct {
	// AmountCents is the amount in smallest currency unit (cents for USD).
	AmountCents int64

	// Currency code (ISO 4217 lowercase) - e.g., "usd".
	Currency string

	// CustomerID links the payment to the provisioned billing identity.
	CustomerID string

	// Description appears on the customer's statement.
	Description string

	// Metadata for reconciliation (user_id, property_id, unit_id).
	Metadata map[string]string

	// IdempotencyKey prevents duplicate intents on client retries.
	// Typically the ledger entry id.
	IdempotencyKey string
}

// ConfirmPaymentIntentParams contains parameters for the synchronous
// create-and-confirm flow against a stored instrument.
type ConfirmPaymentIntentParams struct {
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
	IdempotencyKey  string

	// OffSession indicates the cardholder is not present; the processor
	// will not attempt interactive authentication.
	OffSession bool
}

// Payment intent status values, as reported by the processor.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// PaymentIntent represents a processor payment intent.
type PaymentIntent struct {
	// ID is the processor intent id (pi_... for Stripe).
	ID string

	// ClientSecret is used by the frontend to confirm the payment.
	ClientSecret string

	// AmountCents is the amount in smallest currency unit. After success
	// this is the amount actually captured.
	AmountCents int64

	Currency string

	// Status is one of the IntentStatus* values.
	Status string

	Metadata  map[string]string
	CreatedAt time.Time

	// LastPaymentError contains details if a payment attempt failed.
	LastPaymentError *PaymentError
}

// PaymentError contains details about a failed payment attempt.
type PaymentError struct {
	Code        string // processor error code (e.g., "card_declined")
	Message     string // human-readable message
	DeclineCode string // card decline reason (if applicable)
}

// Reason returns the most specific machine-readable failure reason.
func (e *PaymentError) Reason() string {
	if e == nil {
		return ""
	}
	if e.DeclineCode != "" {
		return e.DeclineCode
	}
	return e.Code
}

// Instrument represents a stored payment instrument.
type Instrument struct {
	ID   string
	Type string // "card" or "bank_account"

	// Card fields
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64

	// Bank account fields
	BankName string

	IsDefault bool
}

// InstrumentList groups a customer's stored instruments by kind.
type InstrumentList struct {
	Cards        []Instrument
	BankAccounts []Instrument
}

// AttachParams contains parameters for attaching an instrument.
type AttachParams struct {
	CustomerID   string
	InstrumentID string
	SetDefault   bool
}

// RefundParams contains parameters for creating a refund.
type RefundParams struct {
	PaymentIntentID string
	AmountCents     int64  // if 0, refunds the full amount
	Reason          string // "duplicate", "fraudulent", "requested_by_customer"
	Metadata        map[string]string
}

// Refund represents a payment refund.
type Refund struct {
	ID              string
	PaymentIntentID string
	AmountCents     int64
	Status          string // succeeded, pending, failed
	CreatedAt       time.Time
}

// WebhookEventType is the processor-neutral classification of a webhook
// event. Only lifecycle outcomes the ledger consumes get their own type.
type WebhookEventType string

const (
	EventPaymentSucceeded WebhookEventType = "payment_succeeded"
	EventPaymentFailed    WebhookEventType = "payment_failed"
	EventRefundIssued     WebhookEventType = "refund_issued"
	EventUnknown          WebhookEventType = "unknown"
)

// WebhookEvent is a verified, parsed webhook delivery.
type WebhookEvent struct {
	// ID is the processor's event id (evt_... for Stripe), unique per
	// event and stable across redeliveries.
	ID string

	Type WebhookEventType

	// RawType is the processor's own event type string, kept for logging.
	RawType string

	// IntentID keys the event to a ledger entry.
	IntentID string

	// AmountCents is the amount captured or refunded, when the event
	// carries one.
	AmountCents int64
	Currency    string

	// FailureReason is set for payment_failed events.
	FailureReason string

	// Metadata is the intent metadata echoed back by the processor.
	Metadata map[string]string

	OccurredAt time.Time
}
