package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe Go SDK.
type StripeProvider struct {
	config StripeConfig
	client *client.API
}

// Compile-time check to ensure StripeProvider implements Provider.
var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a new Stripe billing provider.
// All API calls go through a dedicated HTTP client with a bounded timeout;
// the charge path blocks a user-facing request on these round-trips.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 30
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		MaxNetworkRetries: stripe.Int64(int64(config.MaxRetries)),
	}

	sc := client.New(config.APIKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	return &StripeProvider{
		config: config,
		client: sc,
	}, nil
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	cp := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(params.Email),
	}
	if params.Name != "" {
		cp.Name = stripe.String(params.Name)
	}
	if params.Phone != "" {
		cp.Phone = stripe.String(params.Phone)
	}
	for k, v := range params.Metadata {
		cp.AddMetadata(k, v)
	}

	c, err := s.client.Customers.New(cp)
	if err != nil {
		return nil, wrapStripeError(err, "create customer")
	}

	return mapStripeCustomer(c), nil
}

// GetCustomerByEmail searches for an existing Stripe customer by email.
// Returns nil, nil when no customer matches.
func (s *StripeProvider) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	lp := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	lp.Context = ctx
	lp.Limit = stripe.Int64(1)

	it := s.client.Customers.List(lp)
	for it.Next() {
		return mapStripeCustomer(it.Customer()), nil
	}
	if err := it.Err(); err != nil {
		return nil, wrapStripeError(err, "find customer by email")
	}

	return nil, nil
}

// CreatePaymentIntent creates an unconfirmed Stripe payment intent for the
// card-entry flow. The returned client secret drives frontend confirmation.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	if params.AmountCents < 50 {
		return nil, ErrAmountTooSmall
	}

	pip := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(params.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if params.CustomerID != "" {
		pip.Customer = stripe.String(params.CustomerID)
	}
	if params.Description != "" {
		pip.Description = stripe.String(params.Description)
	}
	if params.IdempotencyKey != "" {
		pip.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	for k, v := range params.Metadata {
		pip.AddMetadata(k, v)
	}

	pi, err := s.client.PaymentIntents.New(pip)
	if err != nil {
		return partialIntentFromError(err), wrapStripeError(err, "create payment intent")
	}

	return mapStripeIntent(pi), nil
}

// ConfirmPaymentIntent creates and confirms a payment intent against a
// stored instrument in one call. On a decline Stripe attaches the failed
// intent to the error; it is surfaced alongside so the caller can record
// the outcome under the intent id.
func (s *StripeProvider) ConfirmPaymentIntent(ctx context.Context, params ConfirmPaymentIntentParams) (*PaymentIntent, error) {
	if params.AmountCents < 50 {
		return nil, ErrAmountTooSmall
	}

	pip := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(params.Currency),
		Customer:      stripe.String(params.CustomerID),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		Confirm:       stripe.Bool(true),
	}
	if params.OffSession {
		pip.OffSession = stripe.Bool(true)
	}
	if params.Description != "" {
		pip.Description = stripe.String(params.Description)
	}
	if params.IdempotencyKey != "" {
		pip.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	for k, v := range params.Metadata {
		pip.AddMetadata(k, v)
	}

	pi, err := s.client.PaymentIntents.New(pip)
	if err != nil {
		return partialIntentFromError(err), wrapStripeError(err, "confirm payment intent")
	}

	return mapStripeIntent(pi), nil
}

// GetPaymentIntent retrieves an existing Stripe payment intent.
func (s *StripeProvider) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	pi, err := s.client.PaymentIntents.Get(paymentIntentID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrPaymentIntentNotFound
		}
		return nil, wrapStripeError(err, "get payment intent")
	}

	return mapStripeIntent(pi), nil
}

// ListPaymentMethods returns the customer's stored cards and bank accounts.
func (s *StripeProvider) ListPaymentMethods(ctx context.Context, customerID string) (*InstrumentList, error) {
	defaultID, err := s.defaultPaymentMethodID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	list := &InstrumentList{}
	for _, pmType := range []string{"card", "us_bank_account"} {
		lp := &stripe.PaymentMethodListParams{
			Customer: stripe.String(customerID),
			Type:     stripe.String(pmType),
		}
		lp.Context = ctx

		it := s.client.PaymentMethods.List(lp)
		for it.Next() {
			inst := mapStripePaymentMethod(it.PaymentMethod())
			inst.IsDefault = inst.ID == defaultID
			if inst.Type == "card" {
				list.Cards = append(list.Cards, inst)
			} else {
				list.BankAccounts = append(list.BankAccounts, inst)
			}
		}
		if err := it.Err(); err != nil {
			return nil, wrapStripeError(err, "list payment methods")
		}
	}

	return list, nil
}

// AttachPaymentMethod attaches an instrument to a customer.
func (s *StripeProvider) AttachPaymentMethod(ctx context.Context, params AttachParams) (*Instrument, error) {
	pm, err := s.client.PaymentMethods.Attach(params.InstrumentID, &stripe.PaymentMethodAttachParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(params.CustomerID),
	})
	if err != nil {
		return nil, wrapStripeError(err, "attach payment method")
	}

	if params.SetDefault {
		_, err = s.client.Customers.Update(params.CustomerID, &stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(params.InstrumentID),
			},
		})
		if err != nil {
			return nil, wrapStripeError(err, "set default payment method")
		}
	}

	inst := mapStripePaymentMethod(pm)
	inst.IsDefault = params.SetDefault
	return &inst, nil
}

// DetachPaymentMethod removes a stored instrument.
func (s *StripeProvider) DetachPaymentMethod(ctx context.Context, instrumentID string) error {
	_, err := s.client.PaymentMethods.Detach(instrumentID, &stripe.PaymentMethodDetachParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return wrapStripeError(err, "detach payment method")
	}
	return nil
}

// RefundPayment refunds a completed payment.
func (s *StripeProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	rp := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(params.PaymentIntentID),
	}
	if params.AmountCents > 0 {
		rp.Amount = stripe.Int64(params.AmountCents)
	}
	if params.Reason != "" {
		rp.Reason = stripe.String(params.Reason)
	}
	for k, v := range params.Metadata {
		rp.AddMetadata(k, v)
	}

	r, err := s.client.Refunds.New(rp)
	if err != nil {
		return nil, wrapStripeError(err, "refund payment")
	}

	refund := &Refund{
		ID:          r.ID,
		AmountCents: r.Amount,
		Status:      string(r.Status),
		CreatedAt:   time.Unix(r.Created, 0),
	}
	if r.PaymentIntent != nil {
		refund.PaymentIntentID = r.PaymentIntent.ID
	}
	return refund, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if _, err := webhook.ConstructEvent(payload, signature, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return nil
}

// ConstructWebhookEvent verifies a Stripe webhook delivery and maps it to a
// processor-neutral event. Stripe event types outside the payment lifecycle
// come back as EventUnknown.
func (s *StripeProvider) ConstructWebhookEvent(payload []byte, signature string, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	we := &WebhookEvent{
		ID:         event.ID,
		RawType:    string(event.Type),
		Type:       EventUnknown,
		OccurredAt: time.Unix(event.Created, 0),
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("billing: parse payment intent from event %s: %w", event.ID, err)
		}
		we.Type = EventPaymentSucceeded
		we.IntentID = pi.ID
		we.AmountCents = pi.AmountReceived
		we.Currency = string(pi.Currency)
		we.Metadata = pi.Metadata

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("billing: parse payment intent from event %s: %w", event.ID, err)
		}
		we.Type = EventPaymentFailed
		we.IntentID = pi.ID
		we.AmountCents = pi.Amount
		we.Currency = string(pi.Currency)
		we.Metadata = pi.Metadata
		we.FailureReason = "unknown"
		if pi.LastPaymentError != nil {
			we.FailureReason = string(pi.LastPaymentError.Code)
			if pi.LastPaymentError.DeclineCode != "" {
				we.FailureReason = string(pi.LastPaymentError.DeclineCode)
			}
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("billing: parse charge from event %s: %w", event.ID, err)
		}
		we.Type = EventRefundIssued
		we.AmountCents = ch.AmountRefunded
		we.Currency = string(ch.Currency)
		we.Metadata = ch.Metadata
		if ch.PaymentIntent != nil {
			we.IntentID = ch.PaymentIntent.ID
		}
	}

	return we, nil
}

// defaultPaymentMethodID returns the customer's default instrument id, or
// empty when none is set.
func (s *StripeProvider) defaultPaymentMethodID(ctx context.Context, customerID string) (string, error) {
	c, err := s.client.Customers.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return "", ErrCustomerNotFound
		}
		return "", wrapStripeError(err, "get customer")
	}
	if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
		return c.InvoiceSettings.DefaultPaymentMethod.ID, nil
	}
	return "", nil
}

func mapStripeCustomer(c *stripe.Customer) *Customer {
	return &Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		CreatedAt: time.Unix(c.Created, 0),
	}
}

func mapStripeIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
		CreatedAt:    time.Unix(pi.Created, 0),
	}
	if pi.Status == stripe.PaymentIntentStatusSucceeded && pi.AmountReceived > 0 {
		out.AmountCents = pi.AmountReceived
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = &PaymentError{
			Code:        string(pi.LastPaymentError.Code),
			Message:     pi.LastPaymentError.Msg,
			DeclineCode: string(pi.LastPaymentError.DeclineCode),
		}
	}
	return out
}

func mapStripePaymentMethod(pm *stripe.PaymentMethod) Instrument {
	inst := Instrument{
		ID:   pm.ID,
		Type: "bank_account",
	}
	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil {
		inst.Type = "card"
		inst.Brand = string(pm.Card.Brand)
		inst.Last4 = pm.Card.Last4
		inst.ExpMonth = pm.Card.ExpMonth
		inst.ExpYear = pm.Card.ExpYear
	}
	if pm.USBankAccount != nil {
		inst.BankName = pm.USBankAccount.BankName
		inst.Last4 = pm.USBankAccount.Last4
	}
	return inst
}

// partialIntentFromError surfaces the intent Stripe attaches to a decline
// error, so the caller can record the failed outcome under its intent id.
func partialIntentFromError(err error) *PaymentIntent {
	var se *stripe.Error
	if errors.As(err, &se) && se.PaymentIntent != nil {
		return mapStripeIntent(se.PaymentIntent)
	}
	return nil
}

func wrapStripeError(err error, op string) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProviderError{
			Message:       fmt.Sprintf("%s: %s", op, se.Msg),
			Code:          string(se.Code),
			DeclineCode:   string(se.DeclineCode),
			HTTPStatus:    se.HTTPStatusCode,
			RequestID:     se.RequestID,
			OriginalError: err,
		}
	}
	// Network-level failure (timeout, connection refused): transient.
	return &ProviderError{
		Message:       fmt.Sprintf("%s: %v", op, err),
		Code:          "api_connection_error",
		OriginalError: err,
	}
}
