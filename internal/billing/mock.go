package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates payment flows without calling the Stripe API. Safe for
// concurrent use: the identity and ledger tests drive it from racing
// goroutines.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior.
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomerByEmailFunc allows customizing customer lookup behavior.
	GetCustomerByEmailFunc func(ctx context.Context, email string) (*Customer, error)

	// CreatePaymentIntentFunc allows customizing payment intent creation behavior.
	CreatePaymentIntentFunc func(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// ConfirmPaymentIntentFunc allows customizing synchronous confirmation behavior.
	ConfirmPaymentIntentFunc func(ctx context.Context, params ConfirmPaymentIntentParams) (*PaymentIntent, error)

	// ConstructWebhookEventFunc allows customizing webhook parsing behavior.
	ConstructWebhookEventFunc func(payload []byte, signature string, secret string) (*WebhookEvent, error)

	// VerifyWebhookSignatureFunc allows customizing webhook verification behavior.
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// ListPaymentMethodsFunc allows customizing instrument listing behavior.
	ListPaymentMethodsFunc func(ctx context.Context, customerID string) (*InstrumentList, error)

	// RefundPaymentFunc allows customizing refund behavior.
	RefundPaymentFunc func(ctx context.Context, params RefundParams) (*Refund, error)

	// mu guards CallLog and the state maps. Hook funcs run outside the
	// lock, so a hook may call back into the mock.
	mu sync.Mutex

	// PaymentIntents stores created payment intents for retrieval.
	PaymentIntents map[string]*PaymentIntent

	// Customers stores created customers keyed by email.
	Customers map[string]*Customer

	// Instruments stores attached instruments keyed by id.
	Instruments map[string]*Instrument

	// CallLog tracks method calls. Read it through Calls.
	CallLog []string
}

// Compile-time check to ensure MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		PaymentIntents: make(map[string]*PaymentIntent),
		Customers:      make(map[string]*Customer),
		Instruments:    make(map[string]*Instrument),
		CallLog:        []string{},
	}
}

// record appends a call log line under the mock's lock.
func (m *MockProvider) record(call string) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, call)
	m.mu.Unlock()
}

// Calls returns a snapshot of the recorded calls for test assertions.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.record(fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	c := &Customer{
		ID:        "cus_" + uuid.New().String()[:8],
		Email:     params.Email,
		Name:      params.Name,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.Customers[params.Email] = c
	m.mu.Unlock()
	return c, nil
}

// GetCustomerByEmail looks up a mock customer by email.
func (m *MockProvider) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	m.record(fmt.Sprintf("GetCustomerByEmail(%s)", email))

	if m.GetCustomerByEmailFunc != nil {
		return m.GetCustomerByEmailFunc(ctx, email)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Customers[email]; ok {
		return c, nil
	}
	return nil, nil
}

// CreatePaymentIntent creates a mock unconfirmed payment intent.
func (m *MockProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	m.record(fmt.Sprintf("CreatePaymentIntent(%d, %s)", params.AmountCents, params.Currency))

	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, params)
	}

	pi := &PaymentIntent{
		ID:           "pi_" + uuid.New().String()[:8],
		ClientSecret: "pi_secret_" + uuid.New().String()[:8],
		AmountCents:  params.AmountCents,
		Currency:     params.Currency,
		Status:       IntentStatusRequiresPaymentMethod,
		Metadata:     params.Metadata,
		CreatedAt:    time.Now(),
	}
	m.mu.Lock()
	m.PaymentIntents[pi.ID] = pi
	m.mu.Unlock()
	return pi, nil
}

// ConfirmPaymentIntent simulates a successful synchronous charge.
func (m *MockProvider) ConfirmPaymentIntent(ctx context.Context, params ConfirmPaymentIntentParams) (*PaymentIntent, error) {
	m.record(fmt.Sprintf("ConfirmPaymentIntent(%d, %s)", params.AmountCents, params.PaymentMethodID))

	if m.ConfirmPaymentIntentFunc != nil {
		return m.ConfirmPaymentIntentFunc(ctx, params)
	}

	pi := &PaymentIntent{
		ID:          "pi_" + uuid.New().String()[:8],
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
		Status:      IntentStatusSucceeded,
		Metadata:    params.Metadata,
		CreatedAt:   time.Now(),
	}
	m.mu.Lock()
	m.PaymentIntents[pi.ID] = pi
	m.mu.Unlock()
	return pi, nil
}

// GetPaymentIntent retrieves a mock payment intent.
func (m *MockProvider) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	m.record(fmt.Sprintf("GetPaymentIntent(%s)", paymentIntentID))

	m.mu.Lock()
	defer m.mu.Unlock()
	pi, exists := m.PaymentIntents[paymentIntentID]
	if !exists {
		return nil, ErrPaymentIntentNotFound
	}
	return pi, nil
}

// ListPaymentMethods returns the attached mock instruments.
func (m *MockProvider) ListPaymentMethods(ctx context.Context, customerID string) (*InstrumentList, error) {
	m.record(fmt.Sprintf("ListPaymentMethods(%s)", customerID))

	if m.ListPaymentMethodsFunc != nil {
		return m.ListPaymentMethodsFunc(ctx, customerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := &InstrumentList{}
	for _, inst := range m.Instruments {
		if inst.Type == "card" {
			list.Cards = append(list.Cards, *inst)
		} else {
			list.BankAccounts = append(list.BankAccounts, *inst)
		}
	}
	return list, nil
}

// AttachPaymentMethod attaches a mock instrument.
func (m *MockProvider) AttachPaymentMethod(ctx context.Context, params AttachParams) (*Instrument, error) {
	m.record(fmt.Sprintf("AttachPaymentMethod(%s, %s)", params.CustomerID, params.InstrumentID))

	inst := &Instrument{
		ID:        params.InstrumentID,
		Type:      "card",
		Brand:     "visa",
		Last4:     "4242",
		IsDefault: params.SetDefault,
	}
	m.mu.Lock()
	m.Instruments[inst.ID] = inst
	m.mu.Unlock()
	return inst, nil
}

// DetachPaymentMethod removes a mock instrument.
func (m *MockProvider) DetachPaymentMethod(ctx context.Context, instrumentID string) error {
	m.record(fmt.Sprintf("DetachPaymentMethod(%s)", instrumentID))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Instruments[instrumentID]; !ok {
		return fmt.Errorf("billing: instrument not found: %s", instrumentID)
	}
	delete(m.Instruments, instrumentID)
	return nil
}

// RefundPayment creates a mock refund.
func (m *MockProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	m.record(fmt.Sprintf("RefundPayment(%s, %d)", params.PaymentIntentID, params.AmountCents))

	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, params)
	}

	return &Refund{
		ID:              "re_" + uuid.New().String()[:8],
		PaymentIntentID: params.PaymentIntentID,
		AmountCents:     params.AmountCents,
		Status:          "succeeded",
		CreatedAt:       time.Now(),
	}, nil
}

// VerifyWebhookSignature verifies a mock webhook signature.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.record("VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	return nil
}

// ConstructWebhookEvent parses a mock webhook event.
func (m *MockProvider) ConstructWebhookEvent(payload []byte, signature string, secret string) (*WebhookEvent, error) {
	m.record("ConstructWebhookEvent")

	if m.ConstructWebhookEventFunc != nil {
		return m.ConstructWebhookEventFunc(payload, signature, secret)
	}
	return nil, ErrInvalidWebhookSignature
}
