package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/events"
	"github.com/lindenhq/linden/internal/memory"
)

type chargeFixture struct {
	ledger    *memory.LedgerStore
	provider  *billing.MockProvider
	publisher *events.RecordingPublisher
	svc       ChargeService
}

func newChargeFixture(t *testing.T) *chargeFixture {
	t.Helper()
	ledger := memory.NewLedgerStore()
	provider := billing.NewMockProvider()
	publisher := &events.RecordingPublisher{}
	identities := NewIdentityService(memory.NewIdentityStore(), provider, testLogger())
	return &chargeFixture{
		ledger:    ledger,
		provider:  provider,
		publisher: publisher,
		svc:       NewChargeService(ledger, identities, provider, publisher, testLogger()),
	}
}

func testProfile() domain.CustomerProfile {
	return domain.CustomerProfile{Email: "tenant@example.com", Name: "Pat Tenant"}
}

func TestChargeService_CreateIntent(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	var captured billing.CreatePaymentIntentParams
	f.provider.CreatePaymentIntentFunc = func(ctx context.Context, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
		captured = params
		return &billing.PaymentIntent{
			ID:           "pi_test",
			ClientSecret: "pi_test_secret",
			AmountCents:  params.AmountCents,
			Currency:     params.Currency,
			Status:       billing.IntentStatusRequiresPaymentMethod,
		}, nil
	}

	result, err := f.svc.CreateIntent(ctx, CreateIntentParams{
		UserID:      userID,
		Profile:     testProfile(),
		AmountCents: 125000,
		Currency:    "USD",
		Description: "August rent",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_test_secret", result.ClientSecret)
	assert.Equal(t, domain.PaymentStatusPending, result.Entry.Status)
	assert.Equal(t, "pi_test", result.Entry.ExternalIntentID)
	assert.Equal(t, "usd", result.Entry.Currency, "currency is normalized to lowercase")

	// The entry id doubles as the idempotency key and rides in the metadata
	// so the reconciler can rebuild context from the webhook alone.
	assert.Equal(t, result.Entry.ID.String(), captured.IdempotencyKey)
	assert.Equal(t, result.Entry.ID.String(), captured.Metadata["payment_id"])
	assert.Equal(t, userID.String(), captured.Metadata["user_id"])

	stored, err := f.ledger.GetEntry(ctx, result.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)

	assert.Empty(t, f.publisher.Published(), "pending intents do not publish outcome events")
}

func TestChargeService_CreateIntent_RequiresAction(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)

	// The processor reported the fresh intent as already needing interactive
	// authentication. The row and the response carry that status, not pending.
	f.provider.CreatePaymentIntentFunc = func(ctx context.Context, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
		return &billing.PaymentIntent{
			ID:           "pi_sca",
			ClientSecret: "pi_sca_secret",
			AmountCents:  params.AmountCents,
			Currency:     params.Currency,
			Status:       billing.IntentStatusRequiresAction,
		}, nil
	}

	result, err := f.svc.CreateIntent(ctx, CreateIntentParams{
		UserID:      uuid.New(),
		Profile:     testProfile(),
		AmountCents: 5000,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusRequiresAction, result.Entry.Status)

	stored, err := f.ledger.GetEntry(ctx, result.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRequiresAction, stored.Status)
}

func TestChargeService_CreateIntent_AmountValidation(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)

	tests := []struct {
		name        string
		amountCents int64
	}{
		{"zero", 0},
		{"negative", -500},
		{"below processor minimum", 49},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateIntent(ctx, CreateIntentParams{
				UserID:      uuid.New(),
				Profile:     testProfile(),
				AmountCents: tt.amountCents,
			})
			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func TestChargeService_CreateIntent_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()
	f.provider.CreatePaymentIntentFunc = func(ctx context.Context, params billing.CreatePaymentIntentParams) (*billing.PaymentIntent, error) {
		return nil, errors.New("processor unavailable")
	}

	_, err := f.svc.CreateIntent(ctx, CreateIntentParams{
		UserID:      userID,
		Profile:     testProfile(),
		AmountCents: 5000,
	})
	require.Error(t, err)

	entries, err := f.ledger.ListForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, entries, "no ledger entry without a processor intent")
}

func TestChargeService_ChargeInstrument_Success(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	var captured billing.ConfirmPaymentIntentParams
	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		captured = params
		return &billing.PaymentIntent{
			ID:          "pi_sync",
			AmountCents: params.AmountCents,
			Currency:    params.Currency,
			Status:      billing.IntentStatusSucceeded,
		}, nil
	}

	entry, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       userID,
		Profile:      testProfile(),
		AmountCents:  125000,
		InstrumentID: "pm_card_visa",
		OffSession:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, entry.Status)
	assert.NotNil(t, entry.PaidAt)
	assert.Equal(t, int64(125000), entry.AmountCents)
	assert.Equal(t, "pm_card_visa", entry.InstrumentID)
	assert.True(t, captured.OffSession)
	assert.Equal(t, "pm_card_visa", captured.PaymentMethodID)

	published := f.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.SubjectPaymentSettled, published[0].Subject)
	assert.Equal(t, entry.ID, published[0].Event.PaymentID)
}

func TestChargeService_ChargeInstrument_Declined(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)

	// The processor attached a failed intent to the decline, so the outcome
	// is known and recordable.
	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		return &billing.PaymentIntent{
				ID:          "pi_declined",
				AmountCents: params.AmountCents,
				Currency:    params.Currency,
				Status:      billing.IntentStatusRequiresPaymentMethod,
				LastPaymentError: &billing.PaymentError{
					Code:        "card_declined",
					DeclineCode: "insufficient_funds",
				},
			}, &billing.ProviderError{
				Message:     "Your card has insufficient funds.",
				Code:        "card_declined",
				DeclineCode: "insufficient_funds",
			}
	}

	entry, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       uuid.New(),
		Profile:      testProfile(),
		AmountCents:  5000,
		InstrumentID: "pm_card_declined",
	})
	require.NoError(t, err, "a decline is a recorded outcome, not an error")

	assert.Equal(t, domain.PaymentStatusFailed, entry.Status)
	assert.Equal(t, "insufficient_funds", entry.FailureReason)
	assert.Nil(t, entry.PaidAt)

	published := f.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.SubjectPaymentFailed, published[0].Subject)
}

func TestChargeService_ChargeInstrument_TransportFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	// No intent came back, so the real outcome is unknown. The webhook
	// carries the truth; nothing is written locally.
	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		return nil, &billing.ProviderError{
			Message:    "connection reset",
			Code:       "api_connection_error",
			HTTPStatus: 502,
		}
	}

	_, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       userID,
		Profile:      testProfile(),
		AmountCents:  5000,
		InstrumentID: "pm_card_visa",
	})
	require.Error(t, err)

	entries, lerr := f.ledger.ListForUser(ctx, userID)
	require.NoError(t, lerr)
	assert.Empty(t, entries)
	assert.Empty(t, f.publisher.Published())
}

func TestChargeService_ChargeInstrument_RequiresAction(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)

	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		return &billing.PaymentIntent{
			ID:          "pi_sca",
			AmountCents: params.AmountCents,
			Currency:    params.Currency,
			Status:      billing.IntentStatusRequiresAction,
		}, nil
	}

	entry, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       uuid.New(),
		Profile:      testProfile(),
		AmountCents:  5000,
		InstrumentID: "pm_card_sca",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusRequiresAction, entry.Status)
	assert.Empty(t, f.publisher.Published(), "requires_action is not an outcome")
}

func TestChargeService_ChargeInstrument_RequiresInstrumentID(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.ChargeInstrument(context.Background(), ChargeInstrumentParams{
		UserID:      uuid.New(),
		Profile:     testProfile(),
		AmountCents: 5000,
	})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestChargeService_ChargeInstrument_ConvergesOntoWebhookRow(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	// The success webhook already created the row before the synchronous
	// call returned. The charge path must converge onto it, not duplicate it.
	existing, err := f.ledger.ApplyEvent(ctx, "evt_fast", "pi_fast", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
		Currency:    "usd",
		UserID:      userID,
	})
	require.NoError(t, err)

	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		return &billing.PaymentIntent{
			ID:          "pi_fast",
			AmountCents: params.AmountCents,
			Currency:    params.Currency,
			Status:      billing.IntentStatusSucceeded,
		}, nil
	}

	entry, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       userID,
		Profile:      testProfile(),
		AmountCents:  5000,
		InstrumentID: "pm_card_visa",
	})
	require.NoError(t, err)

	assert.Equal(t, existing.Entry.ID, entry.ID)
	entries, err := f.ledger.ListForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The reconciler performed the transition, so the settled event is its
	// to publish. The converging charge must not publish a second one.
	assert.Empty(t, f.publisher.Published())
}

func TestChargeService_Refund(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		return &billing.PaymentIntent{
			ID:          "pi_paid",
			AmountCents: params.AmountCents,
			Currency:    params.Currency,
			Status:      billing.IntentStatusSucceeded,
		}, nil
	}
	entry, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       userID,
		Profile:      testProfile(),
		AmountCents:  5000,
		InstrumentID: "pm_card_visa",
	})
	require.NoError(t, err)

	refunded, err := f.svc.Refund(ctx, entry.ID, "requested_by_customer")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.PaidAt, "refund keeps the original settlement time")

	published := f.publisher.Published()
	require.Len(t, published, 2)
	assert.Equal(t, events.SubjectPaymentRefunded, published[1].Subject)
}

func TestChargeService_Refund_WebhookWinsTheRace(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	f.provider.ConfirmPaymentIntentFunc = func(ctx context.Context, params billing.ConfirmPaymentIntentParams) (*billing.PaymentIntent, error) {
		return &billing.PaymentIntent{
			ID:          "pi_paid",
			AmountCents: params.AmountCents,
			Currency:    params.Currency,
			Status:      billing.IntentStatusSucceeded,
		}, nil
	}
	entry, err := f.svc.ChargeInstrument(ctx, ChargeInstrumentParams{
		UserID:       userID,
		Profile:      testProfile(),
		AmountCents:  5000,
		InstrumentID: "pm_card_visa",
	})
	require.NoError(t, err)

	// The charge.refunded webhook lands while the refund call is in flight
	// at the processor, after the paid check but before the local write.
	f.provider.RefundPaymentFunc = func(ctx context.Context, params billing.RefundParams) (*billing.Refund, error) {
		_, aerr := f.ledger.ApplyEvent(ctx, "evt_refund", "pi_paid", domain.LedgerPatch{
			Status: domain.PaymentStatusRefunded,
		})
		require.NoError(t, aerr)
		return &billing.Refund{ID: "re_1", PaymentIntentID: params.PaymentIntentID, Status: "succeeded"}, nil
	}

	refunded, err := f.svc.Refund(ctx, entry.ID, "requested_by_customer")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)

	// Only the settled event from the charge: the absorbed refund write must
	// not publish a second refunded event on top of the reconciler's.
	published := f.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.SubjectPaymentSettled, published[0].Subject)
}

func TestChargeService_Refund_RequiresPaidStatus(t *testing.T) {
	ctx := context.Background()
	f := newChargeFixture(t)
	userID := uuid.New()

	result, err := f.svc.CreateIntent(ctx, CreateIntentParams{
		UserID:      userID,
		Profile:     testProfile(),
		AmountCents: 5000,
	})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, result.Entry.ID, "requested_by_customer")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestChargeService_Refund_UnknownPayment(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.Refund(context.Background(), uuid.New(), "duplicate")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
