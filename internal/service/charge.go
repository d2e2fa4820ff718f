package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/events"
	"github.com/lindenhq/linden/internal/telemetry"
)

// minChargeCents is the processor's minimum chargeable amount (USD).
const minChargeCents = 50

// ChargeService owns the two write paths into the payment ledger that start
// locally: the card-entry flow (create an intent, let the frontend confirm
// it) and the stored-instrument flow (create and confirm in one synchronous
// round-trip). It is one of the two ledger writers; the other is the
// webhook Reconciler.
type ChargeService interface {
	// CreateIntent starts a card-entry payment: a pending ledger entry plus
	// an unconfirmed processor intent whose client secret the frontend uses
	// to collect card details. The outcome arrives later via webhook.
	CreateIntent(ctx context.Context, params CreateIntentParams) (*IntentResult, error)

	// ChargeInstrument charges a stored instrument synchronously and records
	// the outcome. A processor decline is a recorded business outcome, not
	// an error: the returned entry carries the failed status and reason.
	ChargeInstrument(ctx context.Context, params ChargeInstrumentParams) (*domain.PaymentLedgerEntry, error)

	// Refund refunds a settled payment and records the refunded state.
	// Idempotent against the charge.refunded webhook that follows.
	Refund(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.PaymentLedgerEntry, error)
}

// CreateIntentParams contains parameters for the card-entry flow.
type CreateIntentParams struct {
	UserID      uuid.UUID
	Profile     domain.CustomerProfile
	PropertyID  uuid.UUID
	UnitID      uuid.UUID
	AmountCents int64
	Currency    string
	Description string
	Scheduling  domain.Scheduling
}

// IntentResult is the card-entry flow response: the pending ledger entry
// and the client secret the frontend needs to confirm the intent.
type IntentResult struct {
	Entry        *domain.PaymentLedgerEntry
	ClientSecret string
}

// ChargeInstrumentParams contains parameters for the stored-instrument flow.
type ChargeInstrumentParams struct {
	UserID       uuid.UUID
	Profile      domain.CustomerProfile
	PropertyID   uuid.UUID
	UnitID       uuid.UUID
	AmountCents  int64
	Currency     string
	InstrumentID string
	MethodType   domain.PaymentMethodType
	Description  string
	Scheduling   domain.Scheduling

	// OffSession marks scheduler-initiated charges where no payer is
	// present to complete interactive authentication.
	OffSession bool
}

// chargeService implements ChargeService.
type chargeService struct {
	ledger     domain.LedgerStore
	identities IdentityService
	provider   billing.Provider
	publisher  events.Publisher
	logger     *slog.Logger
}

// NewChargeService creates a ChargeService.
func NewChargeService(ledger domain.LedgerStore, identities IdentityService, provider billing.Provider, publisher events.Publisher, logger *slog.Logger) ChargeService {
	return &chargeService{
		ledger:     ledger,
		identities: identities,
		provider:   provider,
		publisher:  publisher,
		logger:     logger.With("service", "charge"),
	}
}

func (s *chargeService) CreateIntent(ctx context.Context, params CreateIntentParams) (*IntentResult, error) {
	if err := validateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	currency := normalizeCurrency(params.Currency)

	identity, err := s.identities.GetOrCreate(ctx, params.UserID, params.Profile)
	if err != nil {
		return nil, err
	}

	// The entry id doubles as the processor idempotency key, so a client
	// retry of this call cannot mint a second intent for the same attempt.
	entryID := uuid.New()

	intent, err := s.provider.CreatePaymentIntent(ctx, billing.CreatePaymentIntentParams{
		AmountCents:    params.AmountCents,
		Currency:       currency,
		CustomerID:     identity.ExternalCustomerID,
		Description:    params.Description,
		Metadata:       s.intentMetadata(entryID, params.UserID, params.PropertyID, params.UnitID),
		IdempotencyKey: entryID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	// A fresh intent is normally awaiting confirmation; the processor can
	// also report it already needing interactive authentication. Either way
	// the row stores what the processor said and the response surfaces it.
	status := domain.PaymentStatusPending
	if intent.Status == billing.IntentStatusRequiresAction {
		status = domain.PaymentStatusRequiresAction
	}

	now := time.Now()
	entry := &domain.PaymentLedgerEntry{
		ID:                entryID,
		UserID:            params.UserID,
		PropertyID:        params.PropertyID,
		UnitID:            params.UnitID,
		AmountCents:       params.AmountCents,
		Currency:          currency,
		ExternalIntentID:  intent.ID,
		Status:            status,
		PaymentMethodType: domain.PaymentMethodCard,
		Scheduling:        params.Scheduling,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.ledger.CreateEntry(ctx, entry); err != nil {
		// The processor intent exists but the local row does not. The
		// webhook reconciler will create the row from the intent metadata
		// when the outcome arrives, so surface the error without retrying.
		s.logger.Error("ledger write failed after intent creation",
			"intent_id", intent.ID,
			"payment_id", entryID,
			"error", err)
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	if telemetry.Payments != nil {
		telemetry.Payments.IntentsCreated.WithLabelValues(string(domain.PaymentMethodCard)).Inc()
	}

	s.logger.Info("payment intent created",
		"payment_id", entryID,
		"intent_id", intent.ID,
		"user_id", params.UserID,
		"amount_cents", params.AmountCents)

	return &IntentResult{Entry: entry, ClientSecret: intent.ClientSecret}, nil
}

func (s *chargeService) ChargeInstrument(ctx context.Context, params ChargeInstrumentParams) (*domain.PaymentLedgerEntry, error) {
	if err := validateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	if params.InstrumentID == "" {
		return nil, domain.Invalid("charge.instrument", "instrument id is required")
	}
	currency := normalizeCurrency(params.Currency)
	methodType := params.MethodType
	if methodType == "" {
		methodType = domain.PaymentMethodCard
	}

	identity, err := s.identities.GetOrCreate(ctx, params.UserID, params.Profile)
	if err != nil {
		return nil, err
	}

	entryID := uuid.New()

	intent, err := s.provider.ConfirmPaymentIntent(ctx, billing.ConfirmPaymentIntentParams{
		AmountCents:     params.AmountCents,
		Currency:        currency,
		CustomerID:      identity.ExternalCustomerID,
		PaymentMethodID: params.InstrumentID,
		Description:     params.Description,
		Metadata:        s.intentMetadata(entryID, params.UserID, params.PropertyID, params.UnitID),
		IdempotencyKey:  entryID.String(),
		OffSession:      params.OffSession,
	})
	if err != nil && (intent == nil || !billing.IsDeclined(err)) {
		// No intent to key a ledger row by, or a transport failure whose
		// real outcome is unknown. The webhook carries the truth either
		// way; record nothing and let reconciliation settle it.
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	patch := patchFromIntent(intent, params, currency, methodType)

	// Upsert rather than insert: the processor's webhook can land before
	// this call returns, in which case the reconciler already created the
	// row and this write converges onto it.
	res, upsertErr := s.ledger.UpsertByExternalIntentID(ctx, intent.ID, patch)
	if upsertErr != nil {
		return nil, fmt.Errorf("failed to record charge outcome: %w", upsertErr)
	}
	entry := res.Entry

	// Outcome metrics and events fire only when this write performed the
	// transition. If the webhook won the race the reconciler already did.
	if res.Mutated || res.Created {
		s.recordOutcome(ctx, entry, methodType)
	}

	s.logger.Info("instrument charge settled",
		"payment_id", entry.ID,
		"intent_id", intent.ID,
		"user_id", params.UserID,
		"status", entry.Status,
		"amount_cents", entry.AmountCents)

	return entry, nil
}

func (s *chargeService) Refund(ctx context.Context, paymentID uuid.UUID, reason string) (*domain.PaymentLedgerEntry, error) {
	entry, err := s.ledger.GetEntry(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if entry.Status != domain.PaymentStatusPaid {
		return nil, domain.Conflict("charge.refund", "only settled payments can be refunded")
	}

	if _, err := s.provider.RefundPayment(ctx, billing.RefundParams{
		PaymentIntentID: entry.ExternalIntentID,
		Reason:          reason,
		Metadata:        map[string]string{"payment_id": entry.ID.String()},
	}); err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}

	res, err := s.ledger.UpsertByExternalIntentID(ctx, entry.ExternalIntentID, domain.LedgerPatch{
		Status: domain.PaymentStatusRefunded,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	updated := res.Entry

	// The charge.refunded webhook can win the race between the status check
	// above and this write. The guard absorbed the patch in that case and the
	// reconciler already counted and published the refund.
	if res.Mutated {
		if telemetry.Payments != nil {
			telemetry.Payments.RefundedCents.WithLabelValues(updated.Currency).Add(float64(updated.AmountCents))
		}
		s.publish(ctx, updated)
	}

	s.logger.Info("payment refunded",
		"payment_id", updated.ID,
		"intent_id", updated.ExternalIntentID,
		"reason", reason)

	return updated, nil
}

// patchFromIntent maps the processor's intent state onto a ledger
// transition, carrying full creation context in case the row does not
// exist yet.
func patchFromIntent(intent *billing.PaymentIntent, params ChargeInstrumentParams, currency string, methodType domain.PaymentMethodType) domain.LedgerPatch {
	patch := domain.LedgerPatch{
		UserID:            params.UserID,
		PropertyID:        params.PropertyID,
		UnitID:            params.UnitID,
		Currency:          currency,
		PaymentMethodType: methodType,
		InstrumentID:      params.InstrumentID,
	}

	switch intent.Status {
	case billing.IntentStatusSucceeded:
		patch.Status = domain.PaymentStatusPaid
		patch.AmountCents = intent.AmountCents
	case billing.IntentStatusRequiresAction:
		patch.Status = domain.PaymentStatusRequiresAction
		patch.AmountCents = params.AmountCents
	case billing.IntentStatusProcessing:
		patch.Status = domain.PaymentStatusPending
		patch.AmountCents = params.AmountCents
	default:
		patch.Status = domain.PaymentStatusFailed
		patch.AmountCents = params.AmountCents
		patch.FailureReason = intent.LastPaymentError.Reason()
		if patch.FailureReason == "" {
			patch.FailureReason = intent.Status
		}
	}

	return patch
}

func (s *chargeService) recordOutcome(ctx context.Context, entry *domain.PaymentLedgerEntry, methodType domain.PaymentMethodType) {
	switch entry.Status {
	case domain.PaymentStatusPaid:
		if telemetry.Payments != nil {
			telemetry.Payments.ChargesSucceeded.WithLabelValues(string(methodType)).Inc()
			telemetry.Payments.RevenueCollectedCents.WithLabelValues(entry.Currency).Add(float64(entry.AmountCents))
		}
		s.publish(ctx, entry)
	case domain.PaymentStatusFailed:
		if telemetry.Payments != nil {
			telemetry.Payments.ChargesFailed.WithLabelValues(string(methodType), entry.FailureReason).Inc()
		}
		s.publish(ctx, entry)
	}
}

// publish sends the outcome event. Best-effort: a broker outage never
// fails a payment that already settled.
func (s *chargeService) publish(ctx context.Context, entry *domain.PaymentLedgerEntry) {
	subject := events.SubjectForStatus(entry.Status)
	if subject == "" {
		return
	}
	if err := s.publisher.PublishPaymentEvent(ctx, subject, events.FromEntry(entry, time.Now())); err != nil {
		s.logger.Error("failed to publish payment event",
			"payment_id", entry.ID,
			"subject", subject,
			"error", err)
	}
}

func (s *chargeService) intentMetadata(paymentID, userID, propertyID, unitID uuid.UUID) map[string]string {
	md := map[string]string{
		"payment_id": paymentID.String(),
		"user_id":    userID.String(),
	}
	if propertyID != uuid.Nil {
		md["property_id"] = propertyID.String()
	}
	if unitID != uuid.Nil {
		md["unit_id"] = unitID.String()
	}
	return md
}

func validateAmount(amountCents int64) error {
	if amountCents <= 0 {
		return domain.Invalid("charge.amount", "amount must be positive")
	}
	if amountCents < minChargeCents {
		return domain.WrapError(billing.ErrAmountTooSmall, domain.EINVALID, "charge.amount", "amount is below the processor minimum")
	}
	return nil
}

func normalizeCurrency(currency string) string {
	if currency == "" {
		return "usd"
	}
	return strings.ToLower(currency)
}
