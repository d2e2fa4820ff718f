// Package events publishes payment outcome notifications for downstream
// consumers (accounting sync, tenant notifications). Publishing is
// best-effort: a failed publish is logged, never surfaced to the payer.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/domain"
)

// Subjects for payment outcome messages.
const (
	SubjectPaymentSettled  = "payments.settled"
	SubjectPaymentFailed   = "payments.failed"
	SubjectPaymentRefunded = "payments.refunded"
)

// PaymentEvent is the message body published on payment outcome subjects.
type PaymentEvent struct {
	PaymentID        uuid.UUID            `json:"payment_id"`
	UserID           uuid.UUID            `json:"user_id"`
	PropertyID       uuid.UUID            `json:"property_id,omitempty"`
	UnitID           uuid.UUID            `json:"unit_id,omitempty"`
	ExternalIntentID string               `json:"external_intent_id"`
	Status           domain.PaymentStatus `json:"status"`
	AmountCents      int64                `json:"amount_cents"`
	Currency         string               `json:"currency"`
	FailureReason    string               `json:"failure_reason,omitempty"`
	OccurredAt       time.Time            `json:"occurred_at"`
}

// Publisher publishes payment outcome events.
type Publisher interface {
	PublishPaymentEvent(ctx context.Context, subject string, event PaymentEvent) error
}

// SubjectForStatus maps a settled ledger status to its subject. Returns the
// empty string for statuses that do not produce an event.
func SubjectForStatus(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentStatusPaid:
		return SubjectPaymentSettled
	case domain.PaymentStatusFailed:
		return SubjectPaymentFailed
	case domain.PaymentStatusRefunded:
		return SubjectPaymentRefunded
	}
	return ""
}

// FromEntry builds the event payload for a ledger entry.
func FromEntry(entry *domain.PaymentLedgerEntry, occurredAt time.Time) PaymentEvent {
	return PaymentEvent{
		PaymentID:        entry.ID,
		UserID:           entry.UserID,
		PropertyID:       entry.PropertyID,
		UnitID:           entry.UnitID,
		ExternalIntentID: entry.ExternalIntentID,
		Status:           entry.Status,
		AmountCents:      entry.AmountCents,
		Currency:         entry.Currency,
		FailureReason:    entry.FailureReason,
		OccurredAt:       occurredAt,
	}
}

// NoopPublisher discards all events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPaymentEvent(ctx context.Context, subject string, event PaymentEvent) error {
	return nil
}

// RecordingPublisher captures published events for tests.
type RecordingPublisher struct {
	mu        sync.Mutex
	published []PublishedEvent
}

// PublishedEvent is one captured publish call.
type PublishedEvent struct {
	Subject string
	Event   PaymentEvent
}

func (p *RecordingPublisher) PublishPaymentEvent(ctx context.Context, subject string, event PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, PublishedEvent{Subject: subject, Event: event})
	return nil
}

// Published returns a copy of all captured events.
func (p *RecordingPublisher) Published() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.published))
	copy(out, p.published)
	return out
}
