package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/events"
	"github.com/lindenhq/linden/internal/telemetry"
)

// Reconciler absorbs processor webhook deliveries into the payment ledger.
// It is the asynchronous ledger writer; the processor's report is
// authoritative, so an event for an intent id the synchronous path never
// recorded creates the ledger row itself.
type Reconciler interface {
	// Handle verifies, parses, and absorbs one webhook delivery. A nil
	// error means the delivery is safe to ack; any error means the
	// processor should redeliver.
	Handle(ctx context.Context, payload []byte, signature string) (*HandleResult, error)
}

// HandleResult reports what a webhook delivery did.
type HandleResult struct {
	// EventType is the processor-neutral classification of the event.
	EventType billing.WebhookEventType

	// Ignored is true for event types this system does not consume.
	Ignored bool

	// Duplicate is true for a redelivery of an already-absorbed event.
	Duplicate bool

	// Created is true when the event created the ledger row itself.
	Created bool

	// Entry is the ledger entry after absorption. Nil when Ignored or
	// Duplicate.
	Entry *domain.PaymentLedgerEntry
}

// reconciler implements Reconciler.
type reconciler struct {
	ledger        domain.LedgerStore
	provider      billing.Provider
	publisher     events.Publisher
	webhookSecret string
	logger        *slog.Logger
}

// NewReconciler creates a webhook Reconciler.
func NewReconciler(ledger domain.LedgerStore, provider billing.Provider, publisher events.Publisher, webhookSecret string, logger *slog.Logger) Reconciler {
	return &reconciler{
		ledger:        ledger,
		provider:      provider,
		publisher:     publisher,
		webhookSecret: webhookSecret,
		logger:        logger.With("service", "reconciler"),
	}
}

func (r *reconciler) Handle(ctx context.Context, payload []byte, signature string) (*HandleResult, error) {
	start := time.Now()

	event, err := r.provider.ConstructWebhookEvent(payload, signature, r.webhookSecret)
	if err != nil {
		// Signature failures are not retryable; surface them so the
		// handler rejects with 400 rather than inviting redelivery.
		return nil, domain.WrapError(err, domain.EUNAUTHORIZED, "reconciler.verify", "webhook signature verification failed")
	}

	if event.Type == billing.EventUnknown {
		// Unconsumed event types are acked without touching the ledger,
		// and without a dedup record: there is nothing to protect.
		if telemetry.Payments != nil {
			telemetry.Payments.WebhookIgnored.WithLabelValues(event.RawType).Inc()
		}
		r.logger.Debug("webhook event ignored", "event_id", event.ID, "type", event.RawType)
		return &HandleResult{EventType: billing.EventUnknown, Ignored: true}, nil
	}

	if telemetry.Payments != nil {
		telemetry.Payments.WebhookReceived.WithLabelValues(string(event.Type)).Inc()
	}

	if event.IntentID == "" {
		// A consumable event without an intent id cannot be keyed to a
		// ledger entry. Ack it; redelivery would not help.
		r.logger.Warn("webhook event missing intent id", "event_id", event.ID, "type", event.RawType)
		return &HandleResult{EventType: event.Type, Ignored: true}, nil
	}

	patch := patchFromEvent(event)

	result, err := r.ledger.ApplyEvent(ctx, event.ID, event.IntentID, patch)
	if err != nil {
		if telemetry.Payments != nil {
			telemetry.Payments.WebhookFailed.WithLabelValues(string(event.Type), domain.ErrorCode(err)).Inc()
		}
		return nil, fmt.Errorf("failed to absorb webhook event %s: %w", event.ID, err)
	}

	if telemetry.Payments != nil {
		telemetry.Payments.WebhookLatency.WithLabelValues(string(event.Type)).Observe(time.Since(start).Seconds())
	}

	if result.Duplicate {
		if telemetry.Payments != nil {
			telemetry.Payments.WebhookDuplicate.WithLabelValues(string(event.Type)).Inc()
		}
		r.logger.Info("webhook redelivery acked", "event_id", event.ID, "intent_id", event.IntentID)
		return &HandleResult{EventType: event.Type, Duplicate: true}, nil
	}

	if telemetry.Payments != nil {
		telemetry.Payments.WebhookProcessed.WithLabelValues(string(event.Type)).Inc()
		if result.Created {
			telemetry.Payments.WebhookOrphaned.Inc()
		}
	}

	entry := result.Entry
	if result.Created {
		// The synchronous path never recorded this intent (crashed before
		// the write, or the payment originated elsewhere). The row exists
		// now; flag it for operators because ownership context may be
		// incomplete.
		r.logger.Warn("webhook created orphaned ledger entry",
			"event_id", event.ID,
			"intent_id", event.IntentID,
			"payment_id", entry.ID,
			"status", entry.Status)
	}

	if result.Mutated {
		r.recordSettlement(ctx, entry, event.Type)
	} else {
		r.logger.Info("webhook event absorbed as no-op",
			"event_id", event.ID,
			"intent_id", event.IntentID,
			"ledger_status", entry.Status,
			"event_status", patch.Status)
	}

	return &HandleResult{
		EventType: event.Type,
		Created:   result.Created,
		Entry:     entry,
	}, nil
}

// patchFromEvent maps a verified webhook event onto a ledger transition.
// The metadata echoed back by the processor seeds ownership context when
// the event has to create the row itself.
func patchFromEvent(event *billing.WebhookEvent) domain.LedgerPatch {
	patch := domain.LedgerPatch{
		Currency:          event.Currency,
		PaymentMethodType: domain.PaymentMethodCard,
		UserID:            metadataUUID(event.Metadata, "user_id"),
		PropertyID:        metadataUUID(event.Metadata, "property_id"),
		UnitID:            metadataUUID(event.Metadata, "unit_id"),
	}

	switch event.Type {
	case billing.EventPaymentSucceeded:
		patch.Status = domain.PaymentStatusPaid
		patch.AmountCents = event.AmountCents
		if !event.OccurredAt.IsZero() {
			t := event.OccurredAt
			patch.PaidAt = &t
		}
	case billing.EventPaymentFailed:
		patch.Status = domain.PaymentStatusFailed
		patch.AmountCents = event.AmountCents
		patch.FailureReason = event.FailureReason
	case billing.EventRefundIssued:
		patch.Status = domain.PaymentStatusRefunded
		patch.AmountCents = event.AmountCents
	}

	return patch
}

func metadataUUID(metadata map[string]string, key string) uuid.UUID {
	id, err := uuid.Parse(metadata[key])
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (r *reconciler) recordSettlement(ctx context.Context, entry *domain.PaymentLedgerEntry, eventType billing.WebhookEventType) {
	if telemetry.Payments != nil {
		switch entry.Status {
		case domain.PaymentStatusPaid:
			telemetry.Payments.ChargesSucceeded.WithLabelValues(string(entry.PaymentMethodType)).Inc()
			telemetry.Payments.RevenueCollectedCents.WithLabelValues(entry.Currency).Add(float64(entry.AmountCents))
		case domain.PaymentStatusFailed:
			telemetry.Payments.ChargesFailed.WithLabelValues(string(entry.PaymentMethodType), entry.FailureReason).Inc()
		case domain.PaymentStatusRefunded:
			telemetry.Payments.RefundedCents.WithLabelValues(entry.Currency).Add(float64(entry.AmountCents))
		}
	}

	subject := events.SubjectForStatus(entry.Status)
	if subject == "" {
		return
	}
	if err := r.publisher.PublishPaymentEvent(ctx, subject, events.FromEntry(entry, time.Now())); err != nil {
		r.logger.Error("failed to publish payment event",
			"payment_id", entry.ID,
			"subject", subject,
			"error", err)
	}

	r.logger.Info("webhook settled payment",
		"payment_id", entry.ID,
		"intent_id", entry.ExternalIntentID,
		"status", entry.Status,
		"event_type", eventType)
}
