package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PAYMENT LEDGER DOMAIN TYPES
// =============================================================================

// PaymentStatus represents the lifecycle state of a payment ledger entry.
//
// The state machine only moves forward:
//
//	pending         -> requires_action | paid | failed
//	requires_action -> paid | failed
//	paid            -> refunded
//	failed          (terminal)
//	refunded        (terminal)
//
// Both the synchronous charge path and the webhook reconciler apply
// transitions through the same guard (ApplyPatch), which is what lets the
// two writers race safely for the same intent id.
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRefunded       PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusRequiresAction,
		PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing edges other than paid->refunded.
// A terminal status is never regressed by any writer.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Same-status "transitions" are not permitted moves; the
// caller treats them as idempotent no-ops.
func CanTransition(from, to PaymentStatus) bool {
	switch from {
	case PaymentStatusPending:
		return to == PaymentStatusRequiresAction || to == PaymentStatusPaid || to == PaymentStatusFailed
	case PaymentStatusRequiresAction:
		return to == PaymentStatusPaid || to == PaymentStatusFailed
	case PaymentStatusPaid:
		return to == PaymentStatusRefunded
	}
	return false
}

// PaymentMethodType identifies the kind of instrument behind a payment.
type PaymentMethodType string

const (
	PaymentMethodCard         PaymentMethodType = "card"
	PaymentMethodBankTransfer PaymentMethodType = "bank_transfer"
)

// Scheduling carries optional rent-scheduling context for a payment.
// It is informational only and never affects the state machine.
type Scheduling struct {
	ScheduledDate     *time.Time
	IsRecurring       bool
	RecurringInterval string // "monthly", "weekly" - empty unless IsRecurring
}

// PaymentLedgerEntry is the authoritative local record of one payment
// attempt. Exactly one entry exists per external intent id once assigned;
// the entry is the join point between the synchronous charge path and the
// asynchronous webhook reconciler.
type PaymentLedgerEntry struct {
	ID uuid.UUID

	// Ownership context, immutable after creation.
	UserID     uuid.UUID
	PropertyID uuid.UUID
	UnitID     uuid.UUID

	// AmountCents is in minor currency units (cents for USD).
	AmountCents int64
	Currency    string

	// ExternalIntentID is the processor's intent identifier. Empty only for
	// the brief window before the processor call returns.
	ExternalIntentID string

	Status            PaymentStatus
	PaymentMethodType PaymentMethodType
	InstrumentID      string // processor instrument id, empty for card-entry flows

	Scheduling Scheduling

	FailureReason string
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LedgerPatch describes a single status transition to apply to a ledger
// entry. When the patch targets an intent id with no existing entry, the
// context fields seed the new row (the processor is authoritative even when
// the local synchronous write never completed).
type LedgerPatch struct {
	Status        PaymentStatus
	PaidAt        *time.Time
	FailureReason string

	// AmountCents, when positive, records the amount actually captured.
	// Only applied when the patch creates the entry or moves it to paid.
	AmountCents int64

	// Context for entry creation on an unknown intent id.
	UserID            uuid.UUID
	PropertyID        uuid.UUID
	UnitID            uuid.UUID
	Currency          string
	PaymentMethodType PaymentMethodType
	InstrumentID      string
}

// ApplyPatch applies the transition guard shared by every ledger writer:
// the patch takes effect only if the state machine permits the move from the
// entry's current status. Anything else - duplicate deliveries, a FAILED
// event chasing a synchronous PAID, any write against a terminal state - is
// a no-op, not an error. Returns true if the entry was mutated.
func ApplyPatch(e *PaymentLedgerEntry, p LedgerPatch, now time.Time) bool {
	if !CanTransition(e.Status, p.Status) {
		return false
	}

	e.Status = p.Status
	e.UpdatedAt = now

	switch p.Status {
	case PaymentStatusPaid:
		if p.PaidAt != nil {
			e.PaidAt = p.PaidAt
		} else {
			t := now
			e.PaidAt = &t
		}
		if p.AmountCents > 0 {
			e.AmountCents = p.AmountCents
		}
	case PaymentStatusFailed:
		e.FailureReason = p.FailureReason
	}

	return true
}

// NewEntryFromPatch builds a ledger entry directly from a webhook patch for
// an intent id this system has no row for yet. The reported status is taken
// as-is: the processor owns the truth about the payment's outcome.
func NewEntryFromPatch(externalIntentID string, p LedgerPatch, now time.Time) *PaymentLedgerEntry {
	e := &PaymentLedgerEntry{
		ID:                uuid.New(),
		UserID:            p.UserID,
		PropertyID:        p.PropertyID,
		UnitID:            p.UnitID,
		AmountCents:       p.AmountCents,
		Currency:          p.Currency,
		ExternalIntentID:  externalIntentID,
		Status:            p.Status,
		PaymentMethodType: p.PaymentMethodType,
		InstrumentID:      p.InstrumentID,
		FailureReason:     p.FailureReason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.Status == PaymentStatusPaid {
		if p.PaidAt != nil {
			e.PaidAt = p.PaidAt
		} else {
			t := now
			e.PaidAt = &t
		}
	}
	return e
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Common ledger errors as pre-defined instances for consistency.
var (
	// ErrEntryNotFound indicates no ledger entry exists for the identifier.
	ErrEntryNotFound = &Error{
		Code:    ENOTFOUND,
		Message: "payment not found",
	}

	// ErrIntentIDMissing indicates an upsert was attempted without an intent id.
	ErrIntentIDMissing = &Error{
		Code:    EINVALID,
		Message: "external intent id is required",
	}
)

// UpsertResult reports what a guarded upsert did to the ledger. Callers use
// Mutated to decide whether a transition actually happened, so metrics and
// outcome events fire once per transition even when two writers race.
type UpsertResult struct {
	// Entry is the ledger entry after the patch was applied or absorbed.
	Entry *PaymentLedgerEntry

	// Mutated is true when the entry changed state. False when the
	// transition guard absorbed the patch as a no-op.
	Mutated bool

	// Created is true when the patch produced the entry itself.
	Created bool
}

// EventResult reports what a webhook event delivery did to the ledger.
type EventResult struct {
	// Entry is the ledger entry after the event was absorbed. Nil when the
	// delivery was a duplicate.
	Entry *PaymentLedgerEntry

	// Duplicate is true when the event id was already recorded; nothing was
	// written and the delivery is safe to ack.
	Duplicate bool

	// Mutated is true when the entry actually changed state. False for a
	// first-delivery event that the transition guard absorbed as a no-op.
	Mutated bool

	// Created is true when the event produced the entry itself (webhook for
	// an intent id the synchronous path never recorded).
	Created bool
}

// LedgerStore is the persistence boundary for payment ledger entries.
//
// UpsertByExternalIntentID and ApplyEvent are the only mutation primitives
// after creation, and both must be atomic with respect to concurrent callers
// targeting the same intent id.
type LedgerStore interface {
	// CreateEntry inserts a new entry (synchronous charge path).
	CreateEntry(ctx context.Context, entry *PaymentLedgerEntry) error

	// UpsertByExternalIntentID applies a guarded patch to the entry for the
	// given intent id, creating the entry from the patch if none exists.
	// A patch the guard rejects returns the unchanged entry, Mutated false,
	// and no error.
	UpsertByExternalIntentID(ctx context.Context, externalIntentID string, patch LedgerPatch) (*UpsertResult, error)

	// ApplyEvent is UpsertByExternalIntentID fused with webhook
	// deduplication: the dedup marker for externalEventID commits in the
	// same transaction as the ledger write, never before it.
	ApplyEvent(ctx context.Context, externalEventID, externalIntentID string, patch LedgerPatch) (*EventResult, error)

	// GetEntry returns the entry by local id.
	GetEntry(ctx context.Context, id uuid.UUID) (*PaymentLedgerEntry, error)

	// ListForUser returns all entries owned by the user, newest first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]PaymentLedgerEntry, error)

	// ListOverdue returns unsettled entries scheduled before asOf.
	ListOverdue(ctx context.Context, asOf time.Time) ([]PaymentLedgerEntry, error)
}
