package domain

import (
	"time"

	"github.com/google/uuid"
)

// Receipt is a read-only projection of a settled ledger entry, consumed by
// the reporting and dashboard collaborators. It exists only for entries in
// the paid state; composing one from anything else is an error, never a
// partial view.
type Receipt struct {
	LedgerEntryID     uuid.UUID
	ReceiptNumber     string
	UserID            uuid.UUID
	PropertyID        uuid.UUID
	UnitID            uuid.UUID
	AmountCents       int64
	Currency          string
	PaymentMethodType PaymentMethodType
	InstrumentID      string
	PaidAt            time.Time
	IssuedAt          time.Time
}

// ErrReceiptNotReady indicates the underlying payment has not settled yet
// (or settled unsuccessfully), so no receipt can exist for it.
var ErrReceiptNotReady = &Error{
	Code:    ECONFLICT,
	Message: "receipt not yet available: payment has not settled",
}
