package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/lindenhq/linden/internal/domain"
)

// ComposeReceipt builds the receipt projection for a settled ledger entry.
// Receipts exist exactly for entries in the paid state; everything else,
// including refunded, returns domain.ErrReceiptNotReady rather than a
// partial view.
func ComposeReceipt(entry *domain.PaymentLedgerEntry, issuedAt time.Time) (*domain.Receipt, error) {
	if entry.Status != domain.PaymentStatusPaid {
		return nil, domain.ErrReceiptNotReady
	}

	paidAt := entry.UpdatedAt
	if entry.PaidAt != nil {
		paidAt = *entry.PaidAt
	}

	return &domain.Receipt{
		LedgerEntryID:     entry.ID,
		ReceiptNumber:     receiptNumber(entry),
		UserID:            entry.UserID,
		PropertyID:        entry.PropertyID,
		UnitID:            entry.UnitID,
		AmountCents:       entry.AmountCents,
		Currency:          entry.Currency,
		PaymentMethodType: entry.PaymentMethodType,
		InstrumentID:      entry.InstrumentID,
		PaidAt:            paidAt,
		IssuedAt:          issuedAt,
	}, nil
}

// receiptNumber derives a stable, human-quotable receipt number from the
// ledger entry id. Deriving rather than storing keeps receipt generation a
// pure read: the same entry always yields the same number.
func receiptNumber(entry *domain.PaymentLedgerEntry) string {
	short := strings.ToUpper(strings.ReplaceAll(entry.ID.String(), "-", ""))[:12]
	return fmt.Sprintf("RCPT-%s", short)
}
