package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/domain"
)

// LedgerService is the read side of the payment ledger: payment history,
// overdue reporting, and receipts.
type LedgerService interface {
	// GetPayment returns one ledger entry by id.
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentLedgerEntry, error)

	// ListForUser returns the user's payment history, newest first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.PaymentLedgerEntry, error)

	// ListOverdue returns unsettled payments scheduled before asOf.
	ListOverdue(ctx context.Context, asOf time.Time) ([]domain.PaymentLedgerEntry, error)

	// GetReceipt returns the receipt for a settled payment, or
	// domain.ErrReceiptNotReady while the payment has not reached paid.
	GetReceipt(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error)
}

// ledgerService implements LedgerService.
type ledgerService struct {
	store domain.LedgerStore
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(store domain.LedgerStore) LedgerService {
	return &ledgerService{store: store}
}

func (s *ledgerService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentLedgerEntry, error) {
	return s.store.GetEntry(ctx, id)
}

func (s *ledgerService) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.PaymentLedgerEntry, error) {
	return s.store.ListForUser(ctx, userID)
}

func (s *ledgerService) ListOverdue(ctx context.Context, asOf time.Time) ([]domain.PaymentLedgerEntry, error) {
	return s.store.ListOverdue(ctx, asOf)
}

func (s *ledgerService) GetReceipt(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error) {
	entry, err := s.store.GetEntry(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return ComposeReceipt(entry, time.Now())
}
