package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lindenhq/linden/internal/domain"
	"github.com/lindenhq/linden/internal/memory"
)

func TestComposeReceipt_OnlyForPaid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		status domain.PaymentStatus
	}{
		{domain.PaymentStatusPending},
		{domain.PaymentStatusRequiresAction},
		{domain.PaymentStatusFailed},
		{domain.PaymentStatusRefunded},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			entry := &domain.PaymentLedgerEntry{
				ID:     uuid.New(),
				Status: tt.status,
			}
			_, err := ComposeReceipt(entry, now)
			assert.ErrorIs(t, err, domain.ErrReceiptNotReady)
		})
	}
}

func TestComposeReceipt_Paid(t *testing.T) {
	now := time.Now()
	paidAt := now.Add(-time.Hour)
	userID := uuid.New()
	propertyID := uuid.New()

	entry := &domain.PaymentLedgerEntry{
		ID:                uuid.New(),
		UserID:            userID,
		PropertyID:        propertyID,
		AmountCents:       125000,
		Currency:          "usd",
		Status:            domain.PaymentStatusPaid,
		PaymentMethodType: domain.PaymentMethodCard,
		InstrumentID:      "pm_card_visa",
		PaidAt:            &paidAt,
		UpdatedAt:         now,
	}

	receipt, err := ComposeReceipt(entry, now)
	require.NoError(t, err)

	assert.Equal(t, entry.ID, receipt.LedgerEntryID)
	assert.Equal(t, userID, receipt.UserID)
	assert.Equal(t, propertyID, receipt.PropertyID)
	assert.Equal(t, int64(125000), receipt.AmountCents)
	assert.True(t, receipt.PaidAt.Equal(paidAt))
	assert.True(t, receipt.IssuedAt.Equal(now))

	assert.True(t, strings.HasPrefix(receipt.ReceiptNumber, "RCPT-"))
	assert.Len(t, receipt.ReceiptNumber, len("RCPT-")+12)
	assert.Equal(t, strings.ToUpper(receipt.ReceiptNumber), receipt.ReceiptNumber)
}

func TestComposeReceipt_StableAcrossCalls(t *testing.T) {
	now := time.Now()
	entry := &domain.PaymentLedgerEntry{
		ID:        uuid.New(),
		Status:    domain.PaymentStatusPaid,
		UpdatedAt: now,
	}

	first, err := ComposeReceipt(entry, now)
	require.NoError(t, err)
	second, err := ComposeReceipt(entry, now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first.ReceiptNumber, second.ReceiptNumber)
}

func TestComposeReceipt_PaidAtFallsBackToUpdatedAt(t *testing.T) {
	now := time.Now()
	updatedAt := now.Add(-time.Minute)
	entry := &domain.PaymentLedgerEntry{
		ID:        uuid.New(),
		Status:    domain.PaymentStatusPaid,
		UpdatedAt: updatedAt,
	}

	receipt, err := ComposeReceipt(entry, now)
	require.NoError(t, err)
	assert.True(t, receipt.PaidAt.Equal(updatedAt))
}

func TestLedgerService_GetReceipt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLedgerStore()
	svc := NewLedgerService(store)
	userID := uuid.New()

	now := time.Now()
	pending := &domain.PaymentLedgerEntry{
		ID:               uuid.New(),
		UserID:           userID,
		AmountCents:      5000,
		Currency:         "usd",
		ExternalIntentID: "pi_1",
		Status:           domain.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.CreateEntry(ctx, pending))

	_, err := svc.GetReceipt(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrReceiptNotReady)

	_, err = store.UpsertByExternalIntentID(ctx, "pi_1", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
	})
	require.NoError(t, err)

	receipt, err := svc.GetReceipt(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, receipt.LedgerEntryID)

	_, err = svc.GetReceipt(ctx, uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
