package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lindenhq/linden/internal/domain"
)

func pendingEntry(intentID string, userID uuid.UUID) *domain.PaymentLedgerEntry {
	now := time.Now()
	return &domain.PaymentLedgerEntry{
		ID:                uuid.New(),
		UserID:            userID,
		AmountCents:       5000,
		Currency:          "usd",
		ExternalIntentID:  intentID,
		Status:            domain.PaymentStatusPending,
		PaymentMethodType: domain.PaymentMethodCard,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestLedgerStore_CreateEntry_DuplicateIntent(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()

	require.NoError(t, store.CreateEntry(ctx, pendingEntry("pi_1", userID)))

	err := store.CreateEntry(ctx, pendingEntry("pi_1", userID))
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

// Scenario: intent created pending, then the success webhook settles it.
func TestLedgerStore_IntentThenWebhook(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()

	entry := pendingEntry("pi_1", userID)
	require.NoError(t, store.CreateEntry(ctx, entry))

	result, err := store.ApplyEvent(ctx, "evt_1", "pi_1", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
	})
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.True(t, result.Mutated)
	assert.False(t, result.Created)
	assert.Equal(t, domain.PaymentStatusPaid, result.Entry.Status)
	assert.NotNil(t, result.Entry.PaidAt)
	assert.Equal(t, entry.ID, result.Entry.ID, "webhook must settle the existing row, not create one")
}

// Scenario: synchronous PAID already recorded, late FAILED webhook is a no-op.
func TestLedgerStore_LateFailedWebhookIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()

	require.NoError(t, store.CreateEntry(ctx, pendingEntry("pi_1", userID)))

	paid, err := store.UpsertByExternalIntentID(ctx, "pi_1", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
	})
	require.NoError(t, err)
	require.True(t, paid.Mutated)
	require.Equal(t, domain.PaymentStatusPaid, paid.Entry.Status)

	result, err := store.ApplyEvent(ctx, "evt_1", "pi_1", domain.LedgerPatch{
		Status:        domain.PaymentStatusFailed,
		FailureReason: "card_declined",
	})
	require.NoError(t, err)

	assert.False(t, result.Duplicate, "first delivery is not a duplicate")
	assert.False(t, result.Mutated, "terminal guard must absorb the event")
	assert.Equal(t, domain.PaymentStatusPaid, result.Entry.Status)
	assert.Empty(t, result.Entry.FailureReason)
}

// Scenario: webhook for an intent id with no local row creates the row.
func TestLedgerStore_WebhookCreatesOrphanRow(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()

	result, err := store.ApplyEvent(ctx, "evt_1", "pi_unknown", domain.LedgerPatch{
		Status:            domain.PaymentStatusPaid,
		AmountCents:       7500,
		Currency:          "usd",
		UserID:            userID,
		PaymentMethodType: domain.PaymentMethodCard,
	})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.True(t, result.Mutated)
	require.NotNil(t, result.Entry)
	assert.Equal(t, domain.PaymentStatusPaid, result.Entry.Status)
	assert.Equal(t, int64(7500), result.Entry.AmountCents)

	// The row is now the convergence point for the synchronous writer, whose
	// own paid patch is absorbed as a no-op.
	converged, err := store.UpsertByExternalIntentID(ctx, "pi_unknown", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 7500,
	})
	require.NoError(t, err)
	assert.Equal(t, result.Entry.ID, converged.Entry.ID)
	assert.False(t, converged.Mutated)
	assert.False(t, converged.Created)
}

// Scenario: the same event delivered twice is acked once, recorded once.
func TestLedgerStore_DuplicateEventAckedWithoutEffect(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()

	first, err := store.ApplyEvent(ctx, "evt_1", "pi_1", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
	})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := store.ApplyEvent(ctx, "evt_1", "pi_1", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
	})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Entry)
	assert.Equal(t, 1, store.EventCount(), "dedup log must have exactly one row")
}

func TestLedgerStore_ConcurrentWritersConverge(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()

	// Both writers race to settle the same fresh intent id: the sync path
	// upserting PAID and the reconciler absorbing the success event.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := store.UpsertByExternalIntentID(ctx, "pi_race", domain.LedgerPatch{
				Status:      domain.PaymentStatusPaid,
				AmountCents: 5000,
				UserID:      userID,
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := store.ApplyEvent(ctx, "evt_race", "pi_race", domain.LedgerPatch{
				Status:      domain.PaymentStatusPaid,
				AmountCents: 5000,
				UserID:      userID,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "racing writers must converge on one row")
	assert.Equal(t, domain.PaymentStatusPaid, entries[0].Status)
}

func TestLedgerStore_GetEntry_NotFound(t *testing.T) {
	store := NewLedgerStore()
	_, err := store.GetEntry(context.Background(), uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestLedgerStore_ListForUser_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()

	older := pendingEntry("pi_old", userID)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := pendingEntry("pi_new", userID)

	require.NoError(t, store.CreateEntry(ctx, older))
	require.NoError(t, store.CreateEntry(ctx, newer))
	require.NoError(t, store.CreateEntry(ctx, pendingEntry("pi_other", uuid.New())))

	entries, err := store.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pi_new", entries[0].ExternalIntentID)
	assert.Equal(t, "pi_old", entries[1].ExternalIntentID)
}

func TestLedgerStore_ListOverdue(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	userID := uuid.New()
	asOf := time.Now()

	pastDue := pendingEntry("pi_due", userID)
	due := asOf.Add(-48 * time.Hour)
	pastDue.Scheduling.ScheduledDate = &due
	require.NoError(t, store.CreateEntry(ctx, pastDue))

	paidOnTime := pendingEntry("pi_paid", userID)
	paidOnTime.Scheduling.ScheduledDate = &due
	require.NoError(t, store.CreateEntry(ctx, paidOnTime))
	_, err := store.UpsertByExternalIntentID(ctx, "pi_paid", domain.LedgerPatch{
		Status:      domain.PaymentStatusPaid,
		AmountCents: 5000,
	})
	require.NoError(t, err)

	future := pendingEntry("pi_future", userID)
	futureDate := asOf.Add(24 * time.Hour)
	future.Scheduling.ScheduledDate = &futureDate
	require.NoError(t, store.CreateEntry(ctx, future))

	unscheduled := pendingEntry("pi_unscheduled", userID)
	require.NoError(t, store.CreateEntry(ctx, unscheduled))

	overdue, err := store.ListOverdue(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "pi_due", overdue[0].ExternalIntentID)
}
