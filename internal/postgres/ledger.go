package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lindenhq/linden/internal/domain"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// LedgerStore implements domain.LedgerStore using PostgreSQL.
//
// Concurrency control is scoped to a single entry's key: every mutation runs
// a transaction that locks the row for the external intent id with
// SELECT ... FOR UPDATE, applies the domain transition guard in Go, and
// writes the result. Two writers racing for the same intent id serialize on
// the row lock; writers for different intent ids never contend.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure LedgerStore implements domain.LedgerStore.
var _ domain.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a new LedgerStore instance.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerColumns = `id, user_id, property_id, unit_id, amount_cents, currency,
	external_intent_id, status, payment_method_type, instrument_id,
	scheduled_date, is_recurring, recurring_interval,
	failure_reason, paid_at, created_at, updated_at`

// CreateEntry inserts a new ledger entry (synchronous charge path).
func (s *LedgerStore) CreateEntry(ctx context.Context, entry *domain.PaymentLedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_ledger_entries (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.ID, entry.UserID, entry.PropertyID, entry.UnitID,
		entry.AmountCents, entry.Currency,
		nullableText(entry.ExternalIntentID), string(entry.Status),
		string(entry.PaymentMethodType), entry.InstrumentID,
		nullableDate(entry.Scheduling.ScheduledDate), entry.Scheduling.IsRecurring,
		entry.Scheduling.RecurringInterval,
		entry.FailureReason, nullableTimestamp(entry.PaidAt),
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Conflict("ledger.create", "intent id already recorded")
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// UpsertByExternalIntentID applies a guarded patch to the entry for the
// intent id, creating it from the patch when absent. A patch the transition
// guard rejects returns the unchanged entry, Mutated false, and no error.
func (s *LedgerStore) UpsertByExternalIntentID(ctx context.Context, externalIntentID string, patch domain.LedgerPatch) (*domain.UpsertResult, error) {
	if externalIntentID == "" {
		return nil, domain.ErrIntentIDMissing
	}

	var result *domain.UpsertResult
	err := s.withIntentLock(ctx, externalIntentID, patch, func(e *domain.PaymentLedgerEntry, mutated, created bool) {
		result = &domain.UpsertResult{Entry: e, Mutated: mutated, Created: created}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyEvent records the webhook dedup marker and applies the patch in one
// transaction. The marker can never commit without the ledger write it
// covers: a crash between the two rolls both back and the processor's
// redelivery starts over.
func (s *LedgerStore) ApplyEvent(ctx context.Context, externalEventID, externalIntentID string, patch domain.LedgerPatch) (*domain.EventResult, error) {
	if externalIntentID == "" {
		return nil, domain.ErrIntentIDMissing
	}

	result := &domain.EventResult{}
	err := s.withRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO webhook_event_records (external_event_id, received_at)
			VALUES ($1, now())
			ON CONFLICT (external_event_id) DO NOTHING`,
			externalEventID,
		)
		if err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			*result = domain.EventResult{Duplicate: true}
			return nil
		}

		entry, mutated, created, err := s.upsertInTx(ctx, tx, externalIntentID, patch)
		if err != nil {
			return err
		}
		*result = domain.EventResult{Entry: entry, Mutated: mutated, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withIntentLock runs the guarded upsert in its own transaction.
func (s *LedgerStore) withIntentLock(ctx context.Context, externalIntentID string, patch domain.LedgerPatch, fn func(entry *domain.PaymentLedgerEntry, mutated, created bool)) error {
	return s.withRetry(ctx, func(tx pgx.Tx) error {
		entry, mutated, created, err := s.upsertInTx(ctx, tx, externalIntentID, patch)
		if err != nil {
			return err
		}
		fn(entry, mutated, created)
		return nil
	})
}

// withRetry runs fn in a transaction, retrying once on a unique violation.
// Two writers can both find no row for a new intent id and race to insert;
// the loser's retry finds the winner's row and takes the locked path.
func (s *LedgerStore) withRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := pgx.BeginFunc(ctx, s.pool, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("ledger upsert did not converge: %w", lastErr)
}

// upsertInTx locks the entry row and applies the domain transition guard.
func (s *LedgerStore) upsertInTx(ctx context.Context, tx pgx.Tx, externalIntentID string, patch domain.LedgerPatch) (entry *domain.PaymentLedgerEntry, mutated, created bool, err error) {
	now := time.Now()

	row := tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM payment_ledger_entries
		WHERE external_intent_id = $1
		FOR UPDATE`,
		externalIntentID,
	)
	entry, err = scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		entry = domain.NewEntryFromPatch(externalIntentID, patch, now)
		if err := s.insertInTx(ctx, tx, entry); err != nil {
			return nil, false, false, err
		}
		return entry, true, true, nil
	}
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to lock ledger entry: %w", err)
	}

	if !domain.ApplyPatch(entry, patch, now) {
		return entry, false, false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE payment_ledger_entries
		SET status = $2, amount_cents = $3, failure_reason = $4, paid_at = $5, updated_at = $6
		WHERE id = $1`,
		entry.ID, string(entry.Status), entry.AmountCents, entry.FailureReason,
		nullableTimestamp(entry.PaidAt), entry.UpdatedAt,
	)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to update ledger entry: %w", err)
	}
	return entry, true, false, nil
}

func (s *LedgerStore) insertInTx(ctx context.Context, tx pgx.Tx, entry *domain.PaymentLedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_ledger_entries (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.ID, entry.UserID, entry.PropertyID, entry.UnitID,
		entry.AmountCents, entry.Currency,
		nullableText(entry.ExternalIntentID), string(entry.Status),
		string(entry.PaymentMethodType), entry.InstrumentID,
		nullableDate(entry.Scheduling.ScheduledDate), entry.Scheduling.IsRecurring,
		entry.Scheduling.RecurringInterval,
		entry.FailureReason, nullableTimestamp(entry.PaidAt),
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// GetEntry returns the entry by local id.
func (s *LedgerStore) GetEntry(ctx context.Context, id uuid.UUID) (*domain.PaymentLedgerEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM payment_ledger_entries
		WHERE id = $1`,
		id,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// ListForUser returns all entries owned by the user, newest first.
func (s *LedgerStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.PaymentLedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM payment_ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ListOverdue returns unsettled entries scheduled before asOf.
func (s *LedgerStore) ListOverdue(ctx context.Context, asOf time.Time) ([]domain.PaymentLedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM payment_ledger_entries
		WHERE scheduled_date IS NOT NULL
		  AND scheduled_date < $1
		  AND status <> $2
		ORDER BY scheduled_date ASC`,
		asOf, string(domain.PaymentStatusPaid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// PruneEventRecords deletes dedup markers older than the retention window.
// The transition guard is the real correctness mechanism, so pruning is
// safe at any cadence.
func (s *LedgerStore) PruneEventRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_event_records WHERE received_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook event records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectEntries(rows pgx.Rows) ([]domain.PaymentLedgerEntry, error) {
	var out []domain.PaymentLedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*domain.PaymentLedgerEntry, error) {
	var (
		e             domain.PaymentLedgerEntry
		status        string
		methodType    string
		intentID      pgtype.Text
		scheduledDate pgtype.Date
		paidAt        pgtype.Timestamptz
	)

	err := row.Scan(
		&e.ID, &e.UserID, &e.PropertyID, &e.UnitID, &e.AmountCents, &e.Currency,
		&intentID, &status, &methodType, &e.InstrumentID,
		&scheduledDate, &e.Scheduling.IsRecurring, &e.Scheduling.RecurringInterval,
		&e.FailureReason, &paidAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.PaymentStatus(status)
	e.PaymentMethodType = domain.PaymentMethodType(methodType)
	if intentID.Valid {
		e.ExternalIntentID = intentID.String
	}
	if scheduledDate.Valid {
		t := scheduledDate.Time
		e.Scheduling.ScheduledDate = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		e.PaidAt = &t
	}
	return &e, nil
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullableDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func nullableTimestamp(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
