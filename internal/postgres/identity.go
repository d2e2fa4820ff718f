package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lindenhq/linden/internal/domain"
)

// IdentityStore implements domain.IdentityStore using PostgreSQL.
//
// The unique constraint on user_id is the correctness mechanism for
// concurrent provisioning: the second writer's insert is a no-op and it
// reads back the winner's row.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure IdentityStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore creates a new IdentityStore instance.
func NewIdentityStore(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// GetByUserID returns the identity for a user, or domain.ErrIdentityNotFound.
func (s *IdentityStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.BillingIdentity, error) {
	var identity domain.BillingIdentity
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, external_customer_id, created_at
		FROM billing_identities
		WHERE user_id = $1`,
		userID,
	).Scan(&identity.UserID, &identity.ExternalCustomerID, &identity.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing identity: %w", err)
	}
	return &identity, nil
}

// Create inserts the identity. On a user_id conflict the existing row wins
// and is returned unchanged.
func (s *IdentityStore) Create(ctx context.Context, identity *domain.BillingIdentity) (*domain.BillingIdentity, error) {
	var out domain.BillingIdentity
	err := s.pool.QueryRow(ctx, `
		INSERT INTO billing_identities (user_id, external_customer_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING user_id, external_customer_id, created_at`,
		identity.UserID, identity.ExternalCustomerID, identity.CreatedAt,
	).Scan(&out.UserID, &out.ExternalCustomerID, &out.CreatedAt)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to create billing identity: %w", err)
	}

	// Lost the race: a concurrent provisioner inserted first. Re-read.
	return s.GetByUserID(ctx, identity.UserID)
}
