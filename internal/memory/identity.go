package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/domain"
)

// IdentityStore implements domain.IdentityStore in memory.
type IdentityStore struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]*domain.BillingIdentity
}

// Compile-time check to ensure IdentityStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore creates an empty in-memory identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		byUser: make(map[uuid.UUID]*domain.BillingIdentity),
	}
}

// GetByUserID returns the identity for a user.
func (s *IdentityStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.BillingIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byUser[userID]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

// Create inserts the identity; a concurrent winner's row is returned
// unchanged, matching the database unique-constraint behavior.
func (s *IdentityStore) Create(ctx context.Context, identity *domain.BillingIdentity) (*domain.BillingIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byUser[identity.UserID]; ok {
		cp := *existing
		return &cp, nil
	}

	cp := *identity
	s.byUser[identity.UserID] = &cp
	out := cp
	return &out, nil
}
