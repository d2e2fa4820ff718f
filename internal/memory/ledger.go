// Package memory provides in-memory store implementations mirroring the
// postgres package. They serialize writers per intent id the same way the
// database stores do and are used by service tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/domain"
)

// LedgerStore implements domain.LedgerStore in memory.
type LedgerStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*domain.PaymentLedgerEntry
	byIntent map[string]*domain.PaymentLedgerEntry
	events   map[string]time.Time // dedup log: external event id -> received at
}

// Compile-time check to ensure LedgerStore implements domain.LedgerStore.
var _ domain.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		byID:     make(map[uuid.UUID]*domain.PaymentLedgerEntry),
		byIntent: make(map[string]*domain.PaymentLedgerEntry),
		events:   make(map[string]time.Time),
	}
}

// CreateEntry inserts a new ledger entry.
func (s *LedgerStore) CreateEntry(ctx context.Context, entry *domain.PaymentLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[entry.ID]; exists {
		return domain.Conflict("ledger.create", "entry already exists")
	}
	if entry.ExternalIntentID != "" {
		if _, exists := s.byIntent[entry.ExternalIntentID]; exists {
			return domain.Conflict("ledger.create", "intent id already recorded")
		}
	}

	cp := *entry
	s.byID[cp.ID] = &cp
	if cp.ExternalIntentID != "" {
		s.byIntent[cp.ExternalIntentID] = &cp
	}
	return nil
}

// UpsertByExternalIntentID applies a guarded patch under the store lock,
// creating the entry from the patch when no row exists for the intent id.
func (s *LedgerStore) UpsertByExternalIntentID(ctx context.Context, externalIntentID string, patch domain.LedgerPatch) (*domain.UpsertResult, error) {
	if externalIntentID == "" {
		return nil, domain.ErrIntentIDMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, mutated, created := s.upsertLocked(externalIntentID, patch)
	cp := *entry
	return &domain.UpsertResult{Entry: &cp, Mutated: mutated, Created: created}, nil
}

// ApplyEvent records the webhook dedup marker and applies the patch under
// the same lock, mirroring the single-transaction postgres behavior.
func (s *LedgerStore) ApplyEvent(ctx context.Context, externalEventID, externalIntentID string, patch domain.LedgerPatch) (*domain.EventResult, error) {
	if externalIntentID == "" {
		return nil, domain.ErrIntentIDMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[externalEventID]; seen {
		return &domain.EventResult{Duplicate: true}, nil
	}
	s.events[externalEventID] = time.Now()

	entry, mutated, created := s.upsertLocked(externalIntentID, patch)
	cp := *entry
	return &domain.EventResult{
		Entry:   &cp,
		Mutated: mutated,
		Created: created,
	}, nil
}

func (s *LedgerStore) upsertLocked(externalIntentID string, patch domain.LedgerPatch) (entry *domain.PaymentLedgerEntry, mutated, created bool) {
	now := time.Now()

	entry, exists := s.byIntent[externalIntentID]
	if !exists {
		entry = domain.NewEntryFromPatch(externalIntentID, patch, now)
		s.byID[entry.ID] = entry
		s.byIntent[externalIntentID] = entry
		return entry, true, true
	}

	mutated = domain.ApplyPatch(entry, patch, now)
	return entry, mutated, false
}

// GetEntry returns the entry by local id.
func (s *LedgerStore) GetEntry(ctx context.Context, id uuid.UUID) (*domain.PaymentLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

// ListForUser returns the user's entries, newest first.
func (s *LedgerStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.PaymentLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PaymentLedgerEntry
	for _, entry := range s.byID {
		if entry.UserID == userID {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListOverdue returns unsettled entries scheduled before asOf.
func (s *LedgerStore) ListOverdue(ctx context.Context, asOf time.Time) ([]domain.PaymentLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PaymentLedgerEntry
	for _, entry := range s.byID {
		if entry.Status == domain.PaymentStatusPaid {
			continue
		}
		if entry.Scheduling.ScheduledDate != nil && entry.Scheduling.ScheduledDate.Before(asOf) {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Scheduling.ScheduledDate.Before(*out[j].Scheduling.ScheduledDate)
	})
	return out, nil
}

// EventCount returns the number of recorded webhook event ids.
// Test helper for asserting exactly-once absorption.
func (s *LedgerStore) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
