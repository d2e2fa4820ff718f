package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
)

// IdentityService provisions and looks up billing identities: the mapping
// from an internal user to the processor-side customer record.
type IdentityService interface {
	// GetOrCreate returns the user's billing identity, provisioning the
	// processor customer on first use. Safe to call concurrently for the
	// same user; exactly one identity survives.
	GetOrCreate(ctx context.Context, userID uuid.UUID, profile domain.CustomerProfile) (*domain.BillingIdentity, error)

	// Lookup returns the existing identity or domain.ErrIdentityNotFound.
	Lookup(ctx context.Context, userID uuid.UUID) (*domain.BillingIdentity, error)
}

// identityService implements IdentityService.
type identityService struct {
	store    domain.IdentityStore
	provider billing.Provider
	logger   *slog.Logger
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(store domain.IdentityStore, provider billing.Provider, logger *slog.Logger) IdentityService {
	return &identityService{
		store:    store,
		provider: provider,
		logger:   logger.With("service", "identity"),
	}
}

func (s *identityService) Lookup(ctx context.Context, userID uuid.UUID) (*domain.BillingIdentity, error) {
	return s.store.GetByUserID(ctx, userID)
}

// GetOrCreate is lazy provisioning with two race defenses layered: the
// processor email lookup absorbs a previous attempt that created the
// customer but crashed before the local insert, and the store's user_id
// uniqueness resolves concurrent callers to a single winner.
func (s *identityService) GetOrCreate(ctx context.Context, userID uuid.UUID, profile domain.CustomerProfile) (*domain.BillingIdentity, error) {
	identity, err := s.store.GetByUserID(ctx, userID)
	if err == nil {
		return identity, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, fmt.Errorf("failed to look up billing identity: %w", err)
	}

	if profile.Email == "" {
		return nil, domain.Invalid("identity.provision", "email is required to provision a billing customer")
	}

	customerID, err := s.findOrCreateCustomer(ctx, userID, profile)
	if err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, &domain.BillingIdentity{
		UserID:             userID,
		ExternalCustomerID: customerID,
		CreatedAt:          time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist billing identity: %w", err)
	}

	if created.ExternalCustomerID != customerID {
		// Lost the provisioning race. The winner's customer id is the one
		// every future charge must use; ours is an unreferenced duplicate
		// on the processor side, harmless and ignorable.
		s.logger.Info("billing identity race resolved to existing customer",
			"user_id", userID,
			"winner_customer_id", created.ExternalCustomerID,
			"loser_customer_id", customerID)
	} else {
		s.logger.Info("billing identity provisioned",
			"user_id", userID,
			"customer_id", customerID)
	}

	return created, nil
}

func (s *identityService) findOrCreateCustomer(ctx context.Context, userID uuid.UUID, profile domain.CustomerProfile) (string, error) {
	// The processor's email search is the dedup authority for partially
	// failed prior attempts (customer created, local write lost).
	existing, err := s.provider.GetCustomerByEmail(ctx, profile.Email)
	if err != nil {
		return "", fmt.Errorf("failed to search for existing customer: %w", err)
	}
	if existing != nil {
		s.logger.Info("reusing existing processor customer",
			"user_id", userID,
			"customer_id", existing.ID)
		return existing.ID, nil
	}

	customer, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email: profile.Email,
		Name:  profile.Name,
		Phone: profile.Phone,
		Metadata: map[string]string{
			"user_id": userID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create processor customer: %w", err)
	}
	return customer.ID, nil
}
