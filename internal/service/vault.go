package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lindenhq/linden/internal/billing"
	"github.com/lindenhq/linden/internal/domain"
)

// VaultService manages stored payment instruments. The processor is the
// system of record for instruments; this service only resolves the user to
// their billing identity and passes through. Listing is always a live read,
// never a cache, because instruments expire and get removed bank-side
// without this system hearing about it.
type VaultService interface {
	// ListInstruments returns the user's stored instruments.
	ListInstruments(ctx context.Context, userID uuid.UUID) (*billing.InstrumentList, error)

	// AttachInstrument stores a new instrument for the user, optionally
	// marking it the default for off-session charges.
	AttachInstrument(ctx context.Context, userID uuid.UUID, profile domain.CustomerProfile, instrumentID string, setDefault bool) (*billing.Instrument, error)

	// DetachInstrument removes a stored instrument. Ledger entries that
	// referenced it keep their instrument id for audit.
	DetachInstrument(ctx context.Context, userID uuid.UUID, instrumentID string) error
}

// vaultService implements VaultService.
type vaultService struct {
	identities IdentityService
	provider   billing.Provider
	logger     *slog.Logger
}

// NewVaultService creates a VaultService.
func NewVaultService(identities IdentityService, provider billing.Provider, logger *slog.Logger) VaultService {
	return &vaultService{
		identities: identities,
		provider:   provider,
		logger:     logger.With("service", "vault"),
	}
}

func (s *vaultService) ListInstruments(ctx context.Context, userID uuid.UUID) (*billing.InstrumentList, error) {
	identity, err := s.identities.Lookup(ctx, userID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			// No identity means no instruments were ever stored.
			return &billing.InstrumentList{}, nil
		}
		return nil, err
	}

	list, err := s.provider.ListPaymentMethods(ctx, identity.ExternalCustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return list, nil
}

func (s *vaultService) AttachInstrument(ctx context.Context, userID uuid.UUID, profile domain.CustomerProfile, instrumentID string, setDefault bool) (*billing.Instrument, error) {
	if instrumentID == "" {
		return nil, domain.Invalid("vault.attach", "instrument id is required")
	}

	identity, err := s.identities.GetOrCreate(ctx, userID, profile)
	if err != nil {
		return nil, err
	}

	instrument, err := s.provider.AttachPaymentMethod(ctx, billing.AttachParams{
		CustomerID:   identity.ExternalCustomerID,
		InstrumentID: instrumentID,
		SetDefault:   setDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach payment method: %w", err)
	}

	s.logger.Info("instrument attached",
		"user_id", userID,
		"instrument_id", instrument.ID,
		"type", instrument.Type,
		"default", setDefault)

	return instrument, nil
}

func (s *vaultService) DetachInstrument(ctx context.Context, userID uuid.UUID, instrumentID string) error {
	if instrumentID == "" {
		return domain.Invalid("vault.detach", "instrument id is required")
	}

	if _, err := s.identities.Lookup(ctx, userID); err != nil {
		return err
	}

	if err := s.provider.DetachPaymentMethod(ctx, instrumentID); err != nil {
		return fmt.Errorf("failed to detach payment method: %w", err)
	}

	s.logger.Info("instrument detached",
		"user_id", userID,
		"instrument_id", instrumentID)
	return nil
}
