package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BillingIdentity maps an internal user to the billing customer record the
// payment processor knows them by. Created once per user, lazily, on the
// first charge attempt. Never deleted while ledger entries reference it.
type BillingIdentity struct {
	UserID             uuid.UUID
	ExternalCustomerID string
	CreatedAt          time.Time
}

// CustomerProfile carries the contact details used to provision (or find)
// the processor-side customer. The email address is the processor's
// de-duplication key for partially failed prior provisioning attempts.
type CustomerProfile struct {
	Email string
	Name  string
	Phone string
}

// ErrIdentityNotFound indicates no billing identity exists for the user.
var ErrIdentityNotFound = &Error{
	Code:    ENOTFOUND,
	Message: "billing identity not found",
}

// IdentityStore is the persistence boundary for billing identities.
type IdentityStore interface {
	// GetByUserID returns the identity for a user, or ErrIdentityNotFound.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*BillingIdentity, error)

	// Create inserts the identity. The user_id uniqueness constraint decides
	// races: when a concurrent writer got there first, Create returns the
	// winner's row instead of inserting a second one.
	Create(ctx context.Context, identity *BillingIdentity) (*BillingIdentity, error)
}
