package claims

import (
	"context"

	"github.com/classbank/classbank/internal/tenancy"
)

// Repository persists policies and claims. Every accessor is tenant-scoped.
// Insert must enforce at most one active claim per transaction and report a
// violation as an apperr integrity error.
type Repository interface {
	CreatePolicy(ctx context.Context, p Policy) error
	Policy(ctx context.Context, tenant tenancy.TenantID, id string) (Policy, error)
	Policies(ctx context.Context, tenant tenancy.TenantID, activeOnly bool) ([]Policy, error)
	SetPolicyActive(ctx context.Context, tenant tenancy.TenantID, id string, active bool) (Policy, error)

	Insert(ctx context.Context, c Claim) error
	Claim(ctx context.Context, tenant tenancy.TenantID, id string) (Claim, error)
	ActiveForTransaction(ctx context.Context, tenant tenancy.TenantID, transactionID string) (Claim, bool, error)
	// Transition stores next if the stored claim is still in status from.
	// Otherwise it returns ErrStaleClaim.
	Transition(ctx context.Context, next Claim, from Status) (Claim, error)
	List(ctx context.Context, tenant tenancy.TenantID, filter Filter) ([]Claim, error)
}
