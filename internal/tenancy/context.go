package tenancy

import (
	"context"

	"github.com/classbank/classbank/internal/apperr"
)

type tenantKey struct{}
type principalKey struct{}

// ErrNoTenant is returned by Require when no tenant was resolved.
var ErrNoTenant = apperr.Validation("tenant_required", "tenant id is required")

// WithTenant returns a copy of ctx carrying the resolved tenant.
func WithTenant(ctx context.Context, tenant TenantID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// FromContext returns the tenant resolved for this request.
func FromContext(ctx context.Context) (TenantID, bool) {
	t, ok := ctx.Value(tenantKey{}).(TenantID)
	return t, ok && t.Valid()
}

// Require is FromContext returning ErrNoTenant when absent.
func Require(ctx context.Context) (TenantID, error) {
	t, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoTenant
	}
	return t, nil
}

// WithPrincipal returns a copy of ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.ID != ""
}
