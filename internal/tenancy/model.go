package tenancy

import (
	"strings"
	"time"
)

// TenantID identifies one class-period economy. The zero value is never a
// valid tenant.
type TenantID string

// Valid reports whether t names a tenant.
func (t TenantID) Valid() bool { return strings.TrimSpace(string(t)) != "" }

func (t TenantID) String() string { return string(t) }

// Role is the principal's role as supplied by the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Membership links a student (or an administering teacher) to a tenant.
// Role is RoleAdmin only for the tenant's owner; joining by code always
// yields RoleStudent.
type Membership struct {
	StudentID string
	TenantID  TenantID
	Role      Role
	JoinCode  string
	ClaimedAt time.Time
	Active    bool
}

// Principal is the authenticated caller. Memberships is the complete list
// supplied by the identity/roster collaborator.
type Principal struct {
	ID          string
	Role        Role
	SessionID   string
	Memberships []Membership
}

// IsAdmin reports whether the identity provider granted the admin role.
// It does not confer authority inside any tenant; use IsAdminIn for that.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsAdminIn reports whether the principal may perform admin actions in
// tenant: the token must carry the admin role and the principal's active
// membership in tenant must be an admin membership.
func (p Principal) IsAdminIn(tenant TenantID) bool {
	if !p.IsAdmin() || !tenant.Valid() {
		return false
	}
	m, ok := p.Membership(tenant)
	return ok && m.Role == RoleAdmin
}

// Membership returns the principal's active membership in tenant.
func (p Principal) Membership(tenant TenantID) (Membership, bool) {
	for _, m := range p.Memberships {
		if m.Active && m.TenantID == tenant {
			return m, true
		}
	}
	return Membership{}, false
}

// MembershipByJoinCode returns the active membership whose tenant uses code.
func (p Principal) MembershipByJoinCode(code string) (Membership, bool) {
	code = strings.TrimSpace(code)
	for _, m := range p.Memberships {
		if m.Active && strings.EqualFold(m.JoinCode, code) {
			return m, true
		}
	}
	return Membership{}, false
}
