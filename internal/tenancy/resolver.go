// Package tenancy resolves the single active class period (tenant) for a
// request and carries it through context.Context. There is no "all
// tenants" mode.
package tenancy

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/logging"
)

const defaultSessionTTL = 12 * time.Hour

var (
	// ErrNoMembership is returned when the principal has no usable membership.
	ErrNoMembership = apperr.Authorization("no_membership", "no active class period membership")
	// ErrNotMember is returned when the selected tenant is not one of the principal's.
	ErrNotMember = apperr.Authorization("not_member", "not a member of the selected class period")
)

// SessionStore persists the tenant chosen for a session.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (TenantID, bool, error)
	Set(ctx context.Context, sessionID string, tenant TenantID, ttl time.Duration) error
}

// Resolver picks the tenant a principal's request operates in.
type Resolver struct {
	sessions SessionStore
	ttl      time.Duration
	logger   *slog.Logger
}

// NewResolver builds a resolver. sessions may be nil, in which case the
// default choice is recomputed on every call.
func NewResolver(sessions SessionStore, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{sessions: sessions, ttl: ttl, logger: logger}
}

// Resolve returns the tenant for p. A non-empty selector must match one of
// p's active memberships. An empty selector yields the session's stored
// tenant when still valid, otherwise the earliest-claimed active membership.
func (r *Resolver) Resolve(ctx context.Context, p Principal, selector TenantID) (TenantID, error) {
	if selector.Valid() {
		m, ok := p.Membership(selector)
		if !ok {
			logging.Security(ctx, r.logger, "tenant_selection_denied",
				slog.String("principal_id", p.ID),
				slog.String("tenant_id", selector.String()),
			)
			return "", ErrNotMember
		}
		r.remember(ctx, p, m.TenantID)
		return m.TenantID, nil
	}

	if r.sessions != nil && p.SessionID != "" {
		stored, ok, err := r.sessions.Get(ctx, p.SessionID)
		if err != nil {
			r.logger.Warn("session tenant lookup failed", slog.String("session_id", p.SessionID), slog.Any("error", err))
		} else if ok {
			if _, member := p.Membership(stored); member {
				return stored, nil
			}
		}
	}

	m, ok := Default(p)
	if !ok {
		return "", ErrNoMembership
	}
	r.remember(ctx, p, m.TenantID)
	return m.TenantID, nil
}

// ResolveJoinCode resolves using a join code as the selector.
func (r *Resolver) ResolveJoinCode(ctx context.Context, p Principal, code string) (TenantID, error) {
	m, ok := p.MembershipByJoinCode(code)
	if !ok {
		logging.Security(ctx, r.logger, "tenant_selection_denied",
			slog.String("principal_id", p.ID),
			slog.String("join_code", code),
		)
		return "", ErrNotMember
	}
	r.remember(ctx, p, m.TenantID)
	return m.TenantID, nil
}

func (r *Resolver) remember(ctx context.Context, p Principal, tenant TenantID) {
	if r.sessions == nil || p.SessionID == "" {
		return
	}
	if err := r.sessions.Set(ctx, p.SessionID, tenant, r.ttl); err != nil {
		r.logger.Warn("persist session tenant", slog.String("session_id", p.SessionID), slog.Any("error", err))
	}
}

// Default returns the earliest-claimed active membership; ties are broken by
// tenant id so the choice is deterministic.
func Default(p Principal) (Membership, bool) {
	active := make([]Membership, 0, len(p.Memberships))
	for _, m := range p.Memberships {
		if m.Active && m.TenantID.Valid() {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return Membership{}, false
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].ClaimedAt.Equal(active[j].ClaimedAt) {
			return active[i].ClaimedAt.Before(active[j].ClaimedAt)
		}
		return active[i].TenantID < active[j].TenantID
	})
	return active[0], true
}
