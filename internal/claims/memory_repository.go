package claims

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

// memoryRepository keeps claims in maps. It has no row locks; the insert
// check under mu is its uniqueness constraint. Claim writes made inside a
// unit of work are staged and become visible to others on commit.
type memoryRepository struct {
	mu       sync.RWMutex
	policies map[string]Policy
	claims   map[string]Claim
	staged   map[any]map[string]Claim
}

// NewMemoryRepository builds an in-memory claims store.
func NewMemoryRepository() Repository {
	return newMemoryRepository()
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		policies: make(map[string]Policy),
		claims:   make(map[string]Claim),
		staged:   make(map[any]map[string]Claim),
	}
}

// lookup returns the claim as seen from scope. The caller holds r.mu.
func (r *memoryRepository) lookup(scope any, id string) (Claim, bool) {
	if scope != nil {
		if c, ok := r.staged[scope][id]; ok {
			return c, true
		}
	}
	c, ok := r.claims[id]
	return c, ok
}

// visible returns every claim seen from scope. The caller holds r.mu.
func (r *memoryRepository) visible(scope any) []Claim {
	var overlay map[string]Claim
	if scope != nil {
		overlay = r.staged[scope]
	}
	out := make([]Claim, 0, len(r.claims)+len(overlay))
	for id, c := range r.claims {
		if staged, ok := overlay[id]; ok {
			c = staged
		}
		out = append(out, c)
	}
	for id, c := range overlay {
		if _, ok := r.claims[id]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// put writes c directly outside a unit of work and stages it inside one.
// The caller holds r.mu for writing.
func (r *memoryRepository) put(ctx context.Context, c Claim) {
	scope := uow.Scope(ctx)
	if scope == nil {
		r.claims[c.ID] = c
		return
	}
	overlay, ok := r.staged[scope]
	if !ok {
		overlay = make(map[string]Claim)
		r.staged[scope] = overlay
		uow.OnCommit(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for id, c := range r.staged[scope] {
				r.claims[id] = c
			}
			delete(r.staged, scope)
		})
		uow.OnRollback(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.staged, scope)
		})
	}
	overlay[c.ID] = c
}

func (r *memoryRepository) CreatePolicy(ctx context.Context, p Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = p
	uow.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.policies, p.ID)
		r.mu.Unlock()
	})
	return nil
}

func (r *memoryRepository) Policy(_ context.Context, tenant tenancy.TenantID, id string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok || p.TenantID != tenant {
		return Policy{}, ErrPolicyNotFound
	}
	return p, nil
}

func (r *memoryRepository) Policies(_ context.Context, tenant tenancy.TenantID, activeOnly bool) ([]Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Policy
	for _, p := range r.policies {
		if p.TenantID != tenant || (activeOnly && !p.Active) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryRepository) SetPolicyActive(ctx context.Context, tenant tenancy.TenantID, id string, active bool) (Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok || p.TenantID != tenant {
		return Policy{}, ErrPolicyNotFound
	}
	prev := p
	p.Active = active
	r.policies[id] = p
	uow.OnRollback(ctx, func() {
		r.mu.Lock()
		r.policies[id] = prev
		r.mu.Unlock()
	})
	return p, nil
}

// Insert checks uniqueness against committed claims and every staged one,
// as a unique index would block on an uncommitted conflicting row.
func (r *memoryRepository) Insert(ctx context.Context, c Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conflicts := func(existing Claim) error {
		if existing.ID == c.ID {
			return apperr.Integrity("claims_pkey", errors.New("duplicate claim id"))
		}
		if c.TransactionID != "" && c.Status.Active() && existing.TransactionID == c.TransactionID && existing.Status.Active() {
			return apperr.Integrity(activeClaimConstraint, errors.New("active claim exists for transaction "+c.TransactionID))
		}
		return nil
	}
	for _, existing := range r.visible(uow.Scope(ctx)) {
		if err := conflicts(existing); err != nil {
			return err
		}
	}
	for scope, overlay := range r.staged {
		if scope == uow.Scope(ctx) {
			continue
		}
		for _, existing := range overlay {
			if err := conflicts(existing); err != nil {
				return err
			}
		}
	}
	r.put(ctx, c)
	return nil
}

func (r *memoryRepository) Claim(ctx context.Context, tenant tenancy.TenantID, id string) (Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.lookup(uow.Scope(ctx), id)
	if !ok || c.TenantID != tenant {
		return Claim{}, ErrClaimNotFound
	}
	return c, nil
}

func (r *memoryRepository) ActiveForTransaction(ctx context.Context, tenant tenancy.TenantID, transactionID string) (Claim, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.visible(uow.Scope(ctx)) {
		if c.TenantID == tenant && c.TransactionID == transactionID && c.Status.Active() {
			return c, true, nil
		}
	}
	return Claim{}, false, nil
}

func (r *memoryRepository) Transition(ctx context.Context, next Claim, from Status) (Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.lookup(uow.Scope(ctx), next.ID)
	if !ok || prev.TenantID != next.TenantID {
		return Claim{}, ErrClaimNotFound
	}
	if prev.Status != from {
		return Claim{}, ErrStaleClaim
	}
	stored := prev
	stored.Status = next.Status
	stored.Amount = next.Amount
	stored.Reason = next.Reason
	stored.DecidedAt = next.DecidedAt
	stored.DecidedBy = next.DecidedBy
	stored.ReimbursementEntryID = next.ReimbursementEntryID
	r.put(ctx, stored)
	return stored, nil
}

func (r *memoryRepository) List(ctx context.Context, tenant tenancy.TenantID, filter Filter) ([]Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Claim
	for _, c := range r.visible(uow.Scope(ctx)) {
		if c.TenantID != tenant {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.StudentID != "" && c.StudentID != filter.StudentID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiledAt.Equal(out[j].FiledAt) {
			return out[i].FiledAt.After(out[j].FiledAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := filter.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
