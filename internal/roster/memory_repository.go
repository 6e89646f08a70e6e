package roster

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/classbank/classbank/internal/tenancy"
)

type memberKey struct {
	student string
	tenant  tenancy.TenantID
}

type memoryRepository struct {
	mu          sync.RWMutex
	tenants     map[tenancy.TenantID]Tenant
	codes       map[string]tenancy.TenantID
	students    map[string]Student
	memberships map[memberKey]tenancy.Membership
}

// NewMemoryRepository builds an in-memory roster store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		tenants:     make(map[tenancy.TenantID]Tenant),
		codes:       make(map[string]tenancy.TenantID),
		students:    make(map[string]Student),
		memberships: make(map[memberKey]tenancy.Membership),
	}
}

func (r *memoryRepository) CreateTenant(_ context.Context, t Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := strings.ToUpper(t.JoinCode)
	if _, exists := r.codes[code]; exists {
		return ErrJoinCodeTaken
	}
	r.tenants[t.ID] = t
	r.codes[code] = t.ID
	return nil
}

func (r *memoryRepository) TenantByJoinCode(_ context.Context, code string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.codes[strings.ToUpper(code)]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return r.tenants[id], nil
}

func (r *memoryRepository) CreateStudent(_ context.Context, s Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.students[s.ID]; !exists {
		r.students[s.ID] = s
	}
	return nil
}

func (r *memoryRepository) AddMembership(_ context.Context, m tenancy.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[m.TenantID]
	if !ok {
		return ErrTenantNotFound
	}
	k := memberKey{student: m.StudentID, tenant: m.TenantID}
	if existing, ok := r.memberships[k]; ok {
		existing.Active = m.Active
		r.memberships[k] = existing
		return nil
	}
	m.JoinCode = t.JoinCode
	if m.Role == "" {
		m.Role = tenancy.RoleStudent
	}
	r.memberships[k] = m
	return nil
}

func (r *memoryRepository) Membership(_ context.Context, studentID string, tenant tenancy.TenantID) (tenancy.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.memberships[memberKey{student: studentID, tenant: tenant}]
	if !ok {
		return tenancy.Membership{}, ErrMembershipNotFound
	}
	return m, nil
}

func (r *memoryRepository) MembershipsFor(_ context.Context, studentID string) ([]tenancy.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tenancy.Membership
	for k, m := range r.memberships {
		if k.student == studentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClaimedAt.Equal(out[j].ClaimedAt) {
			return out[i].ClaimedAt.Before(out[j].ClaimedAt)
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out, nil
}
