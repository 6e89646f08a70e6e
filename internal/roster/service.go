package roster

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/tenancy"
)

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeAttempts = 5
)

// Service manages class periods and who belongs to them.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a roster service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateTenant opens a class period owned by ownerID and enrols the owner
// so admin actions resolve to it.
func (s *Service) CreateTenant(ctx context.Context, ownerID, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, apperr.Validation("name_required", "class period name is required")
	}
	if ownerID == "" {
		return Tenant{}, apperr.Validation("owner_required", "owner is required")
	}

	t := Tenant{
		ID:        tenancy.TenantID(uuid.NewString()),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: s.now(),
	}
	var err error
	for i := 0; i < joinCodeAttempts; i++ {
		t.JoinCode, err = newJoinCode()
		if err != nil {
			return Tenant{}, err
		}
		err = s.repo.CreateTenant(ctx, t)
		if !errors.Is(err, ErrJoinCodeTaken) {
			break
		}
	}
	if err != nil {
		return Tenant{}, err
	}
	if err := s.repo.CreateStudent(ctx, Student{ID: ownerID, CreatedAt: t.CreatedAt}); err != nil {
		return Tenant{}, err
	}
	if err := s.repo.AddMembership(ctx, tenancy.Membership{
		StudentID: ownerID,
		TenantID:  t.ID,
		Role:      tenancy.RoleAdmin,
		JoinCode:  t.JoinCode,
		ClaimedAt: t.CreatedAt,
		Active:    true,
	}); err != nil {
		return Tenant{}, err
	}
	s.logger.InfoContext(ctx, "tenant created",
		slog.String("tenant_id", t.ID.String()),
		slog.String("owner_id", ownerID),
	)
	return t, nil
}

// Join enrols studentID in the tenant that uses joinCode. A join code
// only ever grants a student membership; an existing membership keeps its
// role.
func (s *Service) Join(ctx context.Context, studentID, displayName, joinCode string) (tenancy.Membership, error) {
	if studentID == "" {
		return tenancy.Membership{}, apperr.Validation("student_required", "student is required")
	}
	joinCode = strings.ToUpper(strings.TrimSpace(joinCode))
	if joinCode == "" {
		return tenancy.Membership{}, apperr.Validation("join_code_required", "join code is required")
	}
	t, err := s.repo.TenantByJoinCode(ctx, joinCode)
	if err != nil {
		return tenancy.Membership{}, err
	}
	if err := s.repo.CreateStudent(ctx, Student{ID: studentID, DisplayName: displayName, CreatedAt: s.now()}); err != nil {
		return tenancy.Membership{}, err
	}
	if err := s.repo.AddMembership(ctx, tenancy.Membership{
		StudentID: studentID,
		TenantID:  t.ID,
		Role:      tenancy.RoleStudent,
		JoinCode:  t.JoinCode,
		ClaimedAt: s.now(),
		Active:    true,
	}); err != nil {
		return tenancy.Membership{}, err
	}
	return s.repo.Membership(ctx, studentID, t.ID)
}

// Leave deactivates a membership. Ledger history is kept.
func (s *Service) Leave(ctx context.Context, studentID string, tenant tenancy.TenantID) error {
	m, err := s.repo.Membership(ctx, studentID, tenant)
	if err != nil {
		return err
	}
	m.Active = false
	return s.repo.AddMembership(ctx, m)
}

// Membership returns one membership; it satisfies ledger.MembershipLookup.
func (s *Service) Membership(ctx context.Context, studentID string, tenant tenancy.TenantID) (tenancy.Membership, error) {
	return s.repo.Membership(ctx, studentID, tenant)
}

// MembershipsFor returns every membership of studentID, oldest first.
func (s *Service) MembershipsFor(ctx context.Context, studentID string) ([]tenancy.Membership, error) {
	return s.repo.MembershipsFor(ctx, studentID)
}

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}
