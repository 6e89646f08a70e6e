// Package accounts serves balances, statements and transfers for the
// student in the request's tenant, plus the admin posting actions.
package accounts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/logging"
	"github.com/classbank/classbank/internal/tenancy"
)

var (
	// ErrAdminRequired is returned for admin actions by non-admins.
	ErrAdminRequired = apperr.Authorization("admin_required", "admin role required")

	// ErrStudentNotMember is returned when an admin posts to a student who is
	// not enrolled in the tenant.
	ErrStudentNotMember = apperr.NotFound("student_not_found", "student is not in this class period")
)

// Service exposes account operations backed by the ledger writer.
type Service struct {
	writer      *ledger.Writer
	memberships ledger.MembershipLookup
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithRoster makes admin postings require an active membership of the
// target student in the context's tenant.
func WithRoster(m ledger.MembershipLookup) Option {
	return func(s *Service) { s.memberships = m }
}

// WithLogger sets the logger used for security events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds an accounts service.
func NewService(writer *ledger.Writer, opts ...Option) *Service {
	s := &Service{writer: writer, logger: slog.Default(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary returns both balances of studentID in the context's tenant.
func (s *Service) Summary(ctx context.Context, studentID string) (Summary, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Summary{}, err
	}
	checking, err := s.writer.Balance(ctx, studentID, ledger.Checking)
	if err != nil {
		return Summary{}, err
	}
	savings, err := s.writer.Balance(ctx, studentID, ledger.Savings)
	if err != nil {
		return Summary{}, err
	}
	return Summary{TenantID: tenant, StudentID: studentID, Checking: checking, Savings: savings, AsOf: s.now()}, nil
}

// Statement returns a page of entries, newest first.
func (s *Service) Statement(ctx context.Context, studentID string, q StatementQuery) (Statement, error) {
	if q.AccountType != "" && !q.AccountType.Valid() {
		return Statement{}, apperr.Validation("invalid_account_type", "account type must be checking or savings")
	}
	if q.Type != "" && !q.Type.Valid() {
		return Statement{}, apperr.Validation("invalid_entry_type", "unknown entry type")
	}
	filter := ledger.Filter{
		AccountType: q.AccountType,
		Type:        q.Type,
		IncludeVoid: q.IncludeVoid,
		Before:      q.Before,
		Limit:       q.Limit,
	}
	entries, err := s.writer.List(ctx, studentID, filter)
	if err != nil {
		return Statement{}, err
	}
	st := Statement{Entries: entries}
	if n := len(entries); n > 0 && n == filter.EffectiveLimit() {
		cur := ledger.CursorOf(entries[n-1])
		st.Next = &cur
	}
	return st, nil
}

// Transfer moves funds between the caller's own accounts.
func (s *Service) Transfer(ctx context.Context, studentID string, from, to ledger.AccountType, amount decimal.Decimal, description string) (ledger.TransferResult, error) {
	if !from.Valid() || !to.Valid() {
		return ledger.TransferResult{}, apperr.Validation("invalid_account_type", "account type must be checking or savings")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "transfer " + string(from) + " to " + string(to)
	}
	return s.writer.Transfer(ctx, ledger.TransferInput{
		StudentID:   studentID,
		From:        from,
		To:          to,
		Amount:      amount,
		Description: description,
	})
}

// Post records an admin domain action such as rent, a purchase or a bonus.
// Amounts are signed; reimbursements and transfers have dedicated paths.
func (s *Service) Post(ctx context.Context, p tenancy.Principal, in PostInput) (ledger.Entry, error) {
	if err := s.requireAdmin(ctx, p, "post"); err != nil {
		return ledger.Entry{}, err
	}
	if in.StudentID == "" {
		return ledger.Entry{}, apperr.Validation("student_required", "student is required")
	}
	if !in.AccountType.Valid() {
		return ledger.Entry{}, apperr.Validation("invalid_account_type", "account type must be checking or savings")
	}
	switch in.Type {
	case ledger.TypeReimbursement, ledger.TypeTransfer, ledger.TypePayment:
		return ledger.Entry{}, apperr.Validation("entry_type_reserved", "entry type is reserved for its own action")
	}
	if !in.Type.Valid() {
		return ledger.Entry{}, apperr.Validation("invalid_entry_type", "unknown entry type")
	}
	if err := s.requireMember(ctx, in.StudentID); err != nil {
		return ledger.Entry{}, err
	}
	return s.writer.Record(ctx, in.StudentID, in.AccountType, in.Amount, strings.TrimSpace(in.Description), in.Type)
}

// Void voids an entry of the context's tenant.
func (s *Service) Void(ctx context.Context, p tenancy.Principal, entryID, reason string) (ledger.Entry, error) {
	if err := s.requireAdmin(ctx, p, "void"); err != nil {
		return ledger.Entry{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledger.Entry{}, apperr.Validation("reason_required", "a void reason is required")
	}
	return s.writer.Void(ctx, entryID, reason)
}

// requireAdmin checks that p administers the context's tenant.
func (s *Service) requireAdmin(ctx context.Context, p tenancy.Principal, op string) error {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return err
	}
	if !p.IsAdminIn(tenant) {
		logging.Security(ctx, s.logger, "admin_required",
			slog.String("op", op),
			slog.String("tenant_id", tenant.String()),
			slog.String("principal_id", p.ID),
		)
		return ErrAdminRequired
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, studentID string) error {
	if s.memberships == nil {
		return nil
	}
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return err
	}
	m, err := s.memberships.Membership(ctx, studentID, tenant)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return ErrStudentNotMember
		}
		return err
	}
	if !m.Active || m.TenantID != tenant {
		return ErrStudentNotMember
	}
	return nil
}
