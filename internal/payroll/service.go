// Package payroll runs batch credits across a class period. Each student's
// line is posted on its own so one bad line does not hold back the rest.
package payroll

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/events"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/logging"
	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
)

const maxLines = 500

var (
	// ErrAdminRequired is returned when a student starts a payroll run.
	ErrAdminRequired = apperr.Authorization("admin_required", "only an administrator can run payroll")
	// ErrNoLines is returned for an empty run.
	ErrNoLines = apperr.Validation("payroll_empty", "payroll needs at least one line")
	// ErrTooManyLines is returned when a run exceeds the per-request cap.
	ErrTooManyLines = apperr.Validation("payroll_too_large", "payroll has too many lines")
)

// Line pays one student. Account defaults to checking.
type Line struct {
	StudentID string
	Amount    decimal.Decimal
	Account   ledger.AccountType
}

// RunInput describes a payroll run.
type RunInput struct {
	Description string
	Lines       []Line
}

// LineResult is the outcome of one line.
type LineResult struct {
	StudentID string
	Amount    decimal.Decimal
	EntryID   string
	Error     string
	Code      string
}

// RunResult summarises a run.
type RunResult struct {
	TenantID tenancy.TenantID
	Posted   []LineResult
	Failed   []LineResult
	Total    decimal.Decimal
}

// Service posts payroll through the ledger writer's batch path.
type Service struct {
	writer    *ledger.Writer
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService constructs a payroll service. The writer must be configured
// with a membership lookup.
func NewService(writer *ledger.Writer, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{writer: writer, publisher: publisher, logger: logger}
}

// Run credits every line in the resolved tenant.
func (s *Service) Run(ctx context.Context, p tenancy.Principal, in RunInput) (RunResult, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if !p.IsAdminIn(tenant) {
		logging.Security(ctx, s.logger, "payroll_denied",
			slog.String("tenant_id", tenant.String()),
			slog.String("principal_id", p.ID),
		)
		return RunResult{}, ErrAdminRequired
	}
	switch {
	case len(in.Lines) == 0:
		return RunResult{}, ErrNoLines
	case len(in.Lines) > maxLines:
		return RunResult{}, ErrTooManyLines
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = "payroll"
	}
	lines := make([]ledger.BatchLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		account := l.Account
		if account == "" {
			account = ledger.Checking
		}
		lines = append(lines, ledger.BatchLine{
			StudentID:   strings.TrimSpace(l.StudentID),
			Account:     account,
			Amount:      l.Amount,
			Description: description,
			Type:        ledger.TypePayroll,
		})
	}

	batch, err := s.writer.PostBatch(ctx, tenant, lines)
	if err != nil {
		return RunResult{}, err
	}

	res := RunResult{TenantID: tenant, Total: decimal.Zero}
	for _, o := range batch.Posted {
		res.Posted = append(res.Posted, LineResult{
			StudentID: o.Line.StudentID,
			Amount:    o.Entry.Amount,
			EntryID:   o.Entry.ID,
		})
		res.Total = res.Total.Add(o.Entry.Amount)
	}
	for _, o := range batch.Failed {
		res.Failed = append(res.Failed, LineResult{
			StudentID: o.Line.StudentID,
			Amount:    money.Round(o.Line.Amount),
			Error:     apperr.Public(o.Err),
			Code:      apperr.CodeOf(o.Err),
		})
	}

	s.logger.InfoContext(ctx, "payroll completed",
		slog.String("tenant_id", tenant.String()),
		slog.String("principal_id", p.ID),
		slog.Int("posted", len(res.Posted)),
		slog.Int("failed", len(res.Failed)),
		slog.String("total", res.Total.StringFixed(money.Places)),
	)
	if err := s.publisher.Publish(ctx, events.Event{
		Kind:      events.KindPayrollCompleted,
		TenantID:  tenant.String(),
		SubjectID: p.ID,
		Attributes: map[string]any{
			"posted": len(res.Posted),
			"failed": len(res.Failed),
			"total":  res.Total.StringFixed(money.Places),
		},
	}); err != nil {
		s.logger.WarnContext(ctx, "publish payroll event", slog.Any("error", err))
	}
	return res, nil
}
