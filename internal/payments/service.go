// Package payments moves money between classmates in the same class period.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/events"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/logging"
	"github.com/classbank/classbank/internal/tenancy"
)

// ErrPayeeNotMember is returned when the payee is not enrolled in the
// payer's class period. The payee's other periods are never consulted.
var ErrPayeeNotMember = apperr.NotFound("payee_not_found", "payee is not in this class period")

// Service posts peer-to-peer payments through the ledger writer.
type Service struct {
	writer      *ledger.Writer
	memberships ledger.MembershipLookup
	publisher   events.Publisher
	logger      *slog.Logger
}

// NewService constructs a payment service.
func NewService(writer *ledger.Writer, memberships ledger.MembershipLookup, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{writer: writer, memberships: memberships, publisher: publisher, logger: logger}
}

// PayInput captures a payment from the caller to a classmate.
type PayInput struct {
	ToStudentID string
	Amount      decimal.Decimal
	Memo        string
}

// PayResult describes the ledger outcome of a payment.
type PayResult struct {
	TransferID   string
	Debit        ledger.Entry
	Credit       ledger.Entry
	PayerBalance decimal.Decimal
	CompletedAt  time.Time
}

// Pay debits the caller's checking account and credits the payee's in the
// resolved tenant.
func (s *Service) Pay(ctx context.Context, p tenancy.Principal, in PayInput) (PayResult, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return PayResult{}, err
	}
	in.ToStudentID = strings.TrimSpace(in.ToStudentID)
	if in.ToStudentID == "" {
		return PayResult{}, apperr.Validation("payee_required", "to_student_id is required")
	}

	payee, err := s.memberships.Membership(ctx, in.ToStudentID, tenant)
	if err != nil || !payee.Active || payee.TenantID != tenant {
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return PayResult{}, err
		}
		logging.Security(ctx, s.logger, "payment_payee_rejected",
			slog.String("tenant_id", tenant.String()),
			slog.String("principal_id", p.ID),
			slog.String("payee_id", in.ToStudentID),
		)
		return PayResult{}, ErrPayeeNotMember
	}

	memo := strings.TrimSpace(in.Memo)
	if memo == "" {
		memo = fmt.Sprintf("payment to %s", in.ToStudentID)
	}
	res, err := s.writer.Pay(ctx, ledger.PaymentInput{
		FromStudentID: p.ID,
		ToStudentID:   in.ToStudentID,
		Amount:        in.Amount,
		Description:   memo,
	})
	if err != nil {
		return PayResult{}, err
	}

	balance, err := s.writer.Balance(ctx, p.ID, ledger.Checking)
	if err != nil {
		return PayResult{}, err
	}

	if err := s.publisher.Publish(ctx, events.Event{
		Kind:      events.KindPaymentSent,
		TenantID:  tenant.String(),
		SubjectID: res.TransferID,
		Attributes: map[string]any{
			"from_student_id": p.ID,
			"to_student_id":   in.ToStudentID,
			"amount":          res.Credit.Amount.String(),
		},
		OccurredAt: res.Credit.CreatedAt,
	}); err != nil {
		s.logger.WarnContext(ctx, "publish payment event", slog.Any("error", err))
	}

	return PayResult{
		TransferID:   res.TransferID,
		Debit:        res.Debit,
		Credit:       res.Credit,
		PayerBalance: balance,
		CompletedAt:  res.Credit.CreatedAt,
	}, nil
}
