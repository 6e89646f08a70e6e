package claims

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/events"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/logging"
	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

// Engine runs the claim state machine:
//
//	pending -> approved -> reimbursed
//	pending -> denied | withdrawn
//
// Approval and reimbursement commit together with the reimbursement entry.
type Engine struct {
	repo      Repository
	writer    *ledger.Writer
	guard     *Guard
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires an engine to the ledger writer. The claims repository must
// share the writer's unit-of-work runner backend.
func NewEngine(repo Repository, writer *ledger.Writer, publisher events.Publisher, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:      repo,
		writer:    writer,
		guard:     NewGuard(writer.Store(), repo, logger),
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Guard exposes the concurrency guard, mainly for diagnostics.
func (e *Engine) Guard() *Guard { return e.guard }

// File opens a pending claim for the calling student.
func (e *Engine) File(ctx context.Context, p tenancy.Principal, in FileInput) (Claim, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Claim{}, err
	}
	policy, err := e.repo.Policy(ctx, tenant, in.PolicyID)
	if err != nil {
		return Claim{}, err
	}
	if !policy.Active {
		return Claim{}, ErrPolicyInactive
	}

	c := Claim{
		ID:            uuid.NewString(),
		TenantID:      tenant,
		PolicyID:      policy.ID,
		StudentID:     p.ID,
		TransactionID: strings.TrimSpace(in.TransactionID),
		Status:        StatusPending,
		Reason:        strings.TrimSpace(in.Reason),
		FiledAt:       e.now(),
	}

	err = e.writer.Runner().Do(ctx, func(ctx context.Context) error {
		switch policy.Kind {
		case PolicyFlat:
			if c.TransactionID != "" {
				return ErrTransactionForbidden
			}
			c.Amount = money.Round(policy.FlatPayout)
			if err := e.repo.Insert(ctx, c); err != nil {
				return err
			}
		default:
			if c.TransactionID == "" {
				return ErrTransactionRequired
			}
			admitted, err := e.guard.Admit(ctx, tenant, c.TransactionID, func(entry ledger.Entry) (Claim, error) {
				if err := checkTransaction(entry, policy.TenantID, p.ID); err != nil {
					return Claim{}, err
				}
				c.Amount = money.Payout(entry.Amount)
				return c, nil
			})
			if err != nil {
				return err
			}
			c = admitted
		}
		uow.AfterCommit(ctx, func() {
			e.publish(ctx, events.KindClaimFiled, c, map[string]any{
				"student_id":     c.StudentID,
				"policy_id":      c.PolicyID,
				"transaction_id": c.TransactionID,
				"amount":         c.Amount.String(),
			})
		})
		return nil
	})
	if errors.Is(err, ledger.ErrEntryNotFound) {
		err = ErrTransactionNotFound
	}
	if err != nil {
		return Claim{}, e.fail(ctx, "file", p, c, err)
	}
	e.logger.InfoContext(ctx, "claim filed",
		slog.String("tenant_id", tenant.String()),
		slog.String("claim_id", c.ID),
		slog.String("student_id", c.StudentID),
	)
	return c, nil
}

// Approve re-validates the claim's transaction and reimburses the student.
// The claim ends in StatusReimbursed, or nothing changes.
func (e *Engine) Approve(ctx context.Context, p tenancy.Principal, claimID string) (Claim, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Claim{}, err
	}
	if !p.IsAdminIn(tenant) {
		return Claim{}, e.fail(ctx, "approve", p, Claim{ID: claimID, TenantID: tenant}, ErrAdminRequired)
	}

	var c Claim
	err = e.writer.Runner().Do(ctx, func(ctx context.Context) error {
		var err error
		c, err = e.repo.Claim(ctx, tenant, claimID)
		if err != nil {
			return err
		}
		if c.Status != StatusPending {
			return ErrNotPending
		}
		payout, err := e.payout(ctx, c)
		if err != nil {
			return err
		}

		decided := e.now()
		approved := c
		approved.Status = StatusApproved
		approved.Amount = payout
		approved.DecidedAt = &decided
		approved.DecidedBy = p.ID
		if approved, err = e.repo.Transition(ctx, approved, StatusPending); err != nil {
			return err
		}

		entry, err := e.writer.Reimburse(ctx, c.StudentID, payout, "claim reimbursement "+c.ID)
		if err != nil {
			return err
		}

		reimbursed := approved
		reimbursed.Status = StatusReimbursed
		reimbursed.ReimbursementEntryID = entry.ID
		if c, err = e.repo.Transition(ctx, reimbursed, StatusApproved); err != nil {
			return err
		}
		uow.AfterCommit(ctx, func() {
			e.publish(ctx, events.KindClaimReimbursed, c, map[string]any{
				"student_id": c.StudentID,
				"entry_id":   entry.ID,
				"amount":     c.Amount.String(),
				"decided_by": p.ID,
			})
		})
		return nil
	})
	if err != nil {
		if c.ID == "" {
			c = Claim{ID: claimID, TenantID: tenant}
		}
		return Claim{}, e.fail(ctx, "approve", p, c, err)
	}
	e.logger.InfoContext(ctx, "claim reimbursed",
		slog.String("tenant_id", tenant.String()),
		slog.String("claim_id", c.ID),
		slog.String("entry_id", c.ReimbursementEntryID),
		slog.String("amount", c.Amount.String()),
	)
	return c, nil
}

// payout re-validates the claim against the current state of its
// transaction and returns the reimbursement amount.
func (e *Engine) payout(ctx context.Context, c Claim) (decimal.Decimal, error) {
	policy, err := e.repo.Policy(ctx, c.TenantID, c.PolicyID)
	if err != nil {
		return decimal.Zero, err
	}
	if policy.Kind == PolicyFlat {
		return money.Round(policy.FlatPayout), nil
	}
	entry, err := e.guard.Transaction(ctx, c.TenantID, c.TransactionID)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		// the scoped lookup cannot see entries of other tenants
		return decimal.Zero, ErrTransactionTenantMismatch
	}
	if err != nil {
		return decimal.Zero, err
	}
	if err := checkTransaction(entry, policy.TenantID, c.StudentID); err != nil {
		return decimal.Zero, err
	}
	return money.Payout(entry.Amount), nil
}

// checkTransaction applies the tenant, owner and void rules, in that order.
func checkTransaction(entry ledger.Entry, tenant tenancy.TenantID, studentID string) error {
	switch {
	case entry.TenantID != tenant:
		return ErrTransactionTenantMismatch
	case entry.StudentID != studentID:
		return ErrTransactionOwnerMismatch
	case entry.IsVoid:
		return ErrTransactionVoided
	}
	return nil
}

// Deny closes a pending claim without payout.
func (e *Engine) Deny(ctx context.Context, p tenancy.Principal, claimID, reason string) (Claim, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Claim{}, err
	}
	if !p.IsAdminIn(tenant) {
		return Claim{}, e.fail(ctx, "deny", p, Claim{ID: claimID, TenantID: tenant}, ErrAdminRequired)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Claim{}, apperr.Validation("reason_required", "a reason is required to deny a claim")
	}
	return e.close(ctx, "deny", p, claimID, StatusDenied, reason, events.KindClaimDenied)
}

// Withdraw lets the filer abandon a pending claim.
func (e *Engine) Withdraw(ctx context.Context, p tenancy.Principal, claimID, reason string) (Claim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "withdrawn by student"
	}
	return e.close(ctx, "withdraw", p, claimID, StatusWithdrawn, reason, events.KindClaimWithdrawn)
}

func (e *Engine) close(ctx context.Context, op string, p tenancy.Principal, claimID string, to Status, reason, kind string) (Claim, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Claim{}, err
	}
	var c Claim
	err = e.writer.Runner().Do(ctx, func(ctx context.Context) error {
		var err error
		c, err = e.repo.Claim(ctx, tenant, claimID)
		if err != nil {
			return err
		}
		if to == StatusWithdrawn && c.StudentID != p.ID {
			return ErrNotFiler
		}
		if c.Status != StatusPending {
			return ErrNotPending
		}
		decided := e.now()
		next := c
		next.Status = to
		next.Reason = reason
		next.DecidedAt = &decided
		next.DecidedBy = p.ID
		if c, err = e.repo.Transition(ctx, next, StatusPending); err != nil {
			return err
		}
		uow.AfterCommit(ctx, func() {
			e.publish(ctx, kind, c, map[string]any{"reason": reason, "decided_by": p.ID})
		})
		return nil
	})
	if err != nil {
		if c.ID == "" {
			c = Claim{ID: claimID, TenantID: tenant}
		}
		return Claim{}, e.fail(ctx, op, p, c, err)
	}
	return c, nil
}

// Get returns one claim. Students only see their own claims.
func (e *Engine) Get(ctx context.Context, p tenancy.Principal, claimID string) (Claim, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Claim{}, err
	}
	c, err := e.repo.Claim(ctx, tenant, claimID)
	if err != nil {
		return Claim{}, err
	}
	if !p.IsAdminIn(tenant) && c.StudentID != p.ID {
		return Claim{}, ErrClaimNotFound
	}
	return c, nil
}

// List returns claims of the context's tenant, newest first. Students are
// restricted to their own claims.
func (e *Engine) List(ctx context.Context, p tenancy.Principal, filter Filter) ([]Claim, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("invalid_status", "unknown claim status")
	}
	if !p.IsAdminIn(tenant) {
		filter.StudentID = p.ID
	}
	return e.repo.List(ctx, tenant, filter)
}

// CreatePolicy adds an active policy to the context's tenant.
func (e *Engine) CreatePolicy(ctx context.Context, p tenancy.Principal, in PolicyInput) (Policy, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Policy{}, err
	}
	if !p.IsAdminIn(tenant) {
		return Policy{}, e.fail(ctx, "create_policy", p, Claim{TenantID: tenant}, ErrAdminRequired)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Policy{}, apperr.Validation("name_required", "policy name is required")
	}
	if !in.Kind.Valid() {
		return Policy{}, apperr.Validation("invalid_policy_kind", "policy kind must be flat or transaction_monetary")
	}
	payout := decimal.Zero
	if in.Kind == PolicyFlat {
		payout = money.Round(in.FlatPayout)
		if !payout.IsPositive() {
			return Policy{}, apperr.Validation("payout_not_positive", "flat payout must be positive")
		}
	}
	policy := Policy{
		ID:         uuid.NewString(),
		TenantID:   tenant,
		Name:       name,
		Kind:       in.Kind,
		FlatPayout: payout,
		Active:     true,
		CreatedAt:  e.now(),
	}
	if err := e.repo.CreatePolicy(ctx, policy); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// DeactivatePolicy stops new claims against a policy. Pending claims keep
// their policy and can still be decided.
func (e *Engine) DeactivatePolicy(ctx context.Context, p tenancy.Principal, policyID string) (Policy, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Policy{}, err
	}
	if !p.IsAdminIn(tenant) {
		return Policy{}, e.fail(ctx, "deactivate_policy", p, Claim{TenantID: tenant}, ErrAdminRequired)
	}
	return e.repo.SetPolicyActive(ctx, tenant, policyID, false)
}

// Policies lists the context tenant's policies.
func (e *Engine) Policies(ctx context.Context, activeOnly bool) ([]Policy, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	return e.repo.Policies(ctx, tenant, activeOnly)
}

// fail is the single exit for failed operations: integrity violations become
// conflicts and authorization failures are recorded as security events.
func (e *Engine) fail(ctx context.Context, op string, p tenancy.Principal, c Claim, err error) error {
	attrs := []any{
		slog.String("op", op),
		slog.String("tenant_id", c.TenantID.String()),
		slog.String("claim_id", c.ID),
		slog.String("principal_id", p.ID),
	}
	err = e.guard.translate(ctx, err, attrs...)
	if apperr.Is(err, apperr.KindAuthorization) {
		logging.Security(ctx, e.logger, apperr.CodeOf(err),
			append(attrs, slog.String("transaction_id", c.TransactionID), slog.String("student_id", c.StudentID))...)
	}
	return err
}

func (e *Engine) publish(ctx context.Context, kind string, c Claim, attrs map[string]any) {
	event := events.Event{
		Kind:       kind,
		TenantID:   c.TenantID.String(),
		SubjectID:  c.ID,
		Attributes: attrs,
		OccurredAt: e.now(),
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "publish event", slog.String("kind", kind), slog.Any("error", err))
	}
}
