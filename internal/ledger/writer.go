package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/events"
	"github.com/classbank/classbank/internal/money"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

const defaultBatchConcurrency = 4

// MembershipLookup returns a student's own membership in a tenant.
type MembershipLookup interface {
	Membership(ctx context.Context, studentID string, tenant tenancy.TenantID) (tenancy.Membership, error)
}

// Writer is the only path domain actions use to create ledger entries. It
// takes the tenant from the request context, rounds every amount and
// publishes events once the commit succeeds.
type Writer struct {
	store            Store
	runner           uow.Runner
	publisher        events.Publisher
	memberships      MembershipLookup
	logger           *slog.Logger
	batchConcurrency int
}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithMemberships enables PostBatch.
func WithMemberships(m MembershipLookup) WriterOption {
	return func(w *Writer) { w.memberships = m }
}

// WithBatchConcurrency bounds the number of batch lines posted in parallel.
func WithBatchConcurrency(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchConcurrency = n
		}
	}
}

// NewWriter builds a Writer. publisher may be nil.
func NewWriter(store Store, runner uow.Runner, publisher events.Publisher, logger *slog.Logger, opts ...WriterOption) *Writer {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		store:            store,
		runner:           runner,
		publisher:        publisher,
		logger:           logger,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Store exposes the underlying store for tenant-scoped reads and capability
// checks. Appending still requires Postings built by a Writer.
func (w *Writer) Store() Store { return w.store }

// Runner returns the unit-of-work runner shared with the store.
func (w *Writer) Runner() uow.Runner { return w.runner }

// Record appends one signed entry for studentID in the context's tenant.
// Negative amounts, other than adjustments, must be covered by the balance.
func (w *Writer) Record(ctx context.Context, studentID string, account AccountType, amount decimal.Decimal, description string, kind EntryType) (Entry, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Entry{}, err
	}
	p := w.posting(tenant, studentID, account, amount, description, kind)
	p.requireFunds = p.amount.IsNegative() && kind != TypeAdjustment

	entries, err := w.append(ctx, p)
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// Credit records a positive amount.
func (w *Writer) Credit(ctx context.Context, studentID string, account AccountType, amount decimal.Decimal, description string, kind EntryType) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, apperr.Validation("amount_not_positive", "amount must be positive")
	}
	return w.Record(ctx, studentID, account, amount, description, kind)
}

// Debit records amount as a withdrawal; amount is given as a positive value.
func (w *Writer) Debit(ctx context.Context, studentID string, account AccountType, amount decimal.Decimal, description string, kind EntryType) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, apperr.Validation("amount_not_positive", "amount must be positive")
	}
	return w.Record(ctx, studentID, account, amount.Neg(), description, kind)
}

// TransferInput moves funds between two accounts of one student.
type TransferInput struct {
	StudentID   string
	From        AccountType
	To          AccountType
	Amount      decimal.Decimal
	Description string
}

// TransferResult holds both sides of a transfer.
type TransferResult struct {
	TransferID string
	Debit      Entry
	Credit     Entry
}

// Transfer writes a debit and a credit in the same tenant and commit.
func (w *Writer) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return TransferResult{}, err
	}
	if in.From == in.To {
		return TransferResult{}, apperr.Validation("same_account", "cannot transfer to the same account")
	}
	if !money.Round(in.Amount).IsPositive() {
		return TransferResult{}, apperr.Validation("amount_not_positive", "amount must be positive")
	}

	transferID := uuid.NewString()
	debit := w.posting(tenant, in.StudentID, in.From, in.Amount.Neg(), in.Description, TypeTransfer)
	debit.transferID = transferID
	debit.requireFunds = true
	credit := w.posting(tenant, in.StudentID, in.To, in.Amount, in.Description, TypeTransfer)
	credit.transferID = transferID

	entries, err := w.append(ctx, debit, credit)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{TransferID: transferID, Debit: entries[0], Credit: entries[1]}, nil
}

// PaymentInput moves funds from one student's checking account to another
// student's checking account.
type PaymentInput struct {
	FromStudentID string
	ToStudentID   string
	Amount        decimal.Decimal
	Description   string
}

// Pay writes the payer's debit and the payee's credit in the context's tenant
// and one commit. Membership of the payee is the caller's concern.
func (w *Writer) Pay(ctx context.Context, in PaymentInput) (TransferResult, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return TransferResult{}, err
	}
	if in.FromStudentID == in.ToStudentID {
		return TransferResult{}, apperr.Validation("same_student", "cannot pay yourself")
	}
	if !money.Round(in.Amount).IsPositive() {
		return TransferResult{}, apperr.Validation("amount_not_positive", "amount must be positive")
	}

	transferID := uuid.NewString()
	debit := w.posting(tenant, in.FromStudentID, Checking, in.Amount.Neg(), in.Description, TypePayment)
	debit.transferID = transferID
	debit.requireFunds = true
	credit := w.posting(tenant, in.ToStudentID, Checking, in.Amount, in.Description, TypePayment)
	credit.transferID = transferID

	entries, err := w.append(ctx, debit, credit)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{TransferID: transferID, Debit: entries[0], Credit: entries[1]}, nil
}

// Reimburse credits a claim payout to the student's checking account. It
// joins the caller's unit of work so the claim transition and the entry
// commit together.
func (w *Writer) Reimburse(ctx context.Context, studentID string, amount decimal.Decimal, description string) (Entry, error) {
	if !money.Round(amount).IsPositive() {
		return Entry{}, apperr.Validation("payout_not_positive", "reimbursement must be positive")
	}
	return w.Record(ctx, studentID, Checking, amount, description, TypeReimbursement)
}

// Void marks an entry in the context's tenant void. Voiding twice is a
// logged no-op.
func (w *Writer) Void(ctx context.Context, entryID, reason string) (Entry, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Entry{}, err
	}
	var (
		entry   Entry
		changed bool
	)
	err = w.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		entry, changed, err = w.store.Void(ctx, tenant, entryID, reason)
		if err != nil || !changed {
			return err
		}
		uow.AfterCommit(ctx, func() {
			w.publish(ctx, events.Event{
				Kind:       events.KindEntryVoided,
				TenantID:   string(tenant),
				SubjectID:  entry.ID,
				Attributes: map[string]any{"reason": reason},
			})
		})
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if !changed {
		w.logger.InfoContext(ctx, "entry already void",
			slog.String("tenant_id", string(tenant)),
			slog.String("entry_id", entryID),
		)
	}
	return entry, nil
}

// Entry returns one entry of the context's tenant.
func (w *Writer) Entry(ctx context.Context, entryID string) (Entry, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return Entry{}, err
	}
	return w.store.Entry(ctx, tenant, entryID)
}

// Balance returns the balance of one account in the context's tenant.
func (w *Writer) Balance(ctx context.Context, studentID string, account AccountType) (decimal.Decimal, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !account.Valid() {
		return decimal.Zero, apperr.Validation("invalid_account_type", "account type must be checking or savings")
	}
	return w.store.Balance(ctx, tenant, studentID, account)
}

// List returns a student's entries in the context's tenant, newest first.
func (w *Writer) List(ctx context.Context, studentID string, filter Filter) ([]Entry, error) {
	tenant, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	return w.store.List(ctx, tenant, studentID, filter)
}

// BatchLine is one student's share of a batch action such as payroll.
type BatchLine struct {
	StudentID   string
	Account     AccountType
	Amount      decimal.Decimal
	Description string
	Type        EntryType
}

// BatchOutcome reports what happened to one line.
type BatchOutcome struct {
	Line  BatchLine
	Entry Entry
	Err   error
}

// BatchResult aggregates a batch run. Lines fail independently.
type BatchResult struct {
	Posted []BatchOutcome
	Failed []BatchOutcome
}

// PostBatch records one entry per line in tenant. Each line's tenant stamp
// comes from that student's own membership in tenant, and each line commits
// on its own: one failure neither blocks nor rolls back the others.
func (w *Writer) PostBatch(ctx context.Context, tenant tenancy.TenantID, lines []BatchLine) (BatchResult, error) {
	if !tenant.Valid() {
		return BatchResult{}, ErrTenantRequired
	}
	if w.memberships == nil {
		return BatchResult{}, apperr.Validation("batch_unsupported", "membership lookup not configured")
	}

	outcomes := make([]BatchOutcome, len(lines))
	var g errgroup.Group
	g.SetLimit(w.batchConcurrency)
	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			outcomes[i] = w.postLine(ctx, tenant, line)
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed = append(res.Failed, o)
			continue
		}
		res.Posted = append(res.Posted, o)
	}
	return res, nil
}

func (w *Writer) postLine(ctx context.Context, tenant tenancy.TenantID, line BatchLine) BatchOutcome {
	out := BatchOutcome{Line: line}
	m, err := w.memberships.Membership(ctx, line.StudentID, tenant)
	if err != nil {
		out.Err = err
	} else if !m.Active || m.TenantID != tenant {
		out.Err = apperr.Validation("membership_inactive", "student has no active membership in the class period")
	} else {
		out.Entry, out.Err = w.Record(tenancy.WithTenant(ctx, m.TenantID), line.StudentID, line.Account, line.Amount, line.Description, line.Type)
	}
	if out.Err != nil {
		w.logger.WarnContext(ctx, "batch line failed",
			slog.String("tenant_id", string(tenant)),
			slog.String("student_id", line.StudentID),
			slog.Any("error", out.Err),
		)
	}
	return out
}

func (w *Writer) posting(tenant tenancy.TenantID, studentID string, account AccountType, amount decimal.Decimal, description string, kind EntryType) Posting {
	return Posting{
		tenant:      tenant,
		student:     studentID,
		account:     account,
		amount:      money.Round(amount),
		description: description,
		kind:        kind,
	}
}

func (w *Writer) append(ctx context.Context, postings ...Posting) ([]Entry, error) {
	var entries []Entry
	err := w.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		entries, err = w.store.Append(ctx, postings...)
		if err != nil {
			return err
		}
		uow.AfterCommit(ctx, func() {
			for _, e := range entries {
				w.publish(ctx, events.Event{
					Kind:      events.KindEntryRecorded,
					TenantID:  string(e.TenantID),
					SubjectID: e.ID,
					Attributes: map[string]any{
						"student_id":   e.StudentID,
						"account_type": string(e.AccountType),
						"amount":       e.Amount.String(),
						"type":         string(e.Type),
					},
				})
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (w *Writer) publish(ctx context.Context, event events.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "publish event", slog.String("kind", event.Kind), slog.Any("error", err))
	}
}
