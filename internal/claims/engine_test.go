package claims

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/events"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/logging"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

var (
	admin   = tenancy.Principal{ID: "teacher-1", Role: tenancy.RoleAdmin, Memberships: []tenancy.Membership{
		{StudentID: "teacher-1", TenantID: "tenant-a", Role: tenancy.RoleAdmin, Active: true},
		{StudentID: "teacher-1", TenantID: "tenant-b", Role: tenancy.RoleAdmin, Active: true},
	}}
	student = tenancy.Principal{ID: "s1", Role: tenancy.RoleStudent}
	other   = tenancy.Principal{ID: "s2", Role: tenancy.RoleStudent}
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	writer *ledger.Writer
	repo   *memoryRepository
	engine *Engine
	rec    *events.Recorder
	logs   *syncBuffer
	ctxA   context.Context
	ctxB   context.Context
}

func newFixture(t *testing.T, store ledger.Store, wrap func(*memoryRepository) Repository) *fixture {
	t.Helper()
	if store == nil {
		store = ledger.NewInMemory()
	}
	logs := &syncBuffer{}
	logger := logging.NewWithWriter(logs, "debug")
	rec := &events.Recorder{}
	w := ledger.NewWriter(store, uow.NewMemoryRunner(), rec, logger)
	mem := newMemoryRepository()
	var repo Repository = mem
	if wrap != nil {
		repo = wrap(mem)
	}
	return &fixture{
		writer: w,
		repo:   mem,
		engine: NewEngine(repo, w, rec, logger),
		rec:    rec,
		logs:   logs,
		ctxA:   tenancy.WithTenant(context.Background(), "tenant-a"),
		ctxB:   tenancy.WithTenant(context.Background(), "tenant-b"),
	}
}

// purchase seeds a balance for studentID and returns a -amount purchase.
func (f *fixture) purchase(t *testing.T, ctx context.Context, studentID, amount string) ledger.Entry {
	t.Helper()
	if _, err := f.writer.Credit(ctx, studentID, ledger.Checking, amt("100"), "payroll", ledger.TypePayroll); err != nil {
		t.Fatalf("seed payroll: %v", err)
	}
	e, err := f.writer.Debit(ctx, studentID, ledger.Checking, amt(amount), "lost textbook", ledger.TypePurchase)
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	return e
}

func (f *fixture) policy(t *testing.T, ctx context.Context, in PolicyInput) Policy {
	t.Helper()
	p, err := f.engine.CreatePolicy(ctx, admin, in)
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return p
}

func (f *fixture) monetaryPolicy(t *testing.T, ctx context.Context) Policy {
	return f.policy(t, ctx, PolicyInput{Name: "Textbook cover", Kind: PolicyTransactionMonetary})
}

func (f *fixture) reimbursements(t *testing.T, ctx context.Context, studentID string) int {
	t.Helper()
	entries, err := f.writer.List(ctx, studentID, ledger.Filter{Type: ledger.TypeReimbursement, IncludeVoid: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return len(entries)
}

func TestFileAndApproveReimburses(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)

	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID, Reason: "book stolen"})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if c.Status != StatusPending || !c.Amount.Equal(amt("20")) {
		t.Fatalf("unexpected claim %+v", c)
	}

	done, err := f.engine.Approve(f.ctxA, admin, c.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if done.Status != StatusReimbursed || done.ReimbursementEntryID == "" || done.DecidedBy != admin.ID {
		t.Fatalf("unexpected approved claim %+v", done)
	}
	entry, err := f.writer.Entry(f.ctxA, done.ReimbursementEntryID)
	if err != nil {
		t.Fatalf("reimbursement entry: %v", err)
	}
	if entry.Type != ledger.TypeReimbursement || !entry.Amount.Equal(amt("20")) || entry.TenantID != "tenant-a" {
		t.Fatalf("unexpected reimbursement entry %+v", entry)
	}
	bal, _ := f.writer.Balance(f.ctxA, "s1", ledger.Checking)
	if !bal.Equal(amt("100")) {
		t.Fatalf("expected 100 after reimbursement, got %s", bal)
	}

	kinds := strings.Join(f.rec.Kinds(), ",")
	if !strings.Contains(kinds, events.KindClaimFiled) || !strings.Contains(kinds, events.KindClaimReimbursed) {
		t.Fatalf("missing claim events: %s", kinds)
	}
}

func TestConcurrentFilingYieldsOneClaim(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes int32
		conflicts int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrDuplicateClaim) && apperr.Is(err, apperr.KindConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d / %d", attempts-1, successes, conflicts)
	}
	list, _ := f.engine.List(f.ctxA, admin, Filter{})
	count := 0
	for _, c := range list {
		if c.TransactionID == x.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one claim row for the transaction, got %d", count)
	}
}

func TestApproveRejectsVoidedTransaction(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	if _, err := f.writer.Void(f.ctxA, x.ID, "entered twice"); err != nil {
		t.Fatalf("void: %v", err)
	}

	_, err = f.engine.Approve(f.ctxA, admin, c.ID)
	if !errors.Is(err, ErrTransactionVoided) || !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected transaction voided validation error, got %v", err)
	}
	if apperr.Public(err) != "transaction voided" {
		t.Fatalf("unexpected public message %q", apperr.Public(err))
	}
	if n := f.reimbursements(t, f.ctxA, "s1"); n != 0 {
		t.Fatalf("expected no reimbursement, got %d", n)
	}
	stored, _ := f.engine.Get(f.ctxA, admin, c.ID)
	if stored.Status != StatusPending {
		t.Fatalf("claim left in %s", stored.Status)
	}
}

func TestApproveRejectsOwnerMismatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	y := f.purchase(t, f.ctxA, "s2", "35")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	// tamper with the stored claim
	f.repo.mu.Lock()
	tampered := f.repo.claims[c.ID]
	tampered.TransactionID = y.ID
	f.repo.claims[c.ID] = tampered
	f.repo.mu.Unlock()

	_, err = f.engine.Approve(f.ctxA, admin, c.ID)
	if !errors.Is(err, ErrTransactionOwnerMismatch) || !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("expected owner mismatch authorization error, got %v", err)
	}
	logs := f.logs.String()
	if !strings.Contains(logs, `"security_event":true`) || !strings.Contains(logs, "transaction_owner_mismatch") {
		t.Fatalf("expected a security log record, got %s", logs)
	}
	if f.reimbursements(t, f.ctxA, "s1") != 0 || f.reimbursements(t, f.ctxA, "s2") != 0 {
		t.Fatalf("reimbursement created despite mismatch")
	}
}

func TestApproveRejectsTransactionFromAnotherTenant(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	foreign := f.purchase(t, f.ctxB, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	f.repo.mu.Lock()
	tampered := f.repo.claims[c.ID]
	tampered.TransactionID = foreign.ID
	f.repo.claims[c.ID] = tampered
	f.repo.mu.Unlock()

	_, err = f.engine.Approve(f.ctxA, admin, c.ID)
	if !errors.Is(err, ErrTransactionTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	if !strings.Contains(f.logs.String(), "transaction_tenant_mismatch") {
		t.Fatalf("tenant mismatch not logged as a security event")
	}
}

func TestFileValidatesTransaction(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	foreign := f.purchase(t, f.ctxB, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	policyB := f.monetaryPolicy(t, f.ctxB)

	cases := []struct {
		name string
		p    tenancy.Principal
		in   FileInput
		want error
	}{
		{"other student's transaction", other, FileInput{PolicyID: policy.ID, TransactionID: x.ID}, ErrTransactionOwnerMismatch},
		{"missing transaction", student, FileInput{PolicyID: policy.ID}, ErrTransactionRequired},
		{"transaction in another tenant", student, FileInput{PolicyID: policy.ID, TransactionID: foreign.ID}, ErrTransactionNotFound},
		{"policy in another tenant", student, FileInput{PolicyID: policyB.ID, TransactionID: x.ID}, ErrPolicyNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.File(f.ctxA, tc.p, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := f.writer.Void(f.ctxA, x.ID, "mistake"); err != nil {
		t.Fatalf("void: %v", err)
	}
	if _, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID}); !errors.Is(err, ErrTransactionVoided) {
		t.Fatalf("expected voided transaction to be rejected, got %v", err)
	}

	if _, err := f.engine.DeactivatePolicy(f.ctxA, admin, policy.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	y := f.purchase(t, f.ctxA, "s1", "5")
	if _, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: y.ID}); !errors.Is(err, ErrPolicyInactive) {
		t.Fatalf("expected inactive policy, got %v", err)
	}

	if _, err := f.engine.File(context.Background(), student, FileInput{PolicyID: policy.ID, TransactionID: y.ID}); !errors.Is(err, tenancy.ErrNoTenant) {
		t.Fatalf("expected tenant required, got %v", err)
	}
}

func TestTerminalClaimsReleaseTheTransaction(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)

	first, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	denied, err := f.engine.Deny(f.ctxA, admin, first.ID, "no police report")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != StatusDenied || denied.Reason != "no police report" {
		t.Fatalf("unexpected denied claim %+v", denied)
	}
	if _, err := f.engine.Approve(f.ctxA, admin, first.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected denied claim to stay terminal, got %v", err)
	}

	second, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("refile after denial: %v", err)
	}
	if _, err := f.engine.Approve(f.ctxA, admin, second.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// a reimbursed claim still blocks the transaction
	if _, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID}); !errors.Is(err, ErrDuplicateClaim) {
		t.Fatalf("expected conflict after reimbursement, got %v", err)
	}
}

type blindRepository struct {
	*memoryRepository
}

func (blindRepository) ActiveForTransaction(context.Context, tenancy.TenantID, string) (Claim, bool, error) {
	return Claim{}, false, nil
}

func TestIntegrityViolationBecomesConflict(t *testing.T) {
	f := newFixture(t, nil, func(m *memoryRepository) Repository { return blindRepository{m} })
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)

	if _, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID}); err != nil {
		t.Fatalf("file: %v", err)
	}
	_, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if !errors.Is(err, ErrDuplicateClaim) || apperr.Is(err, apperr.KindIntegrity) {
		t.Fatalf("expected conflict, got %v", err)
	}
	logs := f.logs.String()
	if !strings.Contains(logs, "claim integrity violation") || !strings.Contains(logs, `"level":"ERROR"`) {
		t.Fatalf("integrity violation not logged at error: %s", logs)
	}
	if !strings.Contains(logs, activeClaimConstraint) {
		t.Fatalf("constraint name missing from log")
	}
}

type failingReimbursedRepository struct {
	*memoryRepository
}

func (r failingReimbursedRepository) Transition(ctx context.Context, next Claim, from Status) (Claim, error) {
	if next.Status == StatusReimbursed {
		return Claim{}, errors.New("disk full")
	}
	return r.memoryRepository.Transition(ctx, next, from)
}

func TestApprovalIsAllOrNothing(t *testing.T) {
	f := newFixture(t, nil, func(m *memoryRepository) Repository { return failingReimbursedRepository{m} })
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	if _, err := f.engine.Approve(f.ctxA, admin, c.ID); err == nil {
		t.Fatalf("expected approval to fail")
	}
	if n := f.reimbursements(t, f.ctxA, "s1"); n != 0 {
		t.Fatalf("reimbursement entry survived a failed approval: %d", n)
	}
	stored, _ := f.repo.Claim(f.ctxA, "tenant-a", c.ID)
	if stored.Status != StatusPending || stored.DecidedAt != nil {
		t.Fatalf("claim not rolled back: %+v", stored)
	}
	for _, k := range f.rec.Kinds() {
		if k == events.KindClaimReimbursed {
			t.Fatalf("reimbursed event published for a rolled back approval")
		}
	}
}

// approvalHookRepository calls onApprove while the approval's unit of work
// is open.
type approvalHookRepository struct {
	*memoryRepository
	onApprove func()
}

func (r approvalHookRepository) Transition(ctx context.Context, next Claim, from Status) (Claim, error) {
	if next.Status == StatusApproved && r.onApprove != nil {
		r.onApprove()
	}
	return r.memoryRepository.Transition(ctx, next, from)
}

func TestVoidWaitsForInFlightApproval(t *testing.T) {
	var (
		f        *fixture
		x        ledger.Entry
		voidDone atomic.Bool
		voided   = make(chan error, 1)
	)
	hook := func() {
		go func() {
			_, err := f.writer.Void(f.ctxA, x.ID, "entered in error")
			voidDone.Store(true)
			voided <- err
		}()
		time.Sleep(20 * time.Millisecond)
		if voidDone.Load() {
			t.Errorf("void committed while the approval was in flight")
		}
	}
	f = newFixture(t, nil, func(m *memoryRepository) Repository {
		return approvalHookRepository{memoryRepository: m, onApprove: hook}
	})
	x = f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	done, err := f.engine.Approve(f.ctxA, admin, c.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := <-voided; err != nil {
		t.Fatalf("void: %v", err)
	}
	if done.Status != StatusReimbursed {
		t.Fatalf("expected reimbursed, got %s", done.Status)
	}
	entry, _ := f.writer.Entry(f.ctxA, x.ID)
	if !entry.IsVoid {
		t.Fatalf("void should apply once the approval committed")
	}
}

// observingFailRepository fails the final transition after letting observe
// read the stores from outside the unit of work.
type observingFailRepository struct {
	*memoryRepository
	observe func()
}

func (r observingFailRepository) Transition(ctx context.Context, next Claim, from Status) (Claim, error) {
	if next.Status == StatusReimbursed {
		r.observe()
		return Claim{}, errors.New("disk full")
	}
	return r.memoryRepository.Transition(ctx, next, from)
}

func TestInFlightApprovalIsInvisibleToOtherReaders(t *testing.T) {
	var f *fixture
	observed := false
	observe := func() {
		observed = true
		bal, _ := f.writer.Balance(f.ctxA, "s1", ledger.Checking)
		if !bal.Equal(amt("80")) {
			t.Errorf("uncommitted reimbursement visible, balance %s", bal)
		}
		if n := f.reimbursements(t, f.ctxA, "s1"); n != 0 {
			t.Errorf("uncommitted reimbursement listed: %d", n)
		}
		list, _ := f.repo.List(f.ctxA, "tenant-a", Filter{})
		for _, c := range list {
			if c.Status != StatusPending {
				t.Errorf("uncommitted claim status visible: %s", c.Status)
			}
		}
	}
	f = newFixture(t, nil, func(m *memoryRepository) Repository {
		return observingFailRepository{memoryRepository: m, observe: observe}
	})
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, err := f.engine.Approve(f.ctxA, admin, c.ID); err == nil {
		t.Fatalf("expected approval to fail")
	}
	if !observed {
		t.Fatalf("final transition never reached")
	}
}

func TestFlatPolicyPayoutIsRounded(t *testing.T) {
	f := newFixture(t, nil, nil)
	policy := f.policy(t, f.ctxA, PolicyInput{Name: "Sick day", Kind: PolicyFlat, FlatPayout: amt("12.345")})
	if !policy.FlatPayout.Equal(amt("12.35")) {
		t.Fatalf("expected 12.35, got %s", policy.FlatPayout)
	}

	x := f.purchase(t, f.ctxA, "s1", "1")
	if _, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID}); !errors.Is(err, ErrTransactionForbidden) {
		t.Fatalf("expected flat policy to refuse a transaction, got %v", err)
	}
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	done, err := f.engine.Approve(f.ctxA, admin, c.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !done.Amount.Equal(amt("12.35")) {
		t.Fatalf("unexpected payout %s", done.Amount)
	}
}

func TestMonetaryPayoutRoundsHalfUp(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.writer.Credit(f.ctxA, "s1", ledger.Checking, amt("50"), "payroll", ledger.TypePayroll); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// recorded as -7.13; the payout is taken from the stored amount
	x, err := f.writer.Record(f.ctxA, "s1", ledger.Checking, amt("-7.125"), "fine", ledger.TypeAdjustment)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if !c.Amount.Equal(amt("7.13")) {
		t.Fatalf("expected 7.13, got %s", c.Amount)
	}
}

func TestAdminOfAnotherTenantCannotDecide(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	// admin role on the token, but only a student membership in tenant-a
	outsider := tenancy.Principal{ID: "teacher-2", Role: tenancy.RoleAdmin, Memberships: []tenancy.Membership{
		{StudentID: "teacher-2", TenantID: "tenant-a", Role: tenancy.RoleStudent, Active: true},
		{StudentID: "teacher-2", TenantID: "tenant-b", Role: tenancy.RoleAdmin, Active: true},
	}}
	if _, err := f.engine.Approve(f.ctxA, outsider, c.ID); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}
	if _, err := f.engine.Deny(f.ctxA, outsider, c.ID, "nope"); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}
	if list, _ := f.engine.List(f.ctxA, outsider, Filter{}); len(list) != 0 {
		t.Fatalf("outsider should only see own claims, got %d", len(list))
	}
	stored, _ := f.engine.Get(f.ctxA, admin, c.ID)
	if stored.Status != StatusPending {
		t.Fatalf("claim changed: %s", stored.Status)
	}
	bal, _ := f.writer.Balance(f.ctxA, "s1", ledger.Checking)
	if !bal.Equal(amt("80")) {
		t.Fatalf("expected balance 80, got %s", bal)
	}
	logs := f.logs.String()
	if !strings.Contains(logs, `"security_event":true`) || !strings.Contains(logs, "admin_required") {
		t.Fatalf("expected a security log record, got %s", logs)
	}
}

func TestWithdrawAndDenyPermissions(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	if _, err := f.engine.Withdraw(f.ctxA, other, c.ID, ""); !errors.Is(err, ErrNotFiler) {
		t.Fatalf("expected only the filer to withdraw, got %v", err)
	}
	if _, err := f.engine.Deny(f.ctxA, student, c.ID, "nope"); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}
	if _, err := f.engine.Approve(f.ctxA, student, c.ID); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}
	if _, err := f.engine.Deny(f.ctxA, admin, c.ID, " "); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected reason required, got %v", err)
	}

	w, err := f.engine.Withdraw(f.ctxA, student, c.ID, "")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if w.Status != StatusWithdrawn || w.Reason == "" {
		t.Fatalf("unexpected withdrawn claim %+v", w)
	}
}

func TestStudentsSeeOnlyTheirClaims(t *testing.T) {
	f := newFixture(t, nil, nil)
	x := f.purchase(t, f.ctxA, "s1", "20")
	y := f.purchase(t, f.ctxA, "s2", "10")
	policy := f.monetaryPolicy(t, f.ctxA)
	mine, _ := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	theirs, _ := f.engine.File(f.ctxA, other, FileInput{PolicyID: policy.ID, TransactionID: y.ID})

	list, err := f.engine.List(f.ctxA, student, Filter{StudentID: "s2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("student list leaked other claims: %+v", list)
	}
	if _, err := f.engine.Get(f.ctxA, student, theirs.ID); !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	all, _ := f.engine.List(f.ctxA, admin, Filter{Status: StatusPending})
	if len(all) != 2 {
		t.Fatalf("admin should see both claims, got %d", len(all))
	}
	if none, _ := f.engine.List(f.ctxB, admin, Filter{}); len(none) != 0 {
		t.Fatalf("tenant b sees tenant a claims")
	}
}

type lockingStore struct {
	ledger.Store
	locks atomic.Int32
}

func (s *lockingStore) LockEntry(ctx context.Context, tenant tenancy.TenantID, id string) (ledger.Entry, error) {
	if !uow.Active(ctx) {
		return ledger.Entry{}, ledger.ErrNoUnitOfWork
	}
	s.locks.Add(1)
	return s.Store.Entry(ctx, tenant, id)
}

func TestGuardPicksStrategyFromStoreCapability(t *testing.T) {
	plain := NewGuard(ledger.NewInMemory(), NewMemoryRepository(), logging.Discard())
	if plain.Strategy() != "unique_constraint" {
		t.Fatalf("expected constraint strategy, got %s", plain.Strategy())
	}

	store := &lockingStore{Store: ledger.NewInMemory()}
	f := newFixture(t, store, nil)
	if f.engine.Guard().Strategy() != "row_lock" {
		t.Fatalf("expected row lock strategy, got %s", f.engine.Guard().Strategy())
	}
	x := f.purchase(t, f.ctxA, "s1", "20")
	policy := f.monetaryPolicy(t, f.ctxA)
	c, err := f.engine.File(f.ctxA, student, FileInput{PolicyID: policy.ID, TransactionID: x.ID})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, err := f.engine.Approve(f.ctxA, admin, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := store.locks.Load(); got != 2 {
		t.Fatalf("expected the transaction locked at filing and approval, got %d", got)
	}
}
