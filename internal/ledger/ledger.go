// Package ledger is the append-only, tenant-scoped transaction log. Balances
// are derived by summing non-void entries for an exact
// (tenant, student, account type) triple; no running totals are stored.
//
// Entries can only be created from Posting values, and Postings can only be
// built by Writer, which stamps the resolved tenant and applies the money
// rounding rule.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/tenancy"
)

var (
	// ErrEntryNotFound is returned when no entry with the id exists in the tenant.
	ErrEntryNotFound = apperr.NotFound("entry_not_found", "ledger entry not found")

	// ErrInsufficientFunds occurs when a debit would take an account below zero.
	ErrInsufficientFunds = apperr.Validation("insufficient_funds", "insufficient funds")

	// ErrTenantRequired is returned for postings without a tenant.
	ErrTenantRequired = apperr.Validation("tenant_required", "tenant id is required")

	// ErrMixedTenants is returned when one append spans tenants.
	ErrMixedTenants = apperr.Validation("mixed_tenants", "postings in one commit must share a tenant")

	// ErrNoUnitOfWork is returned by LockEntry outside a unit of work.
	ErrNoUnitOfWork = apperr.Validation("no_unit_of_work", "row lock requires an active unit of work")
)

// AccountType names one of a student's accounts inside a tenant.
type AccountType string

const (
	Checking AccountType = "checking"
	Savings  AccountType = "savings"
)

// Valid reports whether a is a known account type.
func (a AccountType) Valid() bool { return a == Checking || a == Savings }

// EntryType describes the domain action that produced an entry.
type EntryType string

const (
	TypePayroll       EntryType = "payroll"
	TypePurchase      EntryType = "purchase"
	TypeRent          EntryType = "rent"
	TypeTransfer      EntryType = "transfer"
	TypeInterest      EntryType = "interest"
	TypeReimbursement EntryType = "reimbursement"
	TypeAdjustment    EntryType = "adjustment"
	TypeDeposit       EntryType = "deposit"
	TypePayment       EntryType = "payment"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypePayroll, TypePurchase, TypeRent, TypeTransfer, TypeInterest,
		TypeReimbursement, TypeAdjustment, TypeDeposit, TypePayment:
		return true
	}
	return false
}

// Entry is an immutable ledger record. IsVoid, VoidReason and VoidedAt are
// the only fields that change after creation, and only once.
type Entry struct {
	ID          string
	Seq         int64
	TenantID    tenancy.TenantID
	StudentID   string
	AccountType AccountType
	Amount      decimal.Decimal
	Description string
	Type        EntryType
	TransferID  string
	CreatedAt   time.Time
	IsVoid      bool
	VoidReason  string
	VoidedAt    *time.Time
}

// Cursor positions a listing after the last entry of a previous page.
type Cursor struct {
	CreatedAt time.Time
	Seq       int64
}

// CursorOf returns the cursor that resumes a listing after e.
func CursorOf(e Entry) Cursor { return Cursor{CreatedAt: e.CreatedAt, Seq: e.Seq} }

// Filter narrows List results. The zero value lists every non-void entry.
type Filter struct {
	AccountType AccountType
	Type        EntryType
	IncludeVoid bool
	Before      *Cursor
	Limit       int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// EffectiveLimit is the page size List applies for f.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// Posting is one entry waiting to be appended. Its fields are unexported:
// only Writer can build a Posting that passes validation.
type Posting struct {
	tenant       tenancy.TenantID
	student      string
	account      AccountType
	amount       decimal.Decimal
	description  string
	kind         EntryType
	transferID   string
	requireFunds bool
}

func (p Posting) validate() error {
	switch {
	case !p.tenant.Valid():
		return ErrTenantRequired
	case p.student == "":
		return apperr.Validation("student_required", "student id is required")
	case !p.account.Valid():
		return apperr.Validation("invalid_account_type", "account type must be checking or savings")
	case !p.kind.Valid():
		return apperr.Validation("invalid_entry_type", "unknown entry type")
	case p.amount.IsZero():
		return apperr.Validation("amount_zero", "amount must be non-zero")
	}
	return nil
}

func validatePostings(postings []Posting) error {
	if len(postings) == 0 {
		return apperr.Validation("no_postings", "nothing to append")
	}
	for _, p := range postings {
		if err := p.validate(); err != nil {
			return err
		}
		if p.tenant != postings[0].tenant {
			return ErrMixedTenants
		}
	}
	return nil
}

type accountKey struct {
	tenant  tenancy.TenantID
	student string
	account AccountType
}

func (p Posting) key() accountKey {
	return accountKey{tenant: p.tenant, student: p.student, account: p.account}
}

// Store is implemented by ledger backends. Every read is tenant-scoped;
// there is no accessor spanning tenants.
type Store interface {
	// Append writes all postings in one atomic commit.
	Append(ctx context.Context, postings ...Posting) ([]Entry, error)
	Entry(ctx context.Context, tenant tenancy.TenantID, id string) (Entry, error)
	Balance(ctx context.Context, tenant tenancy.TenantID, studentID string, account AccountType) (decimal.Decimal, error)
	List(ctx context.Context, tenant tenancy.TenantID, studentID string, filter Filter) ([]Entry, error)
	// Void marks the entry void. changed is false when it already was.
	Void(ctx context.Context, tenant tenancy.TenantID, id, reason string) (entry Entry, changed bool, err error)
}

// EntryLocker is implemented by backends that support row-level exclusive
// locks. The lock is held until the surrounding unit of work ends.
type EntryLocker interface {
	LockEntry(ctx context.Context, tenant tenancy.TenantID, id string) (Entry, error)
}
