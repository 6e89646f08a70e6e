// Package claims implements insurance-style reimbursement claims against
// ledger entries. A claim moves through a small state machine and is
// guarded so that one transaction carries at most one active claim.
package claims

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/tenancy"
)

// PolicyKind selects how a policy computes its payout.
type PolicyKind string

const (
	// PolicyFlat pays a fixed amount and references no transaction.
	PolicyFlat PolicyKind = "flat"
	// PolicyTransactionMonetary pays the absolute value of one ledger entry.
	PolicyTransactionMonetary PolicyKind = "transaction_monetary"
)

// Valid reports whether k is a known policy kind.
func (k PolicyKind) Valid() bool { return k == PolicyFlat || k == PolicyTransactionMonetary }

// Policy is a tenant-scoped insurance product.
type Policy struct {
	ID         string
	TenantID   tenancy.TenantID
	Name       string
	Kind       PolicyKind
	FlatPayout decimal.Decimal
	Active     bool
	CreatedAt  time.Time
}

// Status is a claim's position in the state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusReimbursed Status = "reimbursed"
	StatusDenied     Status = "denied"
	StatusWithdrawn  Status = "withdrawn"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusReimbursed, StatusDenied, StatusWithdrawn:
		return true
	}
	return false
}

// Active reports whether a claim in status s blocks another claim on the
// same transaction. A reimbursed claim keeps blocking: the transaction has
// already been paid out.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved || s == StatusReimbursed
}

// Claim is a request for reimbursement.
type Claim struct {
	ID                   string
	TenantID             tenancy.TenantID
	PolicyID             string
	StudentID            string
	TransactionID        string
	Status               Status
	Amount               decimal.Decimal
	Reason               string
	FiledAt              time.Time
	DecidedAt            *time.Time
	DecidedBy            string
	ReimbursementEntryID string
}

// FileInput carries a student's claim submission.
type FileInput struct {
	PolicyID      string
	TransactionID string
	Reason        string
}

// PolicyInput describes a new policy.
type PolicyInput struct {
	Name       string
	Kind       PolicyKind
	FlatPayout decimal.Decimal
}

// Filter narrows List results.
type Filter struct {
	Status    Status
	StudentID string
	Limit     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}
