package accounts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/tenancy"
)

// Summary is a student's balances inside one tenant.
type Summary struct {
	TenantID  tenancy.TenantID
	StudentID string
	Checking  decimal.Decimal
	Savings   decimal.Decimal
	AsOf      time.Time
}

// Statement is one page of a student's entries. Next is nil on the last page.
type Statement struct {
	Entries []ledger.Entry
	Next    *ledger.Cursor
}

// StatementQuery selects a page of entries.
type StatementQuery struct {
	AccountType ledger.AccountType
	Type        ledger.EntryType
	IncludeVoid bool
	Before      *ledger.Cursor
	Limit       int
}

// PostInput is an admin domain action against one student's account.
type PostInput struct {
	StudentID   string
	AccountType ledger.AccountType
	Amount      decimal.Decimal
	Description string
	Type        ledger.EntryType
}
