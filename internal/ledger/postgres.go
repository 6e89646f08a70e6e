package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

const entryColumns = `id, seq, tenant_id, student_id, account_type, amount::text, description,
        entry_type, COALESCE(transfer_id::text, ''), created_at, is_void, void_reason, voided_at`

// PostgresLedger persists ledger entries in PostgreSQL. It joins the unit of
// work carried by ctx and otherwise opens its own transaction per write.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if tx, ok := uow.Tx(ctx); ok {
		return fn(tx)
	}
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Append records the postings in a single transaction. Accounts that must
// stay funded are locked FOR UPDATE before their balance is checked.
func (l *PostgresLedger) Append(ctx context.Context, postings ...Posting) ([]Entry, error) {
	if err := validatePostings(postings); err != nil {
		return nil, err
	}

	var out []Entry
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		pending := make(map[accountKey]decimal.Decimal)
		for _, p := range postings {
			if err := ensureAccount(ctx, tx, p.key()); err != nil {
				return err
			}
			pending[p.key()] = pending[p.key()].Add(p.amount)
		}

		for _, p := range postings {
			if !p.requireFunds {
				continue
			}
			k := p.key()
			if err := lockAccount(ctx, tx, k); err != nil {
				return err
			}
			bal, err := balanceForAccount(ctx, tx, k)
			if err != nil {
				return err
			}
			if bal.Add(pending[k]).IsNegative() {
				return ErrInsufficientFunds
			}
		}

		out = make([]Entry, 0, len(postings))
		for _, p := range postings {
			var transferID *string
			if p.transferID != "" {
				transferID = &p.transferID
			}
			row := tx.QueryRow(ctx, `INSERT INTO ledger_entries
                (id, tenant_id, student_id, account_type, amount, description, entry_type, transfer_id)
                VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::uuid)
                RETURNING `+entryColumns,
				uuid.New(), string(p.tenant), p.student, string(p.account), p.amount.String(), p.description, string(p.kind), transferID)
			e, err := scanEntry(row)
			if err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Entry fetches one entry inside tenant.
func (l *PostgresLedger) Entry(ctx context.Context, tenant tenancy.TenantID, id string) (Entry, error) {
	if !tenant.Valid() {
		return Entry{}, ErrTenantRequired
	}
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, ErrEntryNotFound
	}
	row := uow.Conn(ctx, l.db).QueryRow(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries WHERE tenant_id = $1 AND id = $2`, string(tenant), entryID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

// LockEntry selects the entry FOR UPDATE inside the active unit of work.
func (l *PostgresLedger) LockEntry(ctx context.Context, tenant tenancy.TenantID, id string) (Entry, error) {
	if !tenant.Valid() {
		return Entry{}, ErrTenantRequired
	}
	tx, ok := uow.Tx(ctx)
	if !ok {
		return Entry{}, ErrNoUnitOfWork
	}
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, ErrEntryNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+entryColumns+`
        FROM ledger_entries WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, string(tenant), entryID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

// Balance returns the sum of non-void entries for the exact triple.
func (l *PostgresLedger) Balance(ctx context.Context, tenant tenancy.TenantID, studentID string, account AccountType) (decimal.Decimal, error) {
	if !tenant.Valid() {
		return decimal.Zero, ErrTenantRequired
	}
	return balanceForAccount(ctx, uow.Conn(ctx, l.db), accountKey{tenant: tenant, student: studentID, account: account})
}

// List returns entries newest first, resuming after filter.Before when set.
func (l *PostgresLedger) List(ctx context.Context, tenant tenancy.TenantID, studentID string, filter Filter) ([]Entry, error) {
	if !tenant.Valid() {
		return nil, ErrTenantRequired
	}

	var (
		where = []string{"tenant_id = $1", "student_id = $2"}
		args  = []any{string(tenant), studentID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.AccountType != "" {
		where = append(where, "account_type = "+arg(string(filter.AccountType)))
	}
	if filter.Type != "" {
		where = append(where, "entry_type = "+arg(string(filter.Type)))
	}
	if !filter.IncludeVoid {
		where = append(where, "NOT is_void")
	}
	if filter.Before != nil {
		where = append(where, fmt.Sprintf("(created_at, seq) < (%s, %s)", arg(filter.Before.CreatedAt), arg(filter.Before.Seq)))
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, seq DESC LIMIT ` + arg(filter.EffectiveLimit())

	rows, err := uow.Conn(ctx, l.db).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Void flags the entry void. A second void leaves the row untouched.
func (l *PostgresLedger) Void(ctx context.Context, tenant tenancy.TenantID, id, reason string) (Entry, bool, error) {
	if !tenant.Valid() {
		return Entry{}, false, ErrTenantRequired
	}
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, false, ErrEntryNotFound
	}

	var (
		entry   Entry
		changed bool
	)
	err = l.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE ledger_entries
            SET is_void = true, void_reason = $3, voided_at = now()
            WHERE tenant_id = $1 AND id = $2 AND NOT is_void
            RETURNING `+entryColumns, string(tenant), entryID, reason)
		e, err := scanEntry(row)
		if err == nil {
			entry, changed = e, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		row = tx.QueryRow(ctx, `SELECT `+entryColumns+`
            FROM ledger_entries WHERE tenant_id = $1 AND id = $2`, string(tenant), entryID)
		e, err = scanEntry(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryNotFound
		}
		entry = e
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, changed, nil
}

func ensureAccount(ctx context.Context, tx pgx.Tx, k accountKey) error {
	_, err := tx.Exec(ctx, `INSERT INTO accounts (tenant_id, student_id, account_type) VALUES ($1, $2, $3)
        ON CONFLICT (tenant_id, student_id, account_type) DO NOTHING`, string(k.tenant), k.student, string(k.account))
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func lockAccount(ctx context.Context, tx pgx.Tx, k accountKey) error {
	const query = `SELECT 1 FROM accounts WHERE tenant_id = $1 AND student_id = $2 AND account_type = $3 FOR UPDATE`
	var one int
	if err := tx.QueryRow(ctx, query, string(k.tenant), k.student, string(k.account)).Scan(&one); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

func balanceForAccount(ctx context.Context, q uow.Querier, k accountKey) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries
        WHERE tenant_id = $1 AND student_id = $2 AND account_type = $3 AND NOT is_void`
	var raw string
	if err := q.QueryRow(ctx, query, string(k.tenant), k.student, string(k.account)).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e       Entry
		id      uuid.UUID
		tenant  string
		account string
		kind    string
		amount  string
		voided  *time.Time
	)
	if err := row.Scan(&id, &e.Seq, &tenant, &e.StudentID, &account, &amount, &e.Description,
		&kind, &e.TransferID, &e.CreatedAt, &e.IsVoid, &e.VoidReason, &voided); err != nil {
		return Entry{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Entry{}, fmt.Errorf("parse amount: %w", err)
	}
	e.ID = id.String()
	e.TenantID = tenancy.TenantID(tenant)
	e.AccountType = AccountType(account)
	e.Type = EntryType(kind)
	e.Amount = parsed
	e.CreatedAt = e.CreatedAt.UTC()
	if voided != nil {
		t := voided.UTC()
		e.VoidedAt = &t
	}
	return e, nil
}
