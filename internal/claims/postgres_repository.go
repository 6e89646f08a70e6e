package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

// PostgresRepository stores policies and claims in PostgreSQL. The partial
// unique index claims_active_transaction_uidx backs Insert.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed claims repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const policyColumns = `id::text, tenant_id, name, kind, flat_payout::text, active, created_at`

const claimColumns = `id::text, tenant_id, policy_id::text, student_id, COALESCE(transaction_id::text, ''), status,
        amount::text, reason, filed_at, decided_at, decided_by, COALESCE(reimbursement_entry_id::text, '')`

func (r *PostgresRepository) CreatePolicy(ctx context.Context, p Policy) error {
	_, err := uow.Conn(ctx, r.db).Exec(ctx, `INSERT INTO insurance_policies (id, tenant_id, name, kind, flat_payout, active, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		p.ID, string(p.TenantID), p.Name, string(p.Kind), p.FlatPayout.String(), p.Active, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Policy(ctx context.Context, tenant tenancy.TenantID, id string) (Policy, error) {
	if !validID(id) {
		return Policy{}, ErrPolicyNotFound
	}
	row := uow.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+policyColumns+` FROM insurance_policies
        WHERE tenant_id = $1 AND id = $2`, string(tenant), id)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrPolicyNotFound
	}
	return p, err
}

func (r *PostgresRepository) Policies(ctx context.Context, tenant tenancy.TenantID, activeOnly bool) ([]Policy, error) {
	rows, err := uow.Conn(ctx, r.db).Query(ctx, `SELECT `+policyColumns+` FROM insurance_policies
        WHERE tenant_id = $1 AND ($2 = false OR active) ORDER BY created_at, id`, string(tenant), activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetPolicyActive(ctx context.Context, tenant tenancy.TenantID, id string, active bool) (Policy, error) {
	if !validID(id) {
		return Policy{}, ErrPolicyNotFound
	}
	row := uow.Conn(ctx, r.db).QueryRow(ctx, `UPDATE insurance_policies SET active = $3
        WHERE tenant_id = $1 AND id = $2 RETURNING `+policyColumns, string(tenant), id, active)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrPolicyNotFound
	}
	return p, err
}

func (r *PostgresRepository) Insert(ctx context.Context, c Claim) error {
	var txID any
	if c.TransactionID != "" {
		txID = c.TransactionID
	}
	_, err := uow.Conn(ctx, r.db).Exec(ctx, `INSERT INTO claims
        (id, tenant_id, policy_id, student_id, transaction_id, status, amount, reason, filed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`,
		c.ID, string(c.TenantID), c.PolicyID, c.StudentID, txID, string(c.Status), c.Amount.String(), c.Reason, c.FiledAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Integrity(pgErr.ConstraintName, err)
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Claim(ctx context.Context, tenant tenancy.TenantID, id string) (Claim, error) {
	if !validID(id) {
		return Claim{}, ErrClaimNotFound
	}
	q := `SELECT ` + claimColumns + ` FROM claims WHERE tenant_id = $1 AND id = $2`
	if _, ok := uow.Tx(ctx); ok {
		q += ` FOR UPDATE`
	}
	c, err := scanClaim(uow.Conn(ctx, r.db).QueryRow(ctx, q, string(tenant), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, ErrClaimNotFound
	}
	return c, err
}

func (r *PostgresRepository) ActiveForTransaction(ctx context.Context, tenant tenancy.TenantID, transactionID string) (Claim, bool, error) {
	if !validID(transactionID) {
		return Claim{}, false, nil
	}
	row := uow.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+claimColumns+` FROM claims
        WHERE tenant_id = $1 AND transaction_id = $2 AND status IN ('pending', 'approved', 'reimbursed')
        LIMIT 1`, string(tenant), transactionID)
	c, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, false, nil
	}
	if err != nil {
		return Claim{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, next Claim, from Status) (Claim, error) {
	if !validID(next.ID) {
		return Claim{}, ErrClaimNotFound
	}
	var entryID any
	if next.ReimbursementEntryID != "" {
		entryID = next.ReimbursementEntryID
	}
	row := uow.Conn(ctx, r.db).QueryRow(ctx, `UPDATE claims SET status = $3, amount = $4::numeric, reason = $5,
        decided_at = $6, decided_by = $7, reimbursement_entry_id = $8
        WHERE tenant_id = $1 AND id = $2 AND status = $9
        RETURNING `+claimColumns,
		string(next.TenantID), next.ID, string(next.Status), next.Amount.String(), next.Reason,
		next.DecidedAt, next.DecidedBy, entryID, string(from))
	c, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, lookupErr := r.Claim(ctx, next.TenantID, next.ID); lookupErr != nil {
			return Claim{}, lookupErr
		}
		return Claim{}, ErrStaleClaim
	}
	return c, err
}

func (r *PostgresRepository) List(ctx context.Context, tenant tenancy.TenantID, filter Filter) ([]Claim, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{string(tenant)}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	args = append(args, filter.limit())
	q := fmt.Sprintf(`SELECT %s FROM claims WHERE %s ORDER BY filed_at DESC, id DESC LIMIT $%d`,
		claimColumns, strings.Join(where, " AND "), len(args))

	rows, err := uow.Conn(ctx, r.db).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p            Policy
		tenant, kind string
		payout       string
	)
	if err := row.Scan(&p.ID, &tenant, &p.Name, &kind, &payout, &p.Active, &p.CreatedAt); err != nil {
		return Policy{}, err
	}
	amount, err := decimal.NewFromString(payout)
	if err != nil {
		return Policy{}, fmt.Errorf("parse flat payout: %w", err)
	}
	p.TenantID = tenancy.TenantID(tenant)
	p.Kind = PolicyKind(kind)
	p.FlatPayout = amount
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanClaim(row pgx.Row) (Claim, error) {
	var (
		c              Claim
		tenant, status string
		amount         string
		decidedAt      *time.Time
		decidedBy      *string
	)
	if err := row.Scan(&c.ID, &tenant, &c.PolicyID, &c.StudentID, &c.TransactionID, &status,
		&amount, &c.Reason, &c.FiledAt, &decidedAt, &decidedBy, &c.ReimbursementEntryID); err != nil {
		return Claim{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Claim{}, fmt.Errorf("parse claim amount: %w", err)
	}
	c.TenantID = tenancy.TenantID(tenant)
	c.Status = Status(status)
	c.Amount = d
	c.FiledAt = c.FiledAt.UTC()
	if decidedAt != nil {
		t := decidedAt.UTC()
		c.DecidedAt = &t
	}
	if decidedBy != nil {
		c.DecidedBy = *decidedBy
	}
	return c, nil
}
