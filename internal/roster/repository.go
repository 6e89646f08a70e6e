package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classbank/classbank/internal/tenancy"
)

// Repository persists tenants, students and memberships.
type Repository interface {
	CreateTenant(ctx context.Context, tenant Tenant) error
	TenantByJoinCode(ctx context.Context, code string) (Tenant, error)
	CreateStudent(ctx context.Context, student Student) error
	AddMembership(ctx context.Context, m tenancy.Membership) error
	Membership(ctx context.Context, studentID string, tenant tenancy.TenantID) (tenancy.Membership, error)
	MembershipsFor(ctx context.Context, studentID string) ([]tenancy.Membership, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed roster repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateTenant inserts a tenant; join codes are unique.
func (r *PostgresRepository) CreateTenant(ctx context.Context, t Tenant) error {
	_, err := r.db.Exec(ctx, `INSERT INTO tenants (id, join_code, name, owner_id, created_at)
        VALUES ($1, $2, $3, $4, $5)`, string(t.ID), t.JoinCode, t.Name, t.OwnerID, t.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrJoinCodeTaken
	}
	return err
}

// TenantByJoinCode fetches a tenant by its join code.
func (r *PostgresRepository) TenantByJoinCode(ctx context.Context, code string) (Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT id, join_code, name, owner_id, created_at FROM tenants WHERE join_code = $1`, code)
	var (
		t  Tenant
		id string
	)
	if err := row.Scan(&id, &t.JoinCode, &t.Name, &t.OwnerID, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	t.ID = tenancy.TenantID(id)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// CreateStudent inserts a student identity, ignoring repeats.
func (r *PostgresRepository) CreateStudent(ctx context.Context, s Student) error {
	_, err := r.db.Exec(ctx, `INSERT INTO students (id, display_name, created_at) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO NOTHING`, s.ID, s.DisplayName, s.CreatedAt.UTC())
	return err
}

// AddMembership stores a membership. Re-joining reactivates it and keeps the
// original claim time and role.
func (r *PostgresRepository) AddMembership(ctx context.Context, m tenancy.Membership) error {
	role := m.Role
	if role == "" {
		role = tenancy.RoleStudent
	}
	_, err := r.db.Exec(ctx, `INSERT INTO memberships (student_id, tenant_id, role, claimed_at, active)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (student_id, tenant_id) DO UPDATE SET active = EXCLUDED.active`,
		m.StudentID, string(m.TenantID), string(role), m.ClaimedAt.UTC(), m.Active)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

const membershipColumns = `m.student_id, m.tenant_id, m.role, t.join_code, m.claimed_at, m.active`

// Membership fetches one membership.
func (r *PostgresRepository) Membership(ctx context.Context, studentID string, tenant tenancy.TenantID) (tenancy.Membership, error) {
	row := r.db.QueryRow(ctx, `SELECT `+membershipColumns+`
        FROM memberships m JOIN tenants t ON t.id = m.tenant_id
        WHERE m.student_id = $1 AND m.tenant_id = $2`, studentID, string(tenant))
	m, err := scanMembership(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenancy.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// MembershipsFor lists a student's memberships, oldest claim first.
func (r *PostgresRepository) MembershipsFor(ctx context.Context, studentID string) ([]tenancy.Membership, error) {
	rows, err := r.db.Query(ctx, `SELECT `+membershipColumns+`
        FROM memberships m JOIN tenants t ON t.id = m.tenant_id
        WHERE m.student_id = $1 ORDER BY m.claimed_at, m.tenant_id`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tenancy.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMembership(row pgx.Row) (tenancy.Membership, error) {
	var (
		m      tenancy.Membership
		tenant string
		role   string
	)
	if err := row.Scan(&m.StudentID, &tenant, &role, &m.JoinCode, &m.ClaimedAt, &m.Active); err != nil {
		return tenancy.Membership{}, err
	}
	m.TenantID = tenancy.TenantID(tenant)
	m.Role = tenancy.Role(role)
	m.ClaimedAt = m.ClaimedAt.UTC()
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
