package uow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// PostgresRunner opens one pgx transaction per unit of work.
type PostgresRunner struct {
	db *pgxpool.Pool
}

// NewPostgresRunner builds a Runner backed by PostgreSQL.
func NewPostgresRunner(db *pgxpool.Pool) *PostgresRunner {
	return &PostgresRunner{db: db}
}

// Do implements Runner.
func (r *PostgresRunner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := Tx(ctx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ctx, j := withJournal(context.WithValue(ctx, txKey{}, tx))
	if err := fn(ctx); err != nil {
		j.rollback()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		j.rollback()
		return fmt.Errorf("commit unit of work: %w", err)
	}
	j.commit()
	return nil
}

// Tx returns the transaction carried by ctx, if any.
func Tx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Conn returns the active transaction or, outside a unit of work, the pool.
func Conn(ctx context.Context, db *pgxpool.Pool) Querier {
	if tx, ok := Tx(ctx); ok {
		return tx
	}
	return db
}
