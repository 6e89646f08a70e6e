package claims

import (
	"context"
	"log/slog"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/ledger"
	"github.com/classbank/classbank/internal/tenancy"
)

// entryLoader reads the ledger entry a claim refers to.
type entryLoader interface {
	load(ctx context.Context, tenant tenancy.TenantID, id string) (ledger.Entry, error)
	name() string
}

// lockingStrategy holds a row lock on the entry until the unit of work ends,
// so concurrent filers for the same transaction queue behind each other and
// the loser sees the winner's claim in the pre-check.
type lockingStrategy struct {
	locker ledger.EntryLocker
}

func (s lockingStrategy) load(ctx context.Context, tenant tenancy.TenantID, id string) (ledger.Entry, error) {
	return s.locker.LockEntry(ctx, tenant, id)
}

func (lockingStrategy) name() string { return "row_lock" }

// constraintStrategy is used when the store cannot lock rows. The
// repository's uniqueness constraint settles races.
type constraintStrategy struct {
	store ledger.Store
}

func (s constraintStrategy) load(ctx context.Context, tenant tenancy.TenantID, id string) (ledger.Entry, error) {
	return s.store.Entry(ctx, tenant, id)
}

func (constraintStrategy) name() string { return "unique_constraint" }

// Guard serialises claim creation against a transaction. It picks row
// locking when the ledger store offers ledger.EntryLocker and falls back to
// the uniqueness constraint otherwise. All methods must run inside a unit
// of work.
type Guard struct {
	repo   Repository
	loader entryLoader
	logger *slog.Logger
}

// NewGuard inspects store for locking support.
func NewGuard(store ledger.Store, repo Repository, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	var loader entryLoader = constraintStrategy{store: store}
	if locker, ok := store.(ledger.EntryLocker); ok {
		loader = lockingStrategy{locker: locker}
	}
	return &Guard{repo: repo, loader: loader, logger: logger}
}

// Strategy names the active strategy.
func (g *Guard) Strategy() string { return g.loader.name() }

// Transaction loads the entry, locking it where supported.
func (g *Guard) Transaction(ctx context.Context, tenant tenancy.TenantID, id string) (ledger.Entry, error) {
	return g.loader.load(ctx, tenant, id)
}

// Admit loads the transaction, lets check validate it, rejects the claim if
// an active one already exists and inserts the claim built by check.
func (g *Guard) Admit(ctx context.Context, tenant tenancy.TenantID, transactionID string, check func(ledger.Entry) (Claim, error)) (Claim, error) {
	entry, err := g.Transaction(ctx, tenant, transactionID)
	if err != nil {
		return Claim{}, err
	}
	c, err := check(entry)
	if err != nil {
		return Claim{}, err
	}
	if _, exists, err := g.repo.ActiveForTransaction(ctx, tenant, transactionID); err != nil {
		return Claim{}, err
	} else if exists {
		return Claim{}, ErrDuplicateClaim
	}
	if err := g.repo.Insert(ctx, c); err != nil {
		return Claim{}, err
	}
	return c, nil
}

// translate turns an integrity violation that slipped past the pre-check
// and lock into the caller-facing conflict. Other errors pass through.
func (g *Guard) translate(ctx context.Context, err error, attrs ...any) error {
	if !apperr.Is(err, apperr.KindIntegrity) {
		return err
	}
	args := append([]any{
		slog.String("strategy", g.Strategy()),
		slog.String("constraint", apperr.CodeOf(err)),
		slog.Any("error", err),
	}, attrs...)
	g.logger.ErrorContext(ctx, "claim integrity violation", args...)
	return ErrDuplicateClaim
}
