package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

type inMemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	// open holds the state of unfinished units of work, keyed by uow.Scope.
	open    map[any]*pendingScope
	settled *sync.Cond
	seq     int64
	now     func() time.Time
}

// pendingScope is what one unit of work has staged or read. Staged entries
// are only visible to their own unit of work until it commits; held entries
// cannot be voided by anyone else until it ends.
type pendingScope struct {
	staged map[string]Entry
	held   map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and development. It does not implement EntryLocker.
func NewInMemory() Store {
	return newInMemory(func() time.Time { return time.Now().UTC() })
}

func newInMemory(now func() time.Time) *inMemoryLedger {
	l := &inMemoryLedger{entries: make(map[string]Entry), open: make(map[any]*pendingScope), now: now}
	l.settled = sync.NewCond(&l.mu)
	return l
}

// pending returns the state of the unit of work carried by ctx, registering
// its commit and rollback hooks on first use. It returns nil outside a unit
// of work. The caller holds l.mu for writing.
func (l *inMemoryLedger) pending(ctx context.Context) *pendingScope {
	scope := uow.Scope(ctx)
	if scope == nil {
		return nil
	}
	if ps, ok := l.open[scope]; ok {
		return ps
	}
	ps := &pendingScope{staged: make(map[string]Entry), held: make(map[string]struct{})}
	l.open[scope] = ps
	uow.OnCommit(ctx, func() { l.finish(scope, true) })
	uow.OnRollback(ctx, func() { l.finish(scope, false) })
	return ps
}

func (l *inMemoryLedger) finish(scope any, commit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ps, ok := l.open[scope]; ok && commit {
		for id, e := range ps.staged {
			l.entries[id] = e
		}
	}
	delete(l.open, scope)
	l.settled.Broadcast()
}

// lookup returns the entry as seen from scope. The caller holds l.mu.
func (l *inMemoryLedger) lookup(scope any, id string) (Entry, bool) {
	if ps, ok := l.open[scope]; ok && scope != nil {
		if e, ok := ps.staged[id]; ok {
			return e, true
		}
	}
	e, ok := l.entries[id]
	return e, ok
}

// each calls fn for every entry visible from scope. The caller holds l.mu.
func (l *inMemoryLedger) each(scope any, fn func(Entry)) {
	var overlay map[string]Entry
	if ps, ok := l.open[scope]; ok && scope != nil {
		overlay = ps.staged
	}
	for id, e := range l.entries {
		if staged, ok := overlay[id]; ok {
			e = staged
		}
		fn(e)
	}
	for id, e := range overlay {
		if _, ok := l.entries[id]; !ok {
			fn(e)
		}
	}
}

// put writes e directly outside a unit of work and stages it inside one.
// The caller holds l.mu for writing.
func (l *inMemoryLedger) put(ctx context.Context, e Entry) {
	if ps := l.pending(ctx); ps != nil {
		ps.staged[e.ID] = e
		return
	}
	l.entries[e.ID] = e
}

// reserved is what other open units of work may still take from k once
// they commit: their staged debits and their staged voids of credits. The
// caller holds l.mu.
func (l *inMemoryLedger) reserved(scope any, k accountKey) decimal.Decimal {
	total := decimal.Zero
	for other, ps := range l.open {
		if other == scope {
			continue
		}
		for id, e := range ps.staged {
			if e.TenantID != k.tenant || e.StudentID != k.student || e.AccountType != k.account {
				continue
			}
			committed, exists := l.entries[id]
			switch {
			case !exists && !e.IsVoid && e.Amount.IsNegative():
				total = total.Add(e.Amount)
			case exists && e.IsVoid && !committed.IsVoid && committed.Amount.IsPositive():
				total = total.Sub(committed.Amount)
			}
		}
	}
	return total
}

// heldElsewhere reports whether a unit of work other than scope read id.
// The caller holds l.mu.
func (l *inMemoryLedger) heldElsewhere(scope any, id string) bool {
	for other, ps := range l.open {
		if other == scope {
			continue
		}
		if _, ok := ps.held[id]; ok {
			return true
		}
	}
	return false
}

func (l *inMemoryLedger) Append(ctx context.Context, postings ...Posting) ([]Entry, error) {
	if err := validatePostings(postings); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	scope := uow.Scope(ctx)
	pending := make(map[accountKey]decimal.Decimal)
	for _, p := range postings {
		pending[p.key()] = pending[p.key()].Add(p.amount)
	}
	for _, p := range postings {
		if !p.requireFunds {
			continue
		}
		k := p.key()
		if l.balanceLocked(scope, k).Add(l.reserved(scope, k)).Add(pending[k]).IsNegative() {
			return nil, ErrInsufficientFunds
		}
	}

	now := l.now()
	out := make([]Entry, 0, len(postings))
	for _, p := range postings {
		l.seq++
		e := Entry{
			ID:          uuid.NewString(),
			Seq:         l.seq,
			TenantID:    p.tenant,
			StudentID:   p.student,
			AccountType: p.account,
			Amount:      p.amount,
			Description: p.description,
			Type:        p.kind,
			TransferID:  p.transferID,
			CreatedAt:   now,
		}
		l.put(ctx, e)
		out = append(out, e)
	}
	return out, nil
}

// Entry returns one entry. Read inside a unit of work, the entry is held:
// a Void from another unit of work waits until this one ends.
func (l *inMemoryLedger) Entry(ctx context.Context, tenant tenancy.TenantID, id string) (Entry, error) {
	if !tenant.Valid() {
		return Entry{}, ErrTenantRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.lookup(uow.Scope(ctx), id)
	if !ok || e.TenantID != tenant {
		return Entry{}, ErrEntryNotFound
	}
	if ps := l.pending(ctx); ps != nil {
		ps.held[id] = struct{}{}
	}
	return e, nil
}

func (l *inMemoryLedger) Balance(ctx context.Context, tenant tenancy.TenantID, studentID string, account AccountType) (decimal.Decimal, error) {
	if !tenant.Valid() {
		return decimal.Zero, ErrTenantRequired
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(uow.Scope(ctx), accountKey{tenant: tenant, student: studentID, account: account}), nil
}

func (l *inMemoryLedger) balanceLocked(scope any, k accountKey) decimal.Decimal {
	total := decimal.Zero
	l.each(scope, func(e Entry) {
		if e.IsVoid || e.TenantID != k.tenant || e.StudentID != k.student || e.AccountType != k.account {
			return
		}
		total = total.Add(e.Amount)
	})
	return total
}

func (l *inMemoryLedger) List(ctx context.Context, tenant tenancy.TenantID, studentID string, filter Filter) ([]Entry, error) {
	if !tenant.Valid() {
		return nil, ErrTenantRequired
	}
	l.mu.RLock()
	matched := make([]Entry, 0)
	l.each(uow.Scope(ctx), func(e Entry) {
		switch {
		case e.TenantID != tenant || e.StudentID != studentID:
		case filter.AccountType != "" && e.AccountType != filter.AccountType:
		case filter.Type != "" && e.Type != filter.Type:
		case e.IsVoid && !filter.IncludeVoid:
		case filter.Before != nil && !before(e, *filter.Before):
		default:
			matched = append(matched, e)
		}
	})
	l.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return before(matched[j], CursorOf(matched[i]))
	})
	if limit := filter.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// before reports whether e sorts after c in descending (created_at, seq) order.
func before(e Entry, c Cursor) bool {
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return e.CreatedAt.Before(c.CreatedAt)
	}
	return e.Seq < c.Seq
}

func (l *inMemoryLedger) Void(ctx context.Context, tenant tenancy.TenantID, id, reason string) (Entry, bool, error) {
	if !tenant.Valid() {
		return Entry{}, false, ErrTenantRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	scope := uow.Scope(ctx)
	for l.heldElsewhere(scope, id) {
		l.settled.Wait()
	}
	e, ok := l.lookup(scope, id)
	if !ok || e.TenantID != tenant {
		return Entry{}, false, ErrEntryNotFound
	}
	if e.IsVoid {
		return e, false, nil
	}

	at := l.now()
	e.IsVoid = true
	e.VoidReason = reason
	e.VoidedAt = &at
	l.put(ctx, e)
	return e, true, nil
}
