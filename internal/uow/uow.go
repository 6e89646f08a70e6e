// Package uow provides the atomic commit boundary shared by the ledger and
// claims repositories. A unit of work travels through context.Context so
// repositories of different packages join the same commit.
package uow

import (
	"context"
	"sync"
)

// Runner executes fn inside a single unit of work. Nested calls join the
// outer unit of work. If fn returns an error nothing it wrote is kept.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type journalKey struct{}

type journal struct {
	mu          sync.Mutex
	undo        []func()
	onCommit    []func()
	afterCommit []func()
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

func withJournal(ctx context.Context) (context.Context, *journal) {
	j := &journal{}
	return context.WithValue(ctx, journalKey{}, j), j
}

func (j *journal) rollback() {
	j.mu.Lock()
	undo := j.undo
	j.undo = nil
	j.onCommit = nil
	j.afterCommit = nil
	j.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (j *journal) commit() {
	j.settle()
	j.publish()
}

// settle makes staged writes permanent.
func (j *journal) settle() {
	j.mu.Lock()
	hooks := j.onCommit
	j.undo = nil
	j.onCommit = nil
	j.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (j *journal) publish() {
	j.mu.Lock()
	hooks := j.afterCommit
	j.afterCommit = nil
	j.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Active reports whether ctx carries a unit of work.
func Active(ctx context.Context) bool {
	return journalFrom(ctx) != nil
}

// OnRollback registers fn to run if the surrounding unit of work fails.
// Outside a unit of work it is a no-op because the write already stands.
func OnRollback(ctx context.Context, fn func()) {
	j := journalFrom(ctx)
	if j == nil {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

// Scope identifies the unit of work carried by ctx. Nested units of work
// share their outer scope. It returns nil outside a unit of work.
func Scope(ctx context.Context) any {
	if j := journalFrom(ctx); j != nil {
		return j
	}
	return nil
}

// OnCommit registers fn to run when the surrounding unit of work commits,
// before any AfterCommit hook. Backends use it to publish staged writes.
// Outside a unit of work fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	j := journalFrom(ctx)
	if j == nil {
		fn()
		return
	}
	j.mu.Lock()
	j.onCommit = append(j.onCommit, fn)
	j.mu.Unlock()
}

// AfterCommit defers fn until the surrounding unit of work commits. Outside
// a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	j := journalFrom(ctx)
	if j == nil {
		fn()
		return
	}
	j.mu.Lock()
	j.afterCommit = append(j.afterCommit, fn)
	j.mu.Unlock()
}

// MemoryRunner is the Runner used with the in-memory repositories. It takes
// no lock of its own: writers stage through OnCommit, compensate through
// OnRollback and guard the rows they read themselves.
type MemoryRunner struct{}

// NewMemoryRunner returns a Runner for in-memory backends.
func NewMemoryRunner() MemoryRunner { return MemoryRunner{} }

// Do implements Runner. The journal is rolled back if fn fails or panics.
func (MemoryRunner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if Active(ctx) {
		return fn(ctx)
	}
	ctx, j := withJournal(ctx)
	settled := false
	defer func() {
		if !settled {
			j.rollback()
		}
	}()
	if err := fn(ctx); err != nil {
		return err
	}
	j.settle()
	settled = true
	j.publish()
	return nil
}
