package uow

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRunnerRollsBackOnError(t *testing.T) {
	r := NewMemoryRunner()
	var undone, published bool

	err := r.Do(context.Background(), func(ctx context.Context) error {
		OnRollback(ctx, func() { undone = true })
		AfterCommit(ctx, func() { published = true })
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !undone {
		t.Fatal("expected rollback hook to run")
	}
	if published {
		t.Fatal("after-commit hook must not run on failure")
	}
}

func TestMemoryRunnerCommitRunsHooksInOrder(t *testing.T) {
	r := NewMemoryRunner()
	var order []int

	err := r.Do(context.Background(), func(ctx context.Context) error {
		OnRollback(ctx, func() { t.Fatal("rollback on success") })
		AfterCommit(ctx, func() { order = append(order, 1) })
		// nested units of work join the outer one
		return r.Do(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func() { order = append(order, 2) })
			return nil
		})
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected hook order %v", order)
	}
}

func TestAfterCommitOutsideUnitRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatal("expected immediate run")
	}
	if Active(context.Background()) {
		t.Fatal("background context has no unit of work")
	}
}

func TestOnCommitRunsBeforeAfterCommit(t *testing.T) {
	r := NewMemoryRunner()
	var order []string

	err := r.Do(context.Background(), func(ctx context.Context) error {
		if Scope(ctx) == nil {
			t.Fatal("expected a scope inside the unit of work")
		}
		AfterCommit(ctx, func() { order = append(order, "after") })
		OnCommit(ctx, func() { order = append(order, "settle") })
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(order) != 2 || order[0] != "settle" || order[1] != "after" {
		t.Fatalf("unexpected hook order %v", order)
	}
	if Scope(context.Background()) != nil {
		t.Fatal("background context has no scope")
	}
}

func TestMemoryRunnerRollsBackOnPanic(t *testing.T) {
	r := NewMemoryRunner()
	undone := false
	func() {
		defer func() { _ = recover() }()
		_ = r.Do(context.Background(), func(ctx context.Context) error {
			OnRollback(ctx, func() { undone = true })
			panic("boom")
		})
	}()
	if !undone {
		t.Fatal("expected rollback on panic")
	}
	if err := r.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("runner stuck after panic: %v", err)
	}
}
