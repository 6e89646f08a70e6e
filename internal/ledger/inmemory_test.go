package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classbank/classbank/internal/apperr"
	"github.com/classbank/classbank/internal/tenancy"
	"github.com/classbank/classbank/internal/uow"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func credit(tenant tenancy.TenantID, student string, account AccountType, amount string) Posting {
	return Posting{tenant: tenant, student: student, account: account, amount: amt(amount), kind: TypeDeposit}
}

func TestInMemoryLedger_AppendRejectsMissingTenant(t *testing.T) {
	l := NewInMemory()
	_, err := l.Append(context.Background(), credit("", "s1", Checking, "10"))
	if err != ErrTenantRequired {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
	// the zero Posting is what any code outside the package can build
	if _, err := l.Append(context.Background(), Posting{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for zero posting, got %v", err)
	}
}

func TestInMemoryLedger_AppendRejectsMixedTenants(t *testing.T) {
	l := NewInMemory()
	_, err := l.Append(context.Background(), credit("a", "s1", Checking, "10"), credit("b", "s1", Checking, "10"))
	if err != ErrMixedTenants {
		t.Fatalf("expected ErrMixedTenants, got %v", err)
	}
}

func TestInMemoryLedger_BalanceIsExactTriple(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	if _, err := l.Append(ctx, credit("a", "s1", Checking, "100")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, credit("b", "s1", Checking, "50")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, credit("a", "s1", Savings, "7")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, credit("a", "s2", Checking, "9")); err != nil {
		t.Fatalf("append: %v", err)
	}

	cases := []struct {
		tenant  tenancy.TenantID
		student string
		account AccountType
		want    string
	}{
		{"a", "s1", Checking, "100"},
		{"b", "s1", Checking, "50"},
		{"a", "s1", Savings, "7"},
		{"b", "s1", Savings, "0"},
		{"a", "s2", Checking, "9"},
	}
	for _, tc := range cases {
		got, err := l.Balance(ctx, tc.tenant, tc.student, tc.account)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if !got.Equal(amt(tc.want)) {
			t.Fatalf("balance(%s,%s,%s) = %s, want %s", tc.tenant, tc.student, tc.account, got, tc.want)
		}
	}

	if _, err := l.Balance(ctx, "", "s1", Checking); err != ErrTenantRequired {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
}

func TestInMemoryLedger_VoidIsIdempotentAndExcludedFromBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	entries, err := l.Append(ctx, credit("a", "s1", Checking, "40"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	id := entries[0].ID

	first, changed, err := l.Void(ctx, "a", id, "duplicate payroll")
	if err != nil || !changed {
		t.Fatalf("first void: changed=%v err=%v", changed, err)
	}
	second, changed, err := l.Void(ctx, "a", id, "again")
	if err != nil || changed {
		t.Fatalf("second void: changed=%v err=%v", changed, err)
	}
	if second.VoidReason != first.VoidReason || !second.VoidedAt.Equal(*first.VoidedAt) {
		t.Fatalf("second void changed the entry: %+v vs %+v", second, first)
	}

	bal, _ := l.Balance(ctx, "a", "s1", Checking)
	if !bal.IsZero() {
		t.Fatalf("void entry still counted: %s", bal)
	}

	if _, _, err := l.Void(ctx, "b", id, "cross tenant"); err != ErrEntryNotFound {
		t.Fatalf("void from another tenant must not find the entry, got %v", err)
	}
}

func TestInMemoryLedger_ListOrderingAndCursor(t *testing.T) {
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	l := newInMemory(func() time.Time {
		tick++
		// the second and third entries share a timestamp; seq breaks the tie
		if tick == 3 {
			return base.Add(2 * time.Minute)
		}
		return base.Add(time.Duration(tick) * time.Minute)
	})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, credit("a", "s1", Checking, "1")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := l.List(ctx, "a", "s1", Filter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 4 || page[1].Seq != 3 {
		t.Fatalf("unexpected first page %+v", page)
	}
	cur := CursorOf(page[1])
	rest, err := l.List(ctx, "a", "s1", Filter{Before: &cur})
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest) != 2 || rest[0].Seq != 2 || rest[1].Seq != 1 {
		t.Fatalf("unexpected second page %+v", rest)
	}

	other, _ := l.List(ctx, "b", "s1", Filter{})
	if len(other) != 0 {
		t.Fatalf("tenant b should see nothing, got %d", len(other))
	}
}

func TestInMemoryLedger_InsufficientFunds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	if _, err := l.Append(ctx, credit("a", "s1", Checking, "10")); err != nil {
		t.Fatalf("append: %v", err)
	}
	debit := Posting{tenant: "a", student: "s1", account: Checking, amount: amt("-10.01"), kind: TypePurchase, requireFunds: true}
	if _, err := l.Append(ctx, debit); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestInMemoryLedger_RollbackRemovesEntries(t *testing.T) {
	l := NewInMemory()
	runner := uow.NewMemoryRunner()
	ctx := context.Background()

	_ = runner.Do(ctx, func(ctx context.Context) error {
		if _, err := l.Append(ctx, credit("a", "s1", Checking, "25")); err != nil {
			t.Fatalf("append: %v", err)
		}
		return apperr.Validation("later_step_failed", "later step failed")
	})

	entries, _ := l.List(ctx, "a", "s1", Filter{IncludeVoid: true})
	if len(entries) != 0 {
		t.Fatalf("expected rollback to drop entries, got %d", len(entries))
	}
}

func TestInMemoryLedger_UncommittedWritesStayPrivate(t *testing.T) {
	l := NewInMemory()
	runner := uow.NewMemoryRunner()
	outside := context.Background()

	seeded, err := l.Append(outside, credit("a", "s1", Checking, "40"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = runner.Do(outside, func(ctx context.Context) error {
		if _, err := l.Append(ctx, credit("a", "s1", Checking, "25")); err != nil {
			return err
		}
		if _, _, err := l.Void(ctx, "a", seeded[0].ID, "typo"); err != nil {
			return err
		}
		inside, _ := l.Balance(ctx, "a", "s1", Checking)
		if !inside.Equal(amt("25")) {
			t.Errorf("unit of work should see its own writes, got %s", inside)
		}
		seen, _ := l.Balance(outside, "a", "s1", Checking)
		if !seen.Equal(amt("40")) {
			t.Errorf("uncommitted writes leaked, outside balance %s", seen)
		}
		if e, _ := l.Entry(outside, "a", seeded[0].ID); e.IsVoid {
			t.Errorf("uncommitted void leaked")
		}
		if list, _ := l.List(outside, "a", "s1", Filter{}); len(list) != 1 {
			t.Errorf("uncommitted entry listed outside, got %d", len(list))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	bal, _ := l.Balance(outside, "a", "s1", Checking)
	if !bal.Equal(amt("25")) {
		t.Fatalf("expected committed balance 25, got %s", bal)
	}
}

func TestInMemoryLedger_OpenDebitsCountAgainstOtherUnits(t *testing.T) {
	l := NewInMemory()
	runner := uow.NewMemoryRunner()
	outside := context.Background()
	if _, err := l.Append(outside, credit("a", "s1", Checking, "100")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	debit := Posting{tenant: "a", student: "s1", account: Checking, amount: amt("-60"), kind: TypePurchase, requireFunds: true}

	err := runner.Do(outside, func(ctx context.Context) error {
		if _, err := l.Append(ctx, debit); err != nil {
			return err
		}
		other := runner.Do(outside, func(ctx context.Context) error {
			_, err := l.Append(ctx, debit)
			return err
		})
		if other != ErrInsufficientFunds {
			t.Errorf("second unit of work overdrew the account: %v", other)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	bal, _ := l.Balance(outside, "a", "s1", Checking)
	if !bal.Equal(amt("40")) {
		t.Fatalf("expected balance 40, got %s", bal)
	}
}

func TestInMemoryLedger_VoidWaitsForReader(t *testing.T) {
	l := NewInMemory()
	runner := uow.NewMemoryRunner()
	outside := context.Background()
	seeded, err := l.Append(outside, credit("a", "s1", Checking, "30"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := seeded[0].ID

	voided := make(chan error, 1)
	err = runner.Do(outside, func(ctx context.Context) error {
		if _, err := l.Entry(ctx, "a", id); err != nil {
			return err
		}
		go func() {
			_, _, err := l.Void(outside, "a", id, "typo")
			voided <- err
		}()
		select {
		case err := <-voided:
			t.Errorf("void went through a held entry: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	select {
	case err := <-voided:
		if err != nil {
			t.Fatalf("void: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("void still blocked after the reader committed")
	}
	if e, _ := l.Entry(outside, "a", id); !e.IsVoid {
		t.Fatal("expected entry void")
	}
}

func TestInMemoryLedger_ConcurrentAppends(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Append(ctx, credit("a", "s1", Checking, "5")); err != nil {
				t.Errorf("append: %v", err)
			}
			if _, err := l.Balance(ctx, "a", "s1", Checking); err != nil {
				t.Errorf("balance: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, _ := l.Balance(ctx, "a", "s1", Checking)
	if !bal.Equal(amt("100")) {
		t.Fatalf("expected 100, got %s", bal)
	}
}
