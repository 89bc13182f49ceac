package balance

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPoolDebitCredit(t *testing.T) {
	ctx := context.Background()
	p := NewPool(NewMemoryStore(10))

	tx, err := p.Debit(ctx, 3, KindGrant, "ch-1", "grant")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if tx.Delta != -3 || tx.BalanceAfter != 7 || tx.Kind != KindGrant {
		t.Fatalf("unexpected tx %+v", tx)
	}

	tx, err = p.Credit(ctx, 2, KindRefund, tx.ID, "refund")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if tx.BalanceAfter != 9 {
		t.Fatalf("balance after credit = %d, want 9", tx.BalanceAfter)
	}

	got, err := p.Balance(ctx)
	if err != nil || got != 9 {
		t.Fatalf("Balance = %d, %v; want 9", got, err)
	}
}

func TestPoolDebitNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)
	p := NewPool(store)

	_, err := p.Debit(ctx, 3, KindAutoExtend, "", "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if b, _ := p.Balance(ctx); b != 2 {
		t.Fatalf("balance = %d, want untouched 2", b)
	}
	txs, _ := store.Transactions(ctx, 10, 0)
	if len(txs) != 0 {
		t.Fatalf("failed debit logged %d transactions", len(txs))
	}
}

func TestPoolRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	p := NewPool(NewMemoryStore(5))

	for _, amount := range []int64{0, -1} {
		if _, err := p.Debit(ctx, amount, KindGrant, "", ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Debit(%d) err = %v", amount, err)
		}
		if _, err := p.Credit(ctx, amount, KindRefund, "", ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%d) err = %v", amount, err)
		}
	}
	if _, err := p.Adjust(ctx, 0, "noop"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Adjust(0) err = %v", err)
	}
}

func TestPoolAdjustKinds(t *testing.T) {
	ctx := context.Background()
	p := NewPool(NewMemoryStore(5))

	tx, err := p.Adjust(ctx, 10, "top up")
	if err != nil || tx.Kind != KindTopUp || tx.BalanceAfter != 15 {
		t.Fatalf("Adjust(+10) = %+v, %v", tx, err)
	}
	tx, err = p.Adjust(ctx, -4, "correction")
	if err != nil || tx.Kind != KindAdjustment || tx.BalanceAfter != 11 {
		t.Fatalf("Adjust(-4) = %+v, %v", tx, err)
	}
	if _, err := p.Adjust(ctx, -12, "too much"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Adjust(-12) err = %v", err)
	}
}

func TestPoolConcurrentDebitsRespectFloor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(50)
	p := NewPool(store, WithMaxAttempts(1000))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Debit(ctx, 1, KindGrant, "", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Fatalf("succeeded = %d, want 50", succeeded)
	}
	if b, _ := p.Balance(ctx); b != 0 {
		t.Fatalf("balance = %d, want 0", b)
	}
	txs, _ := store.Transactions(ctx, 500, 0)
	if len(txs) != 50 {
		t.Fatalf("transactions = %d, want 50", len(txs))
	}
}

// contendedStore loses every swap.
type contendedStore struct {
	*MemoryStore
	attempts int
}

func (c *contendedStore) CompareAndSwap(ctx context.Context, expected int64, next int64, tx Transaction) (bool, error) {
	c.attempts++
	return false, nil
}

func TestPoolGivesUpAfterMaxAttempts(t *testing.T) {
	store := &contendedStore{MemoryStore: NewMemoryStore(10)}
	p := NewPool(store, WithMaxAttempts(3))

	_, err := p.Debit(context.Background(), 1, KindGrant, "", "")
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}
	if store.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", store.attempts)
	}
}

func TestPoolHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPool(NewMemoryStore(10))
	if _, err := p.Debit(ctx, 1, KindGrant, "", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPoolTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	p := NewPool(NewMemoryStore(10))
	first, _ := p.Debit(ctx, 1, KindGrant, "a", "")
	second, _ := p.Debit(ctx, 1, KindGrant, "b", "")

	txs, err := p.Transactions(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[0].ID != second.ID || txs[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", txs)
	}
}
