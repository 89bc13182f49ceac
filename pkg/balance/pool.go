package balance

import (
	"context"
	"fmt"
	mathrand "math/rand/v2"
	"time"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 8

// Pool is the shared main balance of days. Every mutation is a
// compare-and-swap on the pool version, so the floor check and the write
// cannot interleave with another writer.
type Pool struct {
	store       Store
	maxAttempts int
	now         func() time.Time
}

type Option func(*Pool)

// WithMaxAttempts bounds CAS retries per mutation.
func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPool(store Store, opts ...Option) *Pool {
	p := &Pool{
		store:       store,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Balance(ctx context.Context) (int64, error) {
	snap, err := p.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Balance, nil
}

func (p *Pool) Snapshot(ctx context.Context) (Snapshot, error) {
	return p.store.Load(ctx)
}

func (p *Pool) Credit(ctx context.Context, amount int64, kind Kind, reference, note string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	return p.apply(ctx, amount, kind, reference, note)
}

// Debit fails with ErrInsufficientBalance, leaving the pool untouched, when
// amount exceeds the current balance.
func (p *Pool) Debit(ctx context.Context, amount int64, kind Kind, reference, note string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	return p.apply(ctx, -amount, kind, reference, note)
}

// Adjust applies a signed admin correction.
func (p *Pool) Adjust(ctx context.Context, delta int64, note string) (Transaction, error) {
	if delta == 0 {
		return Transaction{}, ErrInvalidAmount
	}
	kind := KindAdjustment
	if delta > 0 {
		kind = KindTopUp
	}
	return p.apply(ctx, delta, kind, "", note)
}

func (p *Pool) Transactions(ctx context.Context, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return p.store.Transactions(ctx, limit, offset)
}

func (p *Pool) apply(ctx context.Context, delta int64, kind Kind, reference, note string) (Transaction, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Transaction{}, err
		}

		snap, err := p.store.Load(ctx)
		if err != nil {
			return Transaction{}, err
		}

		next := snap.Balance + delta
		if next < 0 {
			return Transaction{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, snap.Balance, -delta)
		}

		tx := Transaction{
			ID:           uuid.NewString(),
			Delta:        delta,
			BalanceAfter: next,
			Kind:         kind,
			Reference:    reference,
			Note:         note,
			CreatedAt:    p.now(),
		}
		swapped, err := p.store.CompareAndSwap(ctx, snap.Version, next, tx)
		if err != nil {
			return Transaction{}, err
		}
		if swapped {
			return tx, nil
		}

		backoff(attempt)
	}
	return Transaction{}, ErrConcurrentUpdate
}

// backoff sleeps a few milliseconds, growing with the attempt number.
func backoff(attempt int) {
	if attempt > 6 {
		attempt = 6
	}
	max := int64(attempt) * int64(2*time.Millisecond)
	time.Sleep(time.Duration(mathrand.Int64N(max + 1)))
}
