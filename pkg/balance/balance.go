package balance

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a pool movement.
type Kind string

const (
	KindTopUp      Kind = "TOP_UP"
	KindAdjustment Kind = "ADJUSTMENT"
	KindGrant      Kind = "GRANT"
	KindAutoExtend Kind = "AUTO_EXTEND"
	KindRefund     Kind = "REFUND"
)

var (
	ErrInsufficientBalance = errors.New("insufficient main balance")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrConcurrentUpdate    = errors.New("main balance changed concurrently, retries exhausted")
	ErrPoolNotFound        = errors.New("main balance pool not initialized")
)

// Snapshot is the pool state at a given version.
type Snapshot struct {
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an append-only log row; BalanceAfter is the pool value once
// Delta was applied.
type Transaction struct {
	ID           string    `json:"id"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	Kind         Kind      `json:"kind"`
	Reference    string    `json:"reference,omitempty"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists the pool. CompareAndSwap must set the balance to next and
// append tx atomically, and only while the stored version equals expected.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	CompareAndSwap(ctx context.Context, expected int64, next int64, tx Transaction) (bool, error)
	Transactions(ctx context.Context, limit, offset int) ([]Transaction, error)
}
