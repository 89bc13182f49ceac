package balance

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the pool in process. It backs the unit tests across
// packages; production wiring always uses PostgresStore.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
	txs  []Transaction
}

func NewMemoryStore(initial int64) *MemoryStore {
	return &MemoryStore{snap: Snapshot{Balance: initial, UpdatedAt: time.Now()}}
}

func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, expected int64, next int64, tx Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Version != expected {
		return false, nil
	}
	m.snap.Balance = next
	m.snap.Version++
	m.snap.UpdatedAt = tx.CreatedAt
	m.txs = append(m.txs, tx)
	return true, nil
}

// Transactions returns newest first, like the Postgres store.
func (m *MemoryStore) Transactions(ctx context.Context, limit, offset int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0, len(m.txs))
	for i := len(m.txs) - 1; i >= 0; i-- {
		out = append(out, m.txs[i])
	}
	if offset >= len(out) {
		return []Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
