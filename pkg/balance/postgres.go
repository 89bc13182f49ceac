package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/database"
)

// MainPoolID is the single row backing the main balance.
const MainPoolID = "main"

type PostgresStore struct {
	db     *sql.DB
	poolID string
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, poolID: MainPoolID}
}

// Ensure creates the pool row with the initial balance when it does not exist.
// An existing row is never touched.
func (s *PostgresStore) Ensure(ctx context.Context, initial int64) (bool, error) {
	if initial < 0 {
		initial = 0
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO main_balance (id, balance, version, updated_at)
		VALUES ($1, $2, 0, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO NOTHING
	`, s.poolID, initial)
	if err != nil {
		return false, fmt.Errorf("seed main balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, version, updated_at FROM main_balance WHERE id = $1
	`, s.poolID).Scan(&snap.Balance, &snap.Version, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrPoolNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load main balance: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, expected int64, next int64, tx Transaction) (bool, error) {
	swapped := false
	err := database.WithTx(ctx, s.db, func(dbTx *sql.Tx) error {
		res, err := dbTx.ExecContext(ctx, `
			UPDATE main_balance
			SET balance = $1, version = version + 1, updated_at = $2
			WHERE id = $3 AND version = $4
		`, next, tx.CreatedAt, s.poolID, expected)
		if err != nil {
			if database.IsCheckViolation(err) {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("update main balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		_, err = dbTx.ExecContext(ctx, `
			INSERT INTO balance_transactions (id, pool_id, delta, balance_after, kind, reference, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, tx.ID, s.poolID, tx.Delta, tx.BalanceAfter, string(tx.Kind), tx.Reference, tx.Note, tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("append balance transaction: %w", err)
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, limit, offset int) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, delta, balance_after, kind, reference, note, created_at
		FROM balance_transactions
		WHERE pool_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, s.poolID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list balance transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]Transaction, 0, limit)
	for rows.Next() {
		var t Transaction
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&t.ID, &t.Delta, &t.BalanceAfter, &kind, &t.Reference, &t.Note, &createdAt); err != nil {
			return nil, err
		}
		t.Kind = Kind(kind)
		t.CreatedAt = createdAt
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
