package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/database"
)

// UpdateFunc receives the locked current row and returns the row to persist
// and, optionally, a ledger entry to append in the same transaction.
type UpdateFunc func(current Channel) (Channel, *LedgerEntry, error)

// Store is the persistence the Service needs.
type Store interface {
	Create(ctx context.Context, ch Channel) error
	Get(ctx context.Context, id string) (Channel, error)
	List(ctx context.Context, f ListFilter) ([]Channel, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Channel, *LedgerEntry, error)
	Ledger(ctx context.Context, channelID string, limit, offset int) ([]LedgerEntry, error)
}

const channelColumns = `id, user_id, name, phone, whapi_channel_id, whapi_token, status,
	active_from, expires_at, days_remaining, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var ch Channel
	var status string
	var activeFrom, expiresAt sql.NullTime
	err := row.Scan(&ch.ID, &ch.UserID, &ch.Name, &ch.Phone, &ch.WhapiChannelID, &ch.WhapiToken,
		&status, &activeFrom, &expiresAt, &ch.DaysRemaining, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return Channel{}, err
	}
	ch.Status = Status(status)
	if activeFrom.Valid {
		ch.ActiveFrom = timePtr(activeFrom.Time)
	}
	if expiresAt.Valid {
		ch.ExpiresAt = timePtr(expiresAt.Time)
	}
	return ch, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) Create(ctx context.Context, ch Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, user_id, name, phone, whapi_channel_id, whapi_token, status,
			active_from, expires_at, days_remaining, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, ch.ID, ch.UserID, ch.Name, ch.Phone, ch.WhapiChannelID, ch.WhapiToken, string(ch.Status),
		nullTime(ch.ActiveFrom), nullTime(ch.ExpiresAt), ch.DaysRemaining, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateChannel
		}
		if database.IsForeignKeyViolation(err) {
			return ErrOwnerNotFound
		}
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func getChannel(ctx context.Context, q database.DBTX, id string, forUpdate bool) (Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	ch, err := scanChannel(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Channel, error) {
	return getChannel(ctx, s.db, id, false)
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]Channel, error) {
	f.Limit, f.Offset = database.Page(f.Limit, f.Offset)
	var where []string
	var args []interface{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + channelColumns + ` FROM channels`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryChannels(ctx, query, args...)
}

func (s *PostgresStore) queryChannels(ctx context.Context, query string, args ...interface{}) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// Update holds the channel row lock for the whole read-compute-write.
func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (Channel, *LedgerEntry, error) {
	var updated Channel
	var entry *LedgerEntry

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := getChannel(ctx, tx, id, true)
		if err != nil {
			return err
		}

		next, e, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE channels
			SET status = $2, active_from = $3, expires_at = $4, days_remaining = $5, updated_at = $6
			WHERE id = $1
		`, id, string(next.Status), nullTime(next.ActiveFrom), nullTime(next.ExpiresAt), next.DaysRemaining, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update channel: %w", err)
		}

		if e != nil {
			if err := insertLedger(ctx, tx, *e); err != nil {
				return err
			}
		}
		updated, entry = next, e
		return nil
	})
	if err != nil {
		return Channel{}, nil, err
	}
	return updated, entry, nil
}

func insertLedger(ctx context.Context, q database.DBTX, e LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO channel_days_ledger (id, channel_id, user_id, days, source, expires_at_before, expires_at_after,
			balance_transaction_id, subscription_id, payment_id, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.ChannelID, e.UserID, e.Days, string(e.Source), nullTime(e.ExpiresAtBefore), e.ExpiresAtAfter,
		nullString(e.BalanceTransactionID), nullString(e.SubscriptionID), nullString(e.PaymentID),
		e.Note, e.CreatedBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ledger(ctx context.Context, channelID string, limit, offset int) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, user_id, days, source, expires_at_before, expires_at_after,
			balance_transaction_id, subscription_id, payment_id, note, created_by, created_at
		FROM channel_days_ledger
		WHERE channel_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, channelID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var source string
		var before sql.NullTime
		var balanceTx, subscription, payment sql.NullString
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.UserID, &e.Days, &source, &before, &e.ExpiresAtAfter,
			&balanceTx, &subscription, &payment, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source = Source(source)
		if before.Valid {
			e.ExpiresAtBefore = timePtr(before.Time)
		}
		e.BalanceTransactionID = balanceTx.String
		e.SubscriptionID = subscription.String
		e.PaymentID = payment.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListExpired returns ACTIVE channels whose expiry is not after now.
func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]Channel, error) {
	return s.queryChannels(ctx, `
		SELECT `+channelColumns+`
		FROM channels
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at
	`, now)
}

// MarkExpired pauses the channel only if it is still ACTIVE and expired, so a
// grant committed after ListExpired wins.
func (s *PostgresStore) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channels
		SET status = 'PAUSED', days_remaining = 0, updated_at = $2
		WHERE id = $1 AND status = 'ACTIVE' AND expires_at <= $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark channel expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RefreshDaysRemaining recomputes the cached counter for every channel with an
// expiry, in one statement.
func (s *PostgresStore) RefreshDaysRemaining(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channels
		SET days_remaining = GREATEST(0, CEIL(EXTRACT(EPOCH FROM (expires_at - $1::timestamptz)) / 86400.0))::int
		WHERE status <> 'PENDING'
			AND expires_at IS NOT NULL
			AND days_remaining <> GREATEST(0, CEIL(EXTRACT(EPOCH FROM (expires_at - $1::timestamptz)) / 86400.0))::int
	`, now)
	if err != nil {
		return 0, fmt.Errorf("refresh days remaining: %w", err)
	}
	return res.RowsAffected()
}

// ListExtendable returns the user's ACTIVE and PAUSED channels.
func (s *PostgresStore) ListExtendable(ctx context.Context, userID string) ([]Channel, error) {
	return s.queryChannels(ctx, `
		SELECT `+channelColumns+`
		FROM channels
		WHERE user_id = $1 AND status IN ('ACTIVE', 'PAUSED')
		ORDER BY created_at, id
	`, userID)
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status = 'PAUSED')
		FROM channels
	`).Scan(&st.Total, &st.Pending, &st.Active, &st.Paused)
	if err != nil {
		return Stats{}, fmt.Errorf("channel stats: %w", err)
	}
	return st, nil
}
