package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/database"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) CreateUser(ctx context.Context, name, email string) (User, error) {
	now := s.now()
	u := User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Name, u.Email, string(u.Status), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, status, created_at, updated_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.Status = Status(status)
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	limit, offset = database.Page(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, status, created_at, updated_at
		FROM users
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var status string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Status = Status(status)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) SetUserStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), s.now())
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ExpireUsersWithoutActiveChannels flips every active user that owns at least
// one PAUSED channel and no ACTIVE channel to expired and returns the ids that
// changed. Users whose channels are all still PENDING were never activated and
// are left alone.
func (s *Store) ExpireUsersWithoutActiveChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE users u
		SET status = 'expired', updated_at = $1
		WHERE u.status = 'active'
			AND EXISTS (
				SELECT 1 FROM channels c WHERE c.user_id = u.id AND c.status = 'PAUSED'
			)
			AND NOT EXISTS (
				SELECT 1 FROM channels c WHERE c.user_id = u.id AND c.status = 'ACTIVE'
			)
		RETURNING u.id
	`, s.now())
	if err != nil {
		return nil, fmt.Errorf("expire users: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		expired = append(expired, id)
	}
	return expired, rows.Err()
}

// ReactivateUser marks an expired user active again, e.g. after a grant.
func (s *Store) ReactivateUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = 'active', updated_at = $2 WHERE id = $1 AND status = 'expired'
	`, id, s.now())
	if err != nil {
		return fmt.Errorf("reactivate user: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, auto_extend_enabled, skip_friday, skip_saturday, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.AutoExtendEnabled, &sub.SkipFriday, &sub.SkipSaturday,
		&sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

// UpsertSubscription creates or replaces the user's auto-extend flags.
func (s *Store) UpsertSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	now := s.now()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (id, user_id, auto_extend_enabled, skip_friday, skip_saturday, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			auto_extend_enabled = EXCLUDED.auto_extend_enabled,
			skip_friday = EXCLUDED.skip_friday,
			skip_saturday = EXCLUDED.skip_saturday,
			updated_at = EXCLUDED.updated_at
		RETURNING `+subscriptionColumns,
		sub.ID, sub.UserID, sub.AutoExtendEnabled, sub.SkipFriday, sub.SkipSaturday, now)
	out, err := scanSubscription(row)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return Subscription{}, ErrUserNotFound
		}
		return Subscription{}, fmt.Errorf("upsert subscription: %w", err)
	}
	return out, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListAutoExtendSubscriptions returns every subscription with auto-extend on.
func (s *Store) ListAutoExtendSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE auto_extend_enabled = TRUE
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list auto-extend subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE status = 'active'),
			(SELECT COUNT(*) FROM users WHERE status = 'expired'),
			(SELECT COUNT(*) FROM subscriptions WHERE auto_extend_enabled = TRUE)
	`).Scan(&st.Total, &st.Active, &st.Expired, &st.AutoExtend)
	if err != nil {
		return Stats{}, fmt.Errorf("account stats: %w", err)
	}
	return st, nil
}
