package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

type Store struct {
	db             *sql.DB
	cacheMu        sync.RWMutex
	activeCache    map[string]activeCacheEntry
	activeCacheTTL time.Duration
}

type activeCacheEntry struct {
	webhooks  []WebhookConfig
	expiresAt time.Time
}

// NewStore caches active webhooks per user for ttl. Zero disables the cache.
func NewStore(db *sql.DB, ttl time.Duration) *Store {
	if ttl < 0 {
		ttl = 0
	}
	return &Store{
		db:             db,
		activeCache:    make(map[string]activeCacheEntry),
		activeCacheTTL: ttl,
	}
}

func (s *Store) getActiveCache(userID string) ([]WebhookConfig, bool) {
	if s.activeCacheTTL <= 0 {
		return nil, false
	}
	s.cacheMu.RLock()
	entry, ok := s.activeCache[userID]
	s.cacheMu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.Lock()
		delete(s.activeCache, userID)
		s.cacheMu.Unlock()
		return nil, false
	}
	return entry.webhooks, true
}

func (s *Store) setActiveCache(userID string, webhooks []WebhookConfig) {
	if s.activeCacheTTL <= 0 {
		return
	}
	s.cacheMu.Lock()
	s.activeCache[userID] = activeCacheEntry{
		webhooks:  webhooks,
		expiresAt: time.Now().Add(s.activeCacheTTL),
	}
	s.cacheMu.Unlock()
}

func (s *Store) invalidateActiveCache(userID string) {
	if s.activeCacheTTL <= 0 {
		return
	}
	s.cacheMu.Lock()
	delete(s.activeCache, userID)
	s.cacheMu.Unlock()
}

const webhookColumns = `id, user_id, url, secret, events, active, created_at, updated_at`

func scanWebhook(row interface{ Scan(...any) error }) (WebhookConfig, error) {
	var w WebhookConfig
	var eventsJSON []byte
	if err := row.Scan(&w.ID, &w.UserID, &w.URL, &w.Secret, &eventsJSON, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return WebhookConfig{}, err
	}
	if err := json.Unmarshal(eventsJSON, &w.Events); err != nil {
		return WebhookConfig{}, fmt.Errorf("decode webhook events: %w", err)
	}
	return w, nil
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...interface{}) ([]WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []WebhookConfig
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (s *Store) GetAllWebhooks(ctx context.Context, userID string) ([]WebhookConfig, error) {
	return s.queryWebhooks(ctx, `
		SELECT `+webhookColumns+`
		FROM user_webhooks
		WHERE user_id = $1
		ORDER BY id
	`, userID)
}

func (s *Store) GetActiveWebhooks(ctx context.Context, userID string) ([]WebhookConfig, error) {
	if cached, ok := s.getActiveCache(userID); ok {
		return cached, nil
	}
	webhooks, err := s.queryWebhooks(ctx, `
		SELECT `+webhookColumns+`
		FROM user_webhooks
		WHERE user_id = $1 AND active = TRUE
	`, userID)
	if err != nil {
		return nil, err
	}
	s.setActiveCache(userID, webhooks)
	return webhooks, nil
}

func (s *Store) GetWebhook(ctx context.Context, webhookID int64, userID string) (*WebhookConfig, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `
		SELECT `+webhookColumns+`
		FROM user_webhooks
		WHERE id = $1 AND user_id = $2
	`, webhookID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) CreateWebhook(ctx context.Context, userID, url, secret string, events []notify.EventType) (int64, error) {
	if events == nil {
		events = []notify.EventType{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO user_webhooks (user_id, url, secret, events, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id
	`, userID, url, secret, string(eventsJSON)).Scan(&id)
	if err == nil {
		s.invalidateActiveCache(userID)
	}
	return id, err
}

func (s *Store) UpdateWebhook(ctx context.Context, webhookID int64, userID, url string, events []notify.EventType, active bool) error {
	if events == nil {
		events = []notify.EventType{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_webhooks
		SET url = $1, events = $2::jsonb, active = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND user_id = $5
	`, url, string(eventsJSON), active, webhookID, userID)
	if err != nil {
		return err
	}
	s.invalidateActiveCache(userID)
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, webhookID int64, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_webhooks WHERE id = $1 AND user_id = $2
	`, webhookID, userID)
	if err != nil {
		return err
	}
	s.invalidateActiveCache(userID)
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func (s *Store) LogDelivery(ctx context.Context, webhookID int64, eventType notify.EventType, status DeliveryStatus, attemptCount int, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (webhook_id, event_type, status, attempt_count, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
	`, webhookID, string(eventType), string(status), attemptCount, lastError)
	return err
}

func (s *Store) GetDeliveryLogs(ctx context.Context, webhookID int64, limit int) ([]DeliveryLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_type, status, attempt_count, last_error, created_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []DeliveryLog
	for rows.Next() {
		var l DeliveryLog
		var eventType, status string
		if err := rows.Scan(&l.ID, &l.WebhookID, &eventType, &status, &l.AttemptCount, &l.LastError, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.EventType = notify.EventType(eventType)
		l.Status = DeliveryStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
