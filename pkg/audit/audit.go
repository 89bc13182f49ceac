package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/database"
)

type Action string

const (
	ActionDaysGranted       Action = "DAYS_GRANTED"
	ActionChannelExpired    Action = "CHANNEL_EXPIRED"
	ActionChannelPaused     Action = "CHANNEL_PAUSED"
	ActionChannelResumed    Action = "CHANNEL_RESUMED"
	ActionUserExpired       Action = "USER_EXPIRED"
	ActionAutoExtendSuccess Action = "AUTO_EXTEND_SUCCESS"
	ActionAutoExtendPartial Action = "AUTO_EXTEND_PARTIAL"
	ActionAutoExtendFailed  Action = "AUTO_EXTEND_FAILED"
	ActionAutoExtendSkipped Action = "AUTO_EXTEND_SKIPPED"
	ActionBalanceAdjusted   Action = "BALANCE_ADJUSTED"
)

// Entry is one audit row. Meta is free-form.
type Entry struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id,omitempty"`
	Action     Action                 `json:"action"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

type Filter struct {
	UserID string
	Action Action
	Limit  int
	Offset int
}

// Writer is what the billing code needs from the sink.
type Writer interface {
	Write(ctx context.Context, e Entry) error
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Write(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Meta == nil {
		e.Meta = map[string]interface{}{}
	}
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}

	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, e.ID, userID, string(e.Action), e.EntityType, e.EntityID, string(meta), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	f.Limit, f.Offset = database.Page(f.Limit, f.Offset)

	var where []string
	var args []interface{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	query := `SELECT id, user_id, action, entity_type, entity_id, meta, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var userID sql.NullString
		var action string
		var meta []byte
		if err := rows.Scan(&e.ID, &userID, &action, &e.EntityType, &e.EntityID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = userID.String
		e.Action = Action(action)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
