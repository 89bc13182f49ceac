package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users (LOWER(email)) WHERE email <> ''`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		auto_extend_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		skip_friday BOOLEAN NOT NULL DEFAULT FALSE,
		skip_saturday BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		whapi_channel_id TEXT NOT NULL DEFAULT '',
		whapi_token TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'ACTIVE', 'PAUSED')),
		active_from TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		days_remaining INTEGER NOT NULL DEFAULT 0 CHECK (days_remaining >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_status_expires ON channels (status, expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_user ON channels (user_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_channels_whapi_id ON channels (whapi_channel_id) WHERE whapi_channel_id <> ''`,
	`CREATE TABLE IF NOT EXISTS channel_days_ledger (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		days INTEGER NOT NULL CHECK (days > 0),
		source TEXT NOT NULL,
		expires_at_before TIMESTAMPTZ,
		expires_at_after TIMESTAMPTZ NOT NULL,
		balance_transaction_id TEXT,
		subscription_id TEXT,
		payment_id TEXT,
		note TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_channel ON channel_days_ledger (channel_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS main_balance (
		id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS balance_transactions (
		id TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL REFERENCES main_balance(id),
		delta BIGINT NOT NULL,
		balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
		kind TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_balance_tx_created ON balance_transactions (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		meta JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user_created ON audit_logs (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs (action)`,
	`CREATE TABLE IF NOT EXISTS user_webhooks (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		events JSONB NOT NULL DEFAULT '[]'::jsonb,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id BIGSERIAL PRIMARY KEY,
		webhook_id BIGINT NOT NULL REFERENCES user_webhooks(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries (webhook_id, created_at DESC)`,
}

// Migrate applies the idempotent schema statements in order.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
