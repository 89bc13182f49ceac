package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so store helpers can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFromEnv reads DATABASE_* variables.
func ConfigFromEnv() Config {
	driver := NormalizeDriver(env.GetEnvStringOrDefault("DATABASE_DRIVER", "pgx"))
	return Config{
		Driver:          driver,
		DSN:             NormalizeDSN(driver, env.MustGetEnvString("DATABASE_URL")),
		MaxOpenConns:    env.GetEnvIntOrDefault("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    env.GetEnvIntOrDefault("DATABASE_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: env.GetEnvDurationOrDefault("DATABASE_CONN_MAX_LIFETIME", 10*time.Minute),
		ConnMaxIdleTime: env.GetEnvDurationOrDefault("DATABASE_CONN_MAX_IDLE_TIME", 3*time.Minute),
	}
}

// NormalizeDriver maps the accepted spellings onto a registered driver name.
// "postgres" selects lib/pq, everything postgres-like otherwise goes to pgx.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pq":
		return "postgres"
	case "postgresql", "pgx", "":
		return "pgx"
	default:
		return strings.ToLower(driver)
	}
}

// NormalizeDSN forces the simple query protocol on pgx so the service works
// behind transaction-pooling proxies such as PgBouncer.
func NormalizeDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

// Open connects, applies pool limits and pings.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Driver != "pgx" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Page clamps a LIMIT/OFFSET pair taken from a request. Out of range limits
// fall back to DefaultPageSize and negative offsets start at the first row.
func Page(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
