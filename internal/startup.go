package internal

import (
	"context"
	"database/sql"
	"fmt"
	mathrand "math/rand/v2"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/sweep"
	"github.com/gdbrns/go-whatsapp-channel-billing/internal/webhook"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/account"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/database"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/whapi"
)

// Services is everything the routes and routines need.
type Services struct {
	DB           *sql.DB
	Accounts     *account.Store
	ChannelStore *channel.PostgresStore
	Channels     *channel.Service
	BalanceStore *balance.PostgresStore
	Pool         *balance.Pool
	Audit        *audit.Store
	Webhooks     *webhook.Store
	Engine       *webhook.Engine
	Whapi        *whapi.Client
	Sweeper      *sweep.Sweeper
	Location     *time.Location

	WebhookAllowPrivate bool
}

func jitterSleep(max time.Duration) {
	if max <= 0 {
		return
	}
	ms := mathrand.Int64N(max.Milliseconds() + 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func openWithRetry(ctx context.Context, cfg database.Config, retries int, baseBackoff time.Duration, maxBackoff time.Duration) (*sql.DB, error) {
	if retries <= 1 {
		return database.Open(ctx, cfg)
	}
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		db, err := database.Open(ctx, cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.Print(nil).
			WithField("attempt", attempt).
			WithField("retries", retries).
			Warn("Database not reachable: " + err.Error())
		if attempt == retries {
			break
		}

		// Exponential backoff with small jitter.
		backoff := baseBackoff * time.Duration(1<<(attempt-1))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		time.Sleep(backoff)
		jitterSleep(500 * time.Millisecond)
	}
	return nil, lastErr
}

// Startup connects the database, migrates the schema, seeds the main balance
// and wires the billing services. It finishes with a catch-up expiry sweep so
// channels that expired while the process was down are paused right away.
func Startup(ctx context.Context) (*Services, error) {
	log.Print(nil).Info("Running Startup Tasks")

	dbCfg := database.ConfigFromEnv()
	retries := env.GetEnvIntOrDefault("DATABASE_CONNECT_RETRIES", 5)
	baseBackoff := env.GetEnvDurationOrDefault("DATABASE_CONNECT_BACKOFF_BASE", 2*time.Second)
	maxBackoff := env.GetEnvDurationOrDefault("DATABASE_CONNECT_BACKOFF_MAX", 30*time.Second)

	db, err := openWithRetry(ctx, dbCfg, retries, baseBackoff, maxBackoff)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	svc := &Services{
		DB:           db,
		Accounts:     account.NewStore(db),
		ChannelStore: channel.NewPostgresStore(db),
		BalanceStore: balance.NewPostgresStore(db),
		Audit:        audit.NewStore(db),
		Location:     env.GetEnvLocationOrDefault("BILLING_TIMEZONE", time.UTC),
	}

	initial := env.GetEnvInt64OrDefault("BILLING_INITIAL_BALANCE", 0)
	created, err := svc.BalanceStore.Ensure(ctx, initial)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed main balance: %w", err)
	}
	if created {
		log.Print(nil).WithField("balance", initial).Info("Main balance initialized")
	}
	svc.Pool = balance.NewPool(svc.BalanceStore,
		balance.WithMaxAttempts(env.GetEnvIntOrDefault("BILLING_BALANCE_CAS_ATTEMPTS", 8)))

	svc.Webhooks = webhook.NewStore(db, env.GetEnvDurationOrDefault("WEBHOOK_CACHE_TTL", 15*time.Second))
	engineCfg := webhook.EngineConfigFromEnv()
	svc.WebhookAllowPrivate = engineCfg.AllowPrivate
	svc.Engine = webhook.NewEngine(svc.Webhooks, engineCfg)

	svc.Whapi = whapi.New(whapi.ConfigFromEnv())

	svc.Channels = channel.NewService(channel.ServiceConfig{
		Store:        svc.ChannelStore,
		Pool:         svc.Pool,
		Accounts:     svc.Accounts,
		Audit:        svc.Audit,
		Notifier:     svc.Engine,
		MaxDaysAhead: env.GetEnvIntOrDefault("CHANNEL_MAX_DAYS_AHEAD", 0),
	})

	svc.Sweeper = sweep.New(sweep.Config{
		Channels:    svc.ChannelStore,
		Accounts:    svc.Accounts,
		Granter:     svc.Channels,
		Pool:        svc.Pool,
		Provider:    svc.Whapi,
		Audit:       svc.Audit,
		Notifier:    svc.Engine,
		Location:    svc.Location,
		Concurrency: env.GetEnvIntOrDefault("BILLING_SWEEP_CONCURRENCY", 4),
	})

	if env.GetEnvBoolOrDefault("BILLING_STARTUP_EXPIRY_SWEEP", true) {
		summary, _ := svc.Sweeper.RunExpiry(ctx)
		log.Print(nil).
			WithField("expired", summary.Expired).
			WithField("errors", summary.Errors).
			Info("Startup expiry catch-up complete")
	}

	return svc, nil
}

// Close releases what Startup opened. Call it after the HTTP server and the
// cron scheduler have stopped.
func (s *Services) Close(ctx context.Context) {
	if s.Engine != nil {
		s.Engine.Shutdown(ctx)
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.SysErr("db-close", err)
		}
	}
}
