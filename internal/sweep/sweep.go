// Package sweep runs the scheduled billing passes: the hourly expiry sweep
// and the midnight auto-extend sweep.
package sweep

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/account"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

type ChannelStore interface {
	ListExpired(ctx context.Context, now time.Time) ([]channel.Channel, error)
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)
	RefreshDaysRemaining(ctx context.Context, now time.Time) (int64, error)
	ListExtendable(ctx context.Context, userID string) ([]channel.Channel, error)
}

type AccountStore interface {
	ExpireUsersWithoutActiveChannels(ctx context.Context) ([]string, error)
	ListAutoExtendSubscriptions(ctx context.Context) ([]account.Subscription, error)
}

type Granter interface {
	Grant(ctx context.Context, req channel.GrantRequest) (*channel.GrantResult, error)
}

type Pool interface {
	Balance(ctx context.Context) (int64, error)
	Debit(ctx context.Context, amount int64, kind balance.Kind, reference, note string) (balance.Transaction, error)
	Credit(ctx context.Context, amount int64, kind balance.Kind, reference, note string) (balance.Transaction, error)
}

// Provider is the remote side of a channel (WHAPI).
type Provider interface {
	Logout(ctx context.Context, token string) error
	Extend(ctx context.Context, whapiChannelID string, days int, comment string) error
}

type Config struct {
	Channels ChannelStore
	Accounts AccountStore
	Granter  Granter
	Pool     Pool
	Provider Provider
	Audit    audit.Writer
	Notifier notify.Notifier
	Now      func() time.Time
	// Location decides which weekday "today" is for skip rules.
	Location *time.Location
	// Concurrency bounds parallel logout calls in the expiry sweep.
	Concurrency int
}

type Sweeper struct {
	channels    ChannelStore
	accounts    AccountStore
	granter     Granter
	pool        Pool
	provider    Provider
	audit       audit.Writer
	notifier    notify.Notifier
	now         func() time.Time
	loc         *time.Location
	concurrency int

	group singleflight.Group
}

func New(cfg Config) *Sweeper {
	s := &Sweeper{
		channels:    cfg.Channels,
		accounts:    cfg.Accounts,
		granter:     cfg.Granter,
		pool:        cfg.Pool,
		provider:    cfg.Provider,
		audit:       cfg.Audit,
		notifier:    cfg.Notifier,
		now:         cfg.Now,
		loc:         cfg.Location,
		concurrency: cfg.Concurrency,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	return s
}

// RunExpiry runs the expiry sweep; concurrent callers share a single pass.
func (s *Sweeper) RunExpiry(ctx context.Context) (ExpirySummary, bool) {
	v, _, shared := s.group.Do("expiry", func() (interface{}, error) {
		return s.Expire(ctx), nil
	})
	return v.(ExpirySummary), shared
}

// RunAutoExtend runs the auto-extend sweep; concurrent callers share a single pass.
func (s *Sweeper) RunAutoExtend(ctx context.Context) (AutoExtendSummary, bool) {
	v, _, shared := s.group.Do("auto-extend", func() (interface{}, error) {
		return s.AutoExtend(ctx), nil
	})
	return v.(AutoExtendSummary), shared
}

func (s *Sweeper) writeAudit(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Write(ctx, e); err != nil {
		logger := log.Job("audit").WithField("action", string(e.Action))
		if e.UserID != "" {
			logger = logger.WithField("user_id", e.UserID)
		}
		logger.Error("Failed to write audit log: " + err.Error())
	}
}
