package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

// Pool funds grants from the main balance.
type Pool interface {
	Debit(ctx context.Context, amount int64, kind balance.Kind, reference, note string) (balance.Transaction, error)
	Credit(ctx context.Context, amount int64, kind balance.Kind, reference, note string) (balance.Transaction, error)
}

// Reactivator flips an expired owner back to active once a channel has time again.
type Reactivator interface {
	ReactivateUser(ctx context.Context, userID string) error
}

type Service struct {
	store        Store
	pool         Pool
	accounts     Reactivator
	audit        audit.Writer
	notifier     notify.Notifier
	now          func() time.Time
	maxDaysAhead int
}

type ServiceConfig struct {
	Store    Store
	Pool     Pool
	Accounts Reactivator
	Audit    audit.Writer
	Notifier notify.Notifier
	Now      func() time.Time
	// MaxDaysAhead caps how far in the future a grant may push expiresAt.
	// Zero leaves stacking unbounded.
	MaxDaysAhead int
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:        cfg.Store,
		pool:         cfg.Pool,
		accounts:     cfg.Accounts,
		audit:        cfg.Audit,
		notifier:     cfg.Notifier,
		now:          cfg.Now,
		maxDaysAhead: cfg.MaxDaysAhead,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	return s
}

type CreateRequest struct {
	UserID         string
	Name           string
	Phone          string
	WhapiChannelID string
	WhapiToken     string
}

// Create registers a PENDING channel with no expiry.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Channel, error) {
	now := s.now()
	ch := Channel{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Name:           strings.TrimSpace(req.Name),
		Phone:          strings.TrimPrefix(strings.TrimSpace(req.Phone), "+"),
		WhapiChannelID: strings.TrimSpace(req.WhapiChannelID),
		WhapiToken:     strings.TrimSpace(req.WhapiToken),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, ch); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

func (s *Service) Get(ctx context.Context, id string) (Channel, error) {
	ch, err := s.store.Get(ctx, id)
	if err != nil {
		return Channel{}, err
	}
	ch.DaysRemaining = DaysRemaining(ch.ExpiresAt, s.now())
	return ch, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Channel, error) {
	channels, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range channels {
		channels[i].DaysRemaining = DaysRemaining(channels[i].ExpiresAt, now)
	}
	return channels, nil
}

func (s *Service) Ledger(ctx context.Context, channelID string, limit, offset int) ([]LedgerEntry, error) {
	if _, err := s.store.Get(ctx, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Ledger(ctx, channelID, limit, offset)
}

// Grant adds days to a channel and appends the ledger entry. Sources that
// draw from the pool are debited first and refunded if the channel write
// fails, so the pool never funds a grant that did not happen.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	if req.Days <= 0 {
		return nil, ErrInvalidDays
	}
	if !req.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, req.Source)
	}

	// Cheap pre-check so obvious failures do not churn the pool.
	current, err := s.store.Get(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if planned, _, _ := PlanGrant(current, req, s.now()); exceedsCap(planned.ExpiresAt, s.now(), s.maxDaysAhead) {
		return nil, ErrExceedsCap
	}

	var debit *balance.Transaction
	if req.Source.DrawsFromPool() {
		if s.pool == nil {
			return nil, errors.New("main balance pool not configured")
		}
		tx, err := s.pool.Debit(ctx, int64(req.Days), balance.KindGrant, req.ChannelID,
			fmt.Sprintf("%s grant of %d day(s)", req.Source, req.Days))
		if err != nil {
			return nil, err
		}
		debit = &tx
		req.BalanceTransactionID = tx.ID
	}

	var branch GrantBranch
	ch, entry, err := s.store.Update(ctx, req.ChannelID, func(locked Channel) (Channel, *LedgerEntry, error) {
		now := s.now()
		next, e, b := PlanGrant(locked, req, now)
		if exceedsCap(next.ExpiresAt, now, s.maxDaysAhead) {
			return Channel{}, nil, ErrExceedsCap
		}
		branch = b
		return next, &e, nil
	})
	if err != nil {
		if debit != nil {
			s.refund(ctx, *debit, req)
		}
		return nil, err
	}

	result := &GrantResult{Entry: *entry, Channel: ch, Branch: branch}
	if s.accounts != nil {
		if err := s.accounts.ReactivateUser(ctx, ch.UserID); err != nil {
			log.SysErr("reactivate-user", err)
		}
	}
	s.recordGrant(ctx, result)
	return result, nil
}

func (s *Service) refund(ctx context.Context, debit balance.Transaction, req GrantRequest) {
	_, err := s.pool.Credit(context.WithoutCancel(ctx), -debit.Delta, balance.KindRefund, debit.ID,
		"refund of failed grant to channel "+req.ChannelID)
	if err != nil {
		log.Print(nil).
			WithField("channel_id", req.ChannelID).
			WithField("balance_tx", debit.ID).
			WithField("days", req.Days).
			Error("Failed to refund main balance after failed grant: " + err.Error())
	}
}

func (s *Service) recordGrant(ctx context.Context, r *GrantResult) {
	meta := map[string]interface{}{
		"days":       r.Entry.Days,
		"source":     string(r.Entry.Source),
		"branch":     string(r.Branch),
		"expires_at": r.Entry.ExpiresAtAfter,
		"ledger_id":  r.Entry.ID,
	}
	if r.Entry.ExpiresAtBefore != nil {
		meta["expires_at_before"] = *r.Entry.ExpiresAtBefore
	}
	if r.Entry.BalanceTransactionID != "" {
		meta["balance_transaction_id"] = r.Entry.BalanceTransactionID
	}
	// auto-extend grants are audited once per user by the sweep
	if s.audit != nil && r.Entry.Source != SourceAutoExtend {
		err := s.audit.Write(ctx, audit.Entry{
			UserID:     r.Channel.UserID,
			Action:     audit.ActionDaysGranted,
			EntityType: "channel",
			EntityID:   r.Channel.ID,
			Meta:       meta,
		})
		if err != nil {
			log.SysErr("audit-grant", err)
		}
	}

	event := notify.EventChannelDaysGranted
	if r.Entry.Source == SourceAutoExtend {
		event = notify.EventChannelAutoExtended
	}
	s.notifier.Notify(ctx, r.Channel.UserID, event, map[string]interface{}{
		"channel_id":     r.Channel.ID,
		"days":           r.Entry.Days,
		"source":         string(r.Entry.Source),
		"expires_at":     r.Entry.ExpiresAtAfter,
		"days_remaining": r.Channel.DaysRemaining,
	})
}

// Pause suspends an ACTIVE channel. Its expiry keeps running.
func (s *Service) Pause(ctx context.Context, id, actor string) (Channel, error) {
	ch, _, err := s.store.Update(ctx, id, func(current Channel) (Channel, *LedgerEntry, error) {
		if current.Status != StatusActive {
			return Channel{}, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusPaused)
		}
		now := s.now()
		current.Status = StatusPaused
		current.DaysRemaining = DaysRemaining(current.ExpiresAt, now)
		current.UpdatedAt = now
		return current, nil, nil
	})
	if err != nil {
		return Channel{}, err
	}
	s.writeAudit(ctx, ch, audit.ActionChannelPaused, actor)
	return ch, nil
}

// Resume reactivates a manually paused channel that still has time left.
func (s *Service) Resume(ctx context.Context, id, actor string) (Channel, error) {
	ch, _, err := s.store.Update(ctx, id, func(current Channel) (Channel, *LedgerEntry, error) {
		if current.Status != StatusPaused {
			return Channel{}, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusActive)
		}
		now := s.now()
		if IsExpired(current.ExpiresAt, now) {
			return Channel{}, nil, ErrChannelExpired
		}
		current.Status = StatusActive
		current.DaysRemaining = DaysRemaining(current.ExpiresAt, now)
		current.UpdatedAt = now
		return current, nil, nil
	})
	if err != nil {
		return Channel{}, err
	}
	s.writeAudit(ctx, ch, audit.ActionChannelResumed, actor)
	return ch, nil
}

func (s *Service) writeAudit(ctx context.Context, ch Channel, action audit.Action, actor string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Write(ctx, audit.Entry{
		UserID:     ch.UserID,
		Action:     action,
		EntityType: "channel",
		EntityID:   ch.ID,
		Meta: map[string]interface{}{
			"status":         string(ch.Status),
			"days_remaining": ch.DaysRemaining,
			"actor":          actor,
		},
	})
	if err != nil {
		log.SysErr("audit-"+strings.ToLower(string(action)), err)
	}
}
