package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/account"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

// Days bought per channel per auto-extend run.
const autoExtendDays = 1

// Outcome of one user in the auto-extend sweep.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeNoop    Outcome = "noop"
)

type ChannelResult struct {
	ChannelID string     `json:"channel_id"`
	Extended  bool       `json:"extended"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type UserResult struct {
	UserID   string          `json:"user_id"`
	Outcome  Outcome         `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
	Channels []ChannelResult `json:"channels,omitempty"`
}

type AutoExtendSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Weekday   string        `json:"weekday"`
	Users     int           `json:"users"`
	Succeeded int           `json:"succeeded"`
	Partial   int           `json:"partial"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Extended  int           `json:"extended"`
	Errors    int           `json:"errors"`
	Results   []UserResult  `json:"results,omitempty"`
}

// AutoExtend buys one more day for every ACTIVE or PAUSED channel of each
// user with auto-extend on. A user is extended all-or-nothing up front: when
// the pool cannot cover every channel nothing is bought for that user.
func (s *Sweeper) AutoExtend(ctx context.Context) AutoExtendSummary {
	now := s.now()
	weekday := now.In(s.loc).Weekday()
	summary := AutoExtendSummary{StartedAt: now, Weekday: weekday.String()}
	logger := log.Job("auto-extend-sweep")

	subs, err := s.accounts.ListAutoExtendSubscriptions(ctx)
	if err != nil {
		logger.Error("Failed to list subscriptions: " + err.Error())
		summary.Errors++
		summary.Duration = s.now().Sub(now)
		return summary
	}
	summary.Users = len(subs)

	for _, sub := range subs {
		if ctx.Err() != nil {
			logger.Warn("Auto-extend sweep interrupted: " + ctx.Err().Error())
			summary.Errors++
			break
		}
		res, err := s.extendUser(ctx, sub, weekday)
		if err != nil {
			logger.WithField("user_id", sub.UserID).Error("Auto-extend failed: " + err.Error())
			summary.Errors++
		}
		switch res.Outcome {
		case OutcomeSuccess:
			summary.Succeeded++
		case OutcomePartial:
			summary.Partial++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
		for _, ch := range res.Channels {
			if ch.Extended {
				summary.Extended++
			}
		}
		summary.Results = append(summary.Results, res)
	}

	summary.Duration = s.now().Sub(now)
	logger.
		WithField("weekday", summary.Weekday).
		WithField("users", summary.Users).
		WithField("succeeded", summary.Succeeded).
		WithField("partial", summary.Partial).
		WithField("failed", summary.Failed).
		WithField("skipped", summary.Skipped).
		WithField("extended", summary.Extended).
		WithField("errors", summary.Errors).
		Info("Auto-extend sweep completed")
	return summary
}

func (s *Sweeper) extendUser(ctx context.Context, sub account.Subscription, weekday time.Weekday) (UserResult, error) {
	res := UserResult{UserID: sub.UserID}

	if sub.SkipsOn(weekday) {
		res.Outcome = OutcomeSkipped
		res.Reason = "skip_" + lowerWeekday(weekday)
		s.writeAudit(ctx, audit.Entry{
			UserID:     sub.UserID,
			Action:     audit.ActionAutoExtendSkipped,
			EntityType: "subscription",
			EntityID:   sub.ID,
			Meta:       map[string]interface{}{"weekday": weekday.String()},
		})
		return res, nil
	}

	channels, err := s.channels.ListExtendable(ctx, sub.UserID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = "list_channels_failed"
		return res, fmt.Errorf("list channels: %w", err)
	}
	if len(channels) == 0 {
		res.Outcome = OutcomeNoop
		return res, nil
	}

	needed := int64(len(channels) * autoExtendDays)
	available, err := s.pool.Balance(ctx)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = "balance_unavailable"
		return res, fmt.Errorf("read main balance: %w", err)
	}
	if available < needed {
		res.Outcome = OutcomeFailed
		res.Reason = "insufficient_balance"
		s.writeAudit(ctx, audit.Entry{
			UserID:     sub.UserID,
			Action:     audit.ActionAutoExtendFailed,
			EntityType: "subscription",
			EntityID:   sub.ID,
			Meta: map[string]interface{}{
				"reason":   res.Reason,
				"needed":   needed,
				"balance":  available,
				"channels": len(channels),
			},
		})
		s.notifier.Notify(ctx, sub.UserID, notify.EventAutoExtendFailed, map[string]interface{}{
			"reason":   res.Reason,
			"needed":   needed,
			"channels": len(channels),
		})
		return res, nil
	}

	extended := 0
	for _, ch := range channels {
		cr := s.extendChannel(ctx, sub, ch)
		if cr.Extended {
			extended++
		}
		res.Channels = append(res.Channels, cr)
	}

	action := audit.ActionAutoExtendFailed
	switch {
	case extended == len(channels):
		res.Outcome = OutcomeSuccess
		action = audit.ActionAutoExtendSuccess
	case extended > 0:
		res.Outcome = OutcomePartial
		action = audit.ActionAutoExtendPartial
	default:
		res.Outcome = OutcomeFailed
		res.Reason = "all_channels_failed"
	}

	meta := map[string]interface{}{
		"extended": extended,
		"channels": len(channels),
		"days":     autoExtendDays,
		"results":  res.Channels,
	}
	if res.Reason != "" {
		meta["reason"] = res.Reason
	}
	s.writeAudit(ctx, audit.Entry{
		UserID:     sub.UserID,
		Action:     action,
		EntityType: "subscription",
		EntityID:   sub.ID,
		Meta:       meta,
	})
	if res.Outcome == OutcomeFailed {
		s.notifier.Notify(ctx, sub.UserID, notify.EventAutoExtendFailed, map[string]interface{}{
			"reason":   res.Reason,
			"channels": len(channels),
		})
	}
	return res, nil
}

// extendChannel debits the pool, buys the day on WHAPI and records the grant.
// A WHAPI failure refunds the debit.
func (s *Sweeper) extendChannel(ctx context.Context, sub account.Subscription, ch channel.Channel) ChannelResult {
	cr := ChannelResult{ChannelID: ch.ID}
	logger := log.Job("auto-extend-sweep").WithField("user_id", sub.UserID).WithField("channel_id", ch.ID)

	debit, err := s.pool.Debit(ctx, autoExtendDays, balance.KindAutoExtend, ch.ID, "auto-extend")
	if err != nil {
		cr.Reason = "debit_failed"
		if errors.Is(err, balance.ErrInsufficientBalance) {
			cr.Reason = "insufficient_balance"
		}
		logger.Warn("Auto-extend debit rejected: " + err.Error())
		return cr
	}

	if s.provider != nil {
		comment := fmt.Sprintf("auto-extend channel %s", ch.ID)
		if err := s.provider.Extend(ctx, ch.WhapiChannelID, autoExtendDays, comment); err != nil {
			cr.Reason = "whapi_extend_failed"
			logger.Warn("WHAPI extend failed: " + err.Error())
			if _, rerr := s.pool.Credit(context.WithoutCancel(ctx), autoExtendDays, balance.KindRefund, debit.ID,
				"refund of failed auto-extend for channel "+ch.ID); rerr != nil {
				logger.WithField("balance_tx", debit.ID).Error("Failed to refund auto-extend debit: " + rerr.Error())
			}
			return cr
		}
	}

	result, err := s.granter.Grant(ctx, channel.GrantRequest{
		ChannelID:            ch.ID,
		Days:                 autoExtendDays,
		Source:               channel.SourceAutoExtend,
		BalanceTransactionID: debit.ID,
		SubscriptionID:       sub.ID,
		Note:                 "auto-extend",
		CreatedBy:            "system",
	})
	if err != nil {
		// The day is already bought on WHAPI, so the debit stands.
		cr.Reason = "grant_failed"
		logger.WithField("balance_tx", debit.ID).Error("Auto-extend paid but grant failed: " + err.Error())
		return cr
	}

	cr.Extended = true
	cr.ExpiresAt = result.Channel.ExpiresAt
	return cr
}

func lowerWeekday(d time.Weekday) string {
	switch d {
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	}
	return d.String()
}
