package sweep

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

type ExpirySummary struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Candidates   int           `json:"candidates"`
	Expired      int           `json:"expired"`
	Refreshed    int64         `json:"refreshed"`
	UsersExpired int           `json:"users_expired"`
	Errors       int           `json:"errors"`
}

// Expire pauses every ACTIVE channel whose expiry has passed, refreshes the
// cached day counters and expires owners left without an ACTIVE channel.
// Item failures are logged and counted, the pass always runs to the end.
func (s *Sweeper) Expire(ctx context.Context) ExpirySummary {
	now := s.now()
	summary := ExpirySummary{StartedAt: now}
	logger := log.Job("expiry-sweep")

	candidates, err := s.channels.ListExpired(ctx, now)
	if err != nil {
		logger.Error("Failed to list expired channels: " + err.Error())
		summary.Errors++
	}
	summary.Candidates = len(candidates)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ch := range candidates {
		g.Go(func() error {
			expired, err := s.expireChannel(gctx, ch, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				return nil
			}
			if expired {
				summary.Expired++
			}
			return nil
		})
	}
	_ = g.Wait()

	refreshed, err := s.channels.RefreshDaysRemaining(ctx, now)
	if err != nil {
		logger.Error("Failed to refresh days remaining: " + err.Error())
		summary.Errors++
	}
	summary.Refreshed = refreshed

	// Set based so owners paused outside this pass, e.g. by an admin, are
	// caught as well.
	expiredUsers, err := s.accounts.ExpireUsersWithoutActiveChannels(ctx)
	if err != nil {
		logger.Error("Failed to expire users: " + err.Error())
		summary.Errors++
	}
	for _, userID := range expiredUsers {
		s.writeAudit(ctx, audit.Entry{
			UserID:     userID,
			Action:     audit.ActionUserExpired,
			EntityType: "user",
			EntityID:   userID,
			Meta:       map[string]interface{}{"reason": "no_active_channels"},
		})
		s.notifier.Notify(ctx, userID, notify.EventAccountExpired, map[string]interface{}{
			"user_id": userID,
		})
	}
	summary.UsersExpired = len(expiredUsers)

	summary.Duration = s.now().Sub(now)
	logger.
		WithField("candidates", summary.Candidates).
		WithField("expired", summary.Expired).
		WithField("refreshed", summary.Refreshed).
		WithField("users_expired", summary.UsersExpired).
		WithField("errors", summary.Errors).
		Info("Expiry sweep completed")
	return summary
}

// expireChannel reports false without error when a grant committed after the
// candidate query and the channel is no longer expired.
func (s *Sweeper) expireChannel(ctx context.Context, ch channel.Channel, now time.Time) (bool, error) {
	logger := log.Job("expiry-sweep").WithField("channel_id", ch.ID).WithField("user_id", ch.UserID)

	marked, err := s.channels.MarkExpired(ctx, ch.ID, now)
	if err != nil {
		logger.Error("Failed to mark channel expired: " + err.Error())
		return false, err
	}
	if !marked {
		logger.Debug("Channel extended concurrently, skipped")
		return false, nil
	}

	if s.provider != nil && ch.WhapiToken != "" {
		if err := s.provider.Logout(ctx, ch.WhapiToken); err != nil {
			logger.Warn("WHAPI logout failed: " + err.Error())
		}
	}

	meta := map[string]interface{}{
		"previous_status": string(ch.Status),
	}
	if ch.ExpiresAt != nil {
		meta["expired_at"] = *ch.ExpiresAt
	}
	s.writeAudit(ctx, audit.Entry{
		UserID:     ch.UserID,
		Action:     audit.ActionChannelExpired,
		EntityType: "channel",
		EntityID:   ch.ID,
		Meta:       meta,
	})
	s.notifier.Notify(ctx, ch.UserID, notify.EventChannelExpired, map[string]interface{}{
		"channel_id": ch.ID,
		"name":       ch.Name,
		"expires_at": ch.ExpiresAt,
	})
	logger.Info("Channel expired")
	return true, nil
}
