package channel

import (
	"time"

	"github.com/google/uuid"
)

const Day = 24 * time.Hour

// DaysRemaining is ceil((expiresAt - now) / 1 day), clamped at zero.
// It is zero exactly when expiresAt is nil or not after now.
func DaysRemaining(expiresAt *time.Time, now time.Time) int {
	if expiresAt == nil {
		return 0
	}
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + Day - 1) / Day)
}

func IsExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || !expiresAt.After(now)
}

// PlanGrant computes the channel state after adding req.Days and the ledger
// entry recording it. The input channel is not modified.
func PlanGrant(current Channel, req GrantRequest, now time.Time) (Channel, LedgerEntry, GrantBranch) {
	next := current
	add := time.Duration(req.Days) * Day

	var branch GrantBranch
	switch {
	case current.Status == StatusPending || current.ExpiresAt == nil:
		branch = BranchActivate
		next.ActiveFrom = timePtr(now)
		next.ExpiresAt = timePtr(now.Add(add))
	case current.ExpiresAt.After(now):
		branch = BranchExtend
		next.ExpiresAt = timePtr(current.ExpiresAt.Add(add))
		if next.ActiveFrom == nil {
			next.ActiveFrom = timePtr(now)
		}
	default:
		branch = BranchRestart
		next.ActiveFrom = timePtr(now)
		next.ExpiresAt = timePtr(now.Add(add))
	}

	next.Status = StatusActive
	next.DaysRemaining = DaysRemaining(next.ExpiresAt, now)
	next.UpdatedAt = now

	entry := LedgerEntry{
		ID:                   uuid.NewString(),
		ChannelID:            current.ID,
		UserID:               current.UserID,
		Days:                 req.Days,
		Source:               req.Source,
		ExpiresAtBefore:      copyTime(current.ExpiresAt),
		ExpiresAtAfter:       *next.ExpiresAt,
		BalanceTransactionID: req.BalanceTransactionID,
		SubscriptionID:       req.SubscriptionID,
		PaymentID:            req.PaymentID,
		Note:                 req.Note,
		CreatedBy:            req.CreatedBy,
		CreatedAt:            now,
	}
	return next, entry, branch
}

// exceedsCap reports whether expiresAt lies more than maxDaysAhead days past now.
// A non-positive cap means unbounded.
func exceedsCap(expiresAt *time.Time, now time.Time, maxDaysAhead int) bool {
	if maxDaysAhead <= 0 || expiresAt == nil {
		return false
	}
	return expiresAt.Sub(now) > time.Duration(maxDaysAhead)*Day
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
