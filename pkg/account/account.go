package account

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusSuspended:
		return true
	}
	return false
}

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDuplicateEmail       = errors.New("email already registered")
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription carries the auto-extend preferences of a user.
type Subscription struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	AutoExtendEnabled bool      `json:"auto_extend_enabled"`
	SkipFriday        bool      `json:"skip_friday"`
	SkipSaturday      bool      `json:"skip_saturday"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SkipsOn reports whether auto-extend should not run on the given weekday.
func (s Subscription) SkipsOn(day time.Weekday) bool {
	switch day {
	case time.Friday:
		return s.SkipFriday
	case time.Saturday:
		return s.SkipSaturday
	}
	return false
}

type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	// AutoExtend counts subscriptions with auto-extend on.
	AutoExtend int `json:"auto_extend"`
}
