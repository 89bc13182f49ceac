package channel

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused:
		return true
	}
	return false
}

// Source tags where granted days came from.
type Source string

const (
	SourceAdminManual Source = "ADMIN_MANUAL"
	SourcePayPal      Source = "PAYPAL"
	SourceOffline     Source = "OFFLINE"
	SourceMigration   Source = "MIGRATION"
	SourceAutoExtend  Source = "AUTO_EXTEND"
)

func (s Source) Valid() bool {
	switch s {
	case SourceAdminManual, SourcePayPal, SourceOffline, SourceMigration, SourceAutoExtend:
		return true
	}
	return false
}

// DrawsFromPool reports whether a grant with this source must be funded by
// the main balance at grant time. Migrations import existing state and
// auto-extend grants are paid for by the sweep before the grant.
func (s Source) DrawsFromPool() bool {
	switch s {
	case SourceAdminManual, SourcePayPal, SourceOffline:
		return true
	}
	return false
}

func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
	return s, nil
}

var (
	ErrChannelNotFound   = errors.New("channel not found")
	ErrDuplicateChannel  = errors.New("whapi channel already registered")
	ErrOwnerNotFound     = errors.New("channel owner not found")
	ErrInvalidDays       = errors.New("days must be a positive integer")
	ErrInvalidSource     = errors.New("invalid days source")
	ErrExceedsCap        = errors.New("grant would exceed the maximum days ahead")
	ErrChannelExpired    = errors.New("channel has expired, grant days to reactivate it")
	ErrInvalidTransition = errors.New("invalid channel status transition")
)

// Channel is one WhatsApp sending line. ExpiresAt is authoritative, DaysRemaining
// is a cache derived from it.
type Channel struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone,omitempty"`
	WhapiChannelID string     `json:"whapi_channel_id,omitempty"`
	WhapiToken     string     `json:"-"`
	Status         Status     `json:"status"`
	ActiveFrom     *time.Time `json:"active_from,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	DaysRemaining  int        `json:"days_remaining"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LedgerEntry is an immutable record of one grant.
type LedgerEntry struct {
	ID                   string     `json:"id"`
	ChannelID            string     `json:"channel_id"`
	UserID               string     `json:"user_id"`
	Days                 int        `json:"days"`
	Source               Source     `json:"source"`
	ExpiresAtBefore      *time.Time `json:"expires_at_before,omitempty"`
	ExpiresAtAfter       time.Time  `json:"expires_at_after"`
	BalanceTransactionID string     `json:"balance_transaction_id,omitempty"`
	SubscriptionID       string     `json:"subscription_id,omitempty"`
	PaymentID            string     `json:"payment_id,omitempty"`
	Note                 string     `json:"note,omitempty"`
	CreatedBy            string     `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

type GrantRequest struct {
	ChannelID            string
	Days                 int
	Source               Source
	BalanceTransactionID string
	SubscriptionID       string
	PaymentID            string
	Note                 string
	CreatedBy            string
}

// GrantBranch names which rule computed the new expiry.
type GrantBranch string

const (
	BranchActivate GrantBranch = "activate"
	BranchExtend   GrantBranch = "extend"
	BranchRestart  GrantBranch = "restart"
)

type GrantResult struct {
	Entry   LedgerEntry `json:"ledger_entry"`
	Channel Channel     `json:"channel"`
	Branch  GrantBranch `json:"branch"`
}

type ListFilter struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}

type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Active  int `json:"active"`
	Paused  int `json:"paused"`
}
