// Package notify defines the billing events pushed to user webhooks.
package notify

import "context"

type EventType string

const (
	EventChannelExpired      EventType = "channel.expired"
	EventChannelDaysGranted  EventType = "channel.days_granted"
	EventChannelAutoExtended EventType = "channel.auto_extended"
	EventAutoExtendFailed    EventType = "auto_extend.failed"
	EventAccountExpired      EventType = "account.expired"
)

// AllEvents lists every event a webhook may subscribe to.
var AllEvents = []EventType{
	EventChannelExpired,
	EventChannelDaysGranted,
	EventChannelAutoExtended,
	EventAutoExtendFailed,
	EventAccountExpired,
}

func (e EventType) Valid() bool {
	for _, known := range AllEvents {
		if e == known {
			return true
		}
	}
	return false
}

// Notifier hands an event to the delivery layer. Implementations must not
// block the caller on network I/O.
type Notifier interface {
	Notify(ctx context.Context, userID string, event EventType, data map[string]interface{})
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, EventType, map[string]interface{}) {}
