package webhook

import (
	"errors"
	"fmt"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidURL      = errors.New("invalid webhook url")
	ErrInvalidEvent    = errors.New("unknown webhook event")
)

type WebhookConfig struct {
	ID        int64              `json:"id"`
	UserID    string             `json:"user_id"`
	URL       string             `json:"url"`
	Secret    string             `json:"-"`
	Events    []notify.EventType `json:"events"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Wants reports whether the webhook subscribed to the event. An empty list
// subscribes to everything.
func (w WebhookConfig) Wants(event notify.EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, evt := range w.Events {
		if evt == event {
			return true
		}
	}
	return false
}

type WebhookEvent struct {
	ID        string                 `json:"id"`
	EventType notify.EventType       `json:"event_type"`
	UserID    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type DeliveryLog struct {
	ID           int64            `json:"id"`
	WebhookID    int64            `json:"webhook_id"`
	EventType    notify.EventType `json:"event_type"`
	Status       DeliveryStatus   `json:"status"`
	AttemptCount int              `json:"attempt_count"`
	LastError    string           `json:"last_error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ValidateEvents rejects unknown event names.
func ValidateEvents(events []notify.EventType) error {
	for _, e := range events {
		if !e.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidEvent, e)
		}
	}
	return nil
}
