package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

// Source is the part of the store the engine reads and writes.
type Source interface {
	GetActiveWebhooks(ctx context.Context, userID string) ([]WebhookConfig, error)
	LogDelivery(ctx context.Context, webhookID int64, eventType notify.EventType, status DeliveryStatus, attemptCount int, lastError string) error
}

type EngineConfig struct {
	Enabled      bool
	Workers      int
	RetryLimit   int
	QueueSize    int
	RetryBackoff time.Duration
	AllowPrivate bool
	HTTPClient   *http.Client
}

func EngineConfigFromEnv() EngineConfig {
	return EngineConfig{
		Enabled:      env.GetEnvBoolOrDefault("WEBHOOKS_ENABLED", true),
		Workers:      env.GetEnvIntOrDefault("WEBHOOK_WORKERS", 4),
		RetryLimit:   env.GetEnvIntOrDefault("WEBHOOK_RETRY_LIMIT", 3),
		QueueSize:    env.GetEnvIntOrDefault("WEBHOOK_QUEUE_SIZE", 1000),
		RetryBackoff: env.GetEnvDurationOrDefault("WEBHOOK_RETRY_BACKOFF", 2*time.Second),
		AllowPrivate: env.GetEnvBoolOrDefault("WEBHOOK_ALLOW_PRIVATE_URLS", false),
	}
}

// Engine delivers billing events to user webhooks from a fixed worker pool.
// It implements notify.Notifier.
type Engine struct {
	source       Source
	httpClient   *http.Client
	queue        chan *deliveryTask
	workers      int
	retryLimit   int
	retryBackoff time.Duration
	allowPrivate bool
	enabled      bool
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type deliveryTask struct {
	webhook WebhookConfig
	event   WebhookEvent
}

var _ notify.Notifier = (*Engine)(nil)

func NewEngine(source Source, cfg EngineConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		source:       source,
		httpClient:   cfg.HTTPClient,
		queue:        make(chan *deliveryTask, cfg.QueueSize),
		workers:      cfg.Workers,
		retryLimit:   cfg.RetryLimit,
		retryBackoff: cfg.RetryBackoff,
		allowPrivate: cfg.AllowPrivate,
		enabled:      cfg.Enabled,
		ctx:          ctx,
		cancel:       cancel,
	}

	if cfg.Enabled {
		for i := 0; i < cfg.Workers; i++ {
			engine.wg.Add(1)
			go engine.worker()
		}
	}

	return engine
}

// Shutdown stops accepting events and lets queued deliveries finish until
// ctx is done. Remaining deliveries are abandoned.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Print(nil).Warn("Webhook drain timed out, abandoning queued deliveries")
	}
	e.cancel()
}

// Notify fans the event out to every active webhook of the user that wants
// it. It never blocks on network I/O: a full queue drops the event.
func (e *Engine) Notify(ctx context.Context, userID string, eventType notify.EventType, data map[string]interface{}) {
	if !e.enabled || userID == "" {
		return
	}
	e.Dispatch(ctx, userID, WebhookEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (e *Engine) Dispatch(ctx context.Context, userID string, event WebhookEvent) {
	if !e.enabled {
		return
	}

	webhooks, err := e.source.GetActiveWebhooks(ctx, userID)
	if err != nil {
		log.SysErr("wh-fetch", err)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	dispatched := 0
	for _, webhook := range webhooks {
		if !webhook.Wants(event.EventType) {
			continue
		}
		select {
		case e.queue <- &deliveryTask{webhook: webhook, event: event}:
			dispatched++
		default:
			log.Print(nil).
				WithField("user_id", userID).
				WithField("event", string(event.EventType)).
				Warn("Webhook queue full, event dropped")
		}
	}

	if dispatched > 0 {
		log.Print(nil).
			WithField("user_id", userID).
			WithField("event", string(event.EventType)).
			WithField("webhooks", dispatched).
			Debug("Webhook event dispatched")
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for task := range e.queue {
		e.deliver(task)
	}
}

func (e *Engine) deliver(task *deliveryTask) {
	logger := log.Print(nil).
		WithField("webhook_id", task.webhook.ID).
		WithField("user_id", task.event.UserID).
		WithField("event", string(task.event.EventType))

	if err := ValidateURL(task.webhook.URL, e.allowPrivate); err != nil {
		logger.Warn("Webhook URL rejected: " + err.Error())
		e.logDelivery(task, DeliveryFailed, 0, err.Error())
		return
	}

	payload, err := json.Marshal(task.event)
	if err != nil {
		log.SysErr("wh-marshal", err)
		return
	}

	signature := Sign(payload, task.webhook.Secret)

	var lastErr error
	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		lastErr = e.post(task, payload, signature)
		if lastErr == nil {
			e.logDelivery(task, DeliverySuccess, attempt, "")
			logger.WithField("attempt", attempt).Debug("Webhook delivered")
			return
		}
		if attempt < e.retryLimit {
			select {
			case <-e.ctx.Done():
				attempt = e.retryLimit
			case <-time.After(time.Duration(attempt) * e.retryBackoff):
			}
		}
	}

	e.logDelivery(task, DeliveryFailed, e.retryLimit, lastErr.Error())
	logger.WithField("attempts", e.retryLimit).Warn("Webhook delivery failed: " + lastErr.Error())
}

func (e *Engine) post(task *deliveryTask, payload []byte, signature string) error {
	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, task.webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", string(task.event.EventType))
	req.Header.Set("X-Webhook-Id", task.event.ID)
	req.Header.Set("User-Agent", "WhatsApp-Channel-Billing/1.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (e *Engine) logDelivery(task *deliveryTask, status DeliveryStatus, attempts int, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.source.LogDelivery(ctx, task.webhook.ID, task.event.EventType, status, attempts, lastError); err != nil {
		log.SysErr("wh-log", err)
	}
}

// Sign returns the X-Webhook-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ValidateURL accepts only public HTTPS endpoints unless allowPrivate is set.
func ValidateURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if allowPrivate {
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
		}
		return nil
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: only HTTPS URLs are allowed", ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("%w: private/local network URLs are not allowed", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("%w: private/local network URLs are not allowed", ErrInvalidURL)
		}
	}
	return nil
}
