// Package whapi is a small client for the WHAPI cloud gateway and partner
// manager APIs: session logout, QR pairing and channel day extension.
package whapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
)

var (
	ErrNotConfigured = errors.New("whapi partner token not configured")
	ErrMissingToken  = errors.New("channel has no whapi token")
)

// APIError is a non-2xx answer from WHAPI.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whapi: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying may help.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Config struct {
	GateURL      string
	ManagerURL   string
	PartnerToken string
	Timeout      time.Duration
	RateLimit    float64
	Burst        int
	Retries      int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		GateURL:      env.GetEnvStringOrDefault("WHAPI_GATE_URL", "https://gate.whapi.cloud"),
		ManagerURL:   env.GetEnvStringOrDefault("WHAPI_MANAGER_URL", "https://manager.whapi.cloud"),
		PartnerToken: env.GetEnvStringOrDefault("WHAPI_PARTNER_TOKEN", ""),
		Timeout:      env.GetEnvDurationOrDefault("WHAPI_TIMEOUT", 15*time.Second),
		RateLimit:    env.GetEnvFloat64OrDefault("WHAPI_RATE_LIMIT_RPS", 5),
		Burst:        env.GetEnvIntOrDefault("WHAPI_RATE_LIMIT_BURST", 5),
		Retries:      env.GetEnvIntOrDefault("WHAPI_RETRIES", 3),
		BaseBackoff:  env.GetEnvDurationOrDefault("WHAPI_BACKOFF_BASE", 500*time.Millisecond),
		MaxBackoff:   env.GetEnvDurationOrDefault("WHAPI_BACKOFF_MAX", 5*time.Second),
	}
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.GateURL = strings.TrimRight(cfg.GateURL, "/")
	cfg.ManagerURL = strings.TrimRight(cfg.ManagerURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

// Logout ends the WhatsApp session of the channel owning token.
func (c *Client) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	return c.do(ctx, http.MethodPost, c.cfg.GateURL+"/users/logout", token, nil, nil, true)
}

type extendRequest struct {
	Days    int    `json:"days"`
	Comment string `json:"comment,omitempty"`
}

// Extend buys days for a channel on the partner account. The call is not
// idempotent: it is retried only when WHAPI cannot have applied it, i.e. the
// connection was never established or the request was rate limited. Timeouts
// and 5xx answers are returned to the caller as is.
func (c *Client) Extend(ctx context.Context, whapiChannelID string, days int, comment string) error {
	if c.cfg.PartnerToken == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(whapiChannelID) == "" {
		return errors.New("whapi channel id is empty")
	}
	url := c.cfg.ManagerURL + "/channels/" + whapiChannelID + "/extend"
	return c.do(ctx, http.MethodPost, url, c.cfg.PartnerToken, extendRequest{Days: days, Comment: comment}, nil, false)
}

type loginRowData struct {
	Status  string `json:"status"`
	RowData string `json:"rowdata"`
	Expire  int    `json:"expire"`
}

// LoginQR returns the raw pairing payload to be rendered as a QR code.
func (c *Client) LoginQR(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	var out loginRowData
	if err := c.do(ctx, http.MethodGet, c.cfg.GateURL+"/users/login/rowdata", token, nil, &out, true); err != nil {
		return "", err
	}
	if out.RowData == "" {
		return "", fmt.Errorf("whapi: empty QR payload (status %q)", out.Status)
	}
	return out.RowData, nil
}

func (c *Client) do(ctx context.Context, method, url, token string, body interface{}, out interface{}, idempotent bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("whapi: encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.once(ctx, method, url, token, payload, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, idempotent) {
			return lastErr
		}
		if attempt == c.cfg.Retries {
			break
		}

		// Exponential backoff with small jitter.
		backoff := c.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
		jitter := time.Duration(mathrand.Int64N(int64(backoff/4) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return lastErr
}

// retryable reports whether a failed attempt may be sent again. Requests that
// are not idempotent only qualify when they never reached WHAPI.
func retryable(err error, idempotent bool) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if !idempotent {
			return apiErr.StatusCode == http.StatusTooManyRequests
		}
		return apiErr.Temporary()
	}
	if idempotent {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *Client) once(ctx context.Context, method, url, token string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whapi: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := strings.TrimSpace(string(respBody))
		if len(excerpt) > 256 {
			excerpt = excerpt[:256]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: excerpt}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("whapi: decode response: %w", err)
		}
	}
	return nil
}
