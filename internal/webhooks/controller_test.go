package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/webhook"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/auth"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
)

type memStore struct {
	next     int64
	webhooks map[int64]webhook.WebhookConfig
}

func newMemStore() *memStore {
	return &memStore{webhooks: map[int64]webhook.WebhookConfig{}}
}

func (m *memStore) GetAllWebhooks(ctx context.Context, userID string) ([]webhook.WebhookConfig, error) {
	var out []webhook.WebhookConfig
	for _, wh := range m.webhooks {
		if wh.UserID == userID {
			out = append(out, wh)
		}
	}
	return out, nil
}

func (m *memStore) GetWebhook(ctx context.Context, webhookID int64, userID string) (*webhook.WebhookConfig, error) {
	wh, ok := m.webhooks[webhookID]
	if !ok || wh.UserID != userID {
		return nil, webhook.ErrWebhookNotFound
	}
	return &wh, nil
}

func (m *memStore) CreateWebhook(ctx context.Context, userID, url, secret string, events []notify.EventType) (int64, error) {
	m.next++
	m.webhooks[m.next] = webhook.WebhookConfig{ID: m.next, UserID: userID, URL: url, Secret: secret, Events: events, Active: true}
	return m.next, nil
}

func (m *memStore) UpdateWebhook(ctx context.Context, webhookID int64, userID, url string, events []notify.EventType, active bool) error {
	wh, ok := m.webhooks[webhookID]
	if !ok || wh.UserID != userID {
		return webhook.ErrWebhookNotFound
	}
	wh.URL, wh.Events, wh.Active = url, events, active
	m.webhooks[webhookID] = wh
	return nil
}

func (m *memStore) DeleteWebhook(ctx context.Context, webhookID int64, userID string) error {
	wh, ok := m.webhooks[webhookID]
	if !ok || wh.UserID != userID {
		return webhook.ErrWebhookNotFound
	}
	delete(m.webhooks, webhookID)
	return nil
}

func (m *memStore) GetDeliveryLogs(ctx context.Context, webhookID int64, limit int) ([]webhook.DeliveryLog, error) {
	return []webhook.DeliveryLog{{WebhookID: webhookID, Status: webhook.DeliverySuccess, AttemptCount: 1}}, nil
}

func newApp(h *Controller, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(auth.LocalUserID, userID)
		return c.Next()
	})
	app.Get("/webhooks", h.ListWebhooks)
	app.Post("/webhooks", h.CreateWebhook)
	app.Get("/webhooks/:webhook_id", h.GetWebhook)
	app.Patch("/webhooks/:webhook_id", h.UpdateWebhook)
	app.Delete("/webhooks/:webhook_id", h.DeleteWebhook)
	app.Get("/webhooks/:webhook_id/logs", h.GetWebhookLogs)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, router.Response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	var out router.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestCreateWebhookReturnsSecretOnce(t *testing.T) {
	store := newMemStore()
	app := newApp(&Controller{Store: store}, "u1")

	status, resp := call(t, app, http.MethodPost, "/webhooks", `{"url":"https://hooks.example.com/billing","events":["channel.expired"]}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d (%s)", status, resp.Message)
	}
	data, _ := resp.Data.(map[string]interface{})
	secret, _ := data["secret"].(string)
	if len(secret) != 64 || store.webhooks[1].Secret != secret {
		t.Fatalf("secret = %q stored = %q", secret, store.webhooks[1].Secret)
	}

	_, resp = call(t, app, http.MethodGet, "/webhooks/1", "")
	raw, _ := json.Marshal(resp.Data)
	if strings.Contains(string(raw), secret) {
		t.Fatalf("secret leaked on read: %s", raw)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"events":[]}`},
		{"plain http", `{"url":"http://hooks.example.com"}`},
		{"loopback", `{"url":"https://127.0.0.1/hook"}`},
		{"unknown event", `{"url":"https://hooks.example.com","events":["message.received"]}`},
		{"bad json", `{"url":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			app := newApp(&Controller{Store: store}, "u1")
			if status, _ := call(t, app, http.MethodPost, "/webhooks", tt.body); status != http.StatusBadRequest {
				t.Fatalf("status = %d", status)
			}
			if len(store.webhooks) != 0 {
				t.Fatal("webhook stored")
			}
		})
	}
}

func TestCreateWebhookAllowPrivate(t *testing.T) {
	app := newApp(&Controller{Store: newMemStore(), AllowPrivate: true}, "u1")
	if status, _ := call(t, app, http.MethodPost, "/webhooks", `{"url":"http://127.0.0.1:9000/hook"}`); status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}
}

func TestUpdateWebhookPatchesOnlyGivenFields(t *testing.T) {
	store := newMemStore()
	store.webhooks[5] = webhook.WebhookConfig{
		ID: 5, UserID: "u1", URL: "https://a.example.com", Active: true,
		Events: []notify.EventType{notify.EventChannelExpired},
	}
	app := newApp(&Controller{Store: store}, "u1")

	if status, _ := call(t, app, http.MethodPatch, "/webhooks/5", `{"active":false}`); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	wh := store.webhooks[5]
	if wh.Active || wh.URL != "https://a.example.com" || len(wh.Events) != 1 {
		t.Fatalf("webhook = %+v", wh)
	}

	if status, _ := call(t, app, http.MethodPatch, "/webhooks/5", `{"url":"https://10.0.0.1/x"}`); status != http.StatusBadRequest {
		t.Fatalf("private url status = %d", status)
	}
	if store.webhooks[5].URL != "https://a.example.com" {
		t.Fatal("rejected update was applied")
	}
}

func TestWebhooksAreScopedToOwner(t *testing.T) {
	store := newMemStore()
	store.webhooks[9] = webhook.WebhookConfig{ID: 9, UserID: "u2", URL: "https://b.example.com", Active: true}
	app := newApp(&Controller{Store: store}, "u1")

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/webhooks/9", ""},
		{http.MethodPatch, "/webhooks/9", `{"active":false}`},
		{http.MethodDelete, "/webhooks/9", ""},
		{http.MethodGet, "/webhooks/9/logs", ""},
	} {
		if status, _ := call(t, app, tc.method, tc.path, tc.body); status != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, status)
		}
	}
	if _, ok := store.webhooks[9]; !ok {
		t.Fatal("foreign webhook deleted")
	}
	if status, _ := call(t, app, http.MethodGet, "/webhooks/abc", ""); status != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", status)
	}
}

func TestDeleteAndLogs(t *testing.T) {
	store := newMemStore()
	store.webhooks[2] = webhook.WebhookConfig{ID: 2, UserID: "u1", URL: "https://c.example.com", Active: true}
	app := newApp(&Controller{Store: store}, "u1")

	status, resp := call(t, app, http.MethodGet, "/webhooks/2/logs", "")
	data, _ := resp.Data.(map[string]interface{})
	if logs, _ := data["logs"].([]interface{}); status != http.StatusOK || len(logs) != 1 {
		t.Fatalf("status = %d data = %#v", status, resp.Data)
	}
	if status, _ := call(t, app, http.MethodDelete, "/webhooks/2", ""); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if len(store.webhooks) != 0 {
		t.Fatal("webhook not deleted")
	}
}
