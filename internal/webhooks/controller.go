package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/apierror"
	"github.com/gdbrns/go-whatsapp-channel-billing/internal/webhook"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/auth"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
)

type Store interface {
	GetAllWebhooks(ctx context.Context, userID string) ([]webhook.WebhookConfig, error)
	GetWebhook(ctx context.Context, webhookID int64, userID string) (*webhook.WebhookConfig, error)
	CreateWebhook(ctx context.Context, userID, url, secret string, events []notify.EventType) (int64, error)
	UpdateWebhook(ctx context.Context, webhookID int64, userID, url string, events []notify.EventType, active bool) error
	DeleteWebhook(ctx context.Context, webhookID int64, userID string) error
	GetDeliveryLogs(ctx context.Context, webhookID int64, limit int) ([]webhook.DeliveryLog, error)
}

type Controller struct {
	Store Store
	// AllowPrivate accepts http and private-network URLs, for local setups.
	AllowPrivate bool
}

type createWebhookRequest struct {
	URL    string             `json:"url"`
	Events []notify.EventType `json:"events"`
}

type updateWebhookRequest struct {
	URL    *string             `json:"url"`
	Events *[]notify.EventType `json:"events"`
	Active *bool               `json:"active"`
}

func (h *Controller) webhookLog(c *fiber.Ctx, op string, webhookID int64) *logrus.Entry {
	entry := log.Print(c).WithField("user_id", auth.UserID(c)).WithField("op", op)
	if webhookID > 0 {
		entry = entry.WithField("webhook_id", webhookID)
	}
	return entry
}

func (h *Controller) validate(url string, events []notify.EventType) error {
	if err := webhook.ValidateURL(strings.TrimSpace(url), h.AllowPrivate); err != nil {
		return err
	}
	return webhook.ValidateEvents(events)
}

func webhookID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("webhook_id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

// @Summary     List Webhooks
// @Tags        Webhooks
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} router.Response{data=[]webhook.WebhookConfig}
// @Router      /webhooks [get]
func (h *Controller) ListWebhooks(c *fiber.Ctx) error {
	webhooks, err := h.Store.GetAllWebhooks(c.UserContext(), auth.UserID(c))
	if err != nil {
		return apierror.Respond(c, err)
	}
	if webhooks == nil {
		webhooks = []webhook.WebhookConfig{}
	}
	h.webhookLog(c, "ListWebhooks", 0).WithField("webhook_count", len(webhooks)).Debug("Webhooks listed")
	return router.ResponseSuccessWithData(c, "success", map[string]interface{}{"webhooks": webhooks})
}

// @Summary     Get Webhook
// @Tags        Webhooks
// @Produce     json
// @Security    BearerAuth
// @Param       webhook_id path int true "Webhook ID"
// @Success     200 {object} router.Response{data=webhook.WebhookConfig}
// @Failure     404 {object} router.ResError
// @Router      /webhooks/{webhook_id} [get]
func (h *Controller) GetWebhook(c *fiber.Ctx) error {
	id, ok := webhookID(c)
	if !ok {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}
	wh, err := h.Store.GetWebhook(c.UserContext(), id, auth.UserID(c))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "success", map[string]interface{}{"webhook": wh})
}

// @Summary     Create Webhook
// @Description Subscribe an HTTPS endpoint to billing events. The signing secret is returned once.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body body createWebhookRequest true "Webhook"
// @Success     201 {object} router.Response
// @Failure     400 {object} router.ResError
// @Router      /webhooks [post]
func (h *Controller) CreateWebhook(c *fiber.Ctx) error {
	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return router.ResponseBadRequest(c, "url is required")
	}
	if err := h.validate(req.URL, req.Events); err != nil {
		return apierror.Respond(c, err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return apierror.Respond(c, err)
	}
	secretStr := hex.EncodeToString(secret)

	id, err := h.Store.CreateWebhook(c.UserContext(), auth.UserID(c), strings.TrimSpace(req.URL), secretStr, req.Events)
	if err != nil {
		return apierror.Respond(c, err)
	}

	h.webhookLog(c, "CreateWebhook", id).WithField("url", req.URL).Info("Webhook created")
	return router.ResponseCreatedWithData(c, "webhook created", map[string]interface{}{"webhook_id": id, "secret": secretStr})
}

// @Summary     Update Webhook
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       webhook_id path int true "Webhook ID"
// @Param       body body updateWebhookRequest true "Fields to change"
// @Success     200 {object} router.Response
// @Failure     400 {object} router.ResError
// @Failure     404 {object} router.ResError
// @Router      /webhooks/{webhook_id} [patch]
func (h *Controller) UpdateWebhook(c *fiber.Ctx) error {
	id, ok := webhookID(c)
	if !ok {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}
	var req updateWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "invalid request body")
	}

	userID := auth.UserID(c)
	wh, err := h.Store.GetWebhook(c.UserContext(), id, userID)
	if err != nil {
		return apierror.Respond(c, err)
	}

	url, events, active := wh.URL, wh.Events, wh.Active
	if req.URL != nil {
		url = strings.TrimSpace(*req.URL)
	}
	if req.Events != nil {
		events = *req.Events
	}
	if req.Active != nil {
		active = *req.Active
	}
	if err := h.validate(url, events); err != nil {
		return apierror.Respond(c, err)
	}

	if err := h.Store.UpdateWebhook(c.UserContext(), id, userID, url, events, active); err != nil {
		return apierror.Respond(c, err)
	}

	h.webhookLog(c, "UpdateWebhook", id).WithField("active", active).Info("Webhook updated")
	return router.ResponseSuccess(c, "webhook updated")
}

// @Summary     Delete Webhook
// @Tags        Webhooks
// @Produce     json
// @Security    BearerAuth
// @Param       webhook_id path int true "Webhook ID"
// @Success     200 {object} router.Response
// @Failure     404 {object} router.ResError
// @Router      /webhooks/{webhook_id} [delete]
func (h *Controller) DeleteWebhook(c *fiber.Ctx) error {
	id, ok := webhookID(c)
	if !ok {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}
	if err := h.Store.DeleteWebhook(c.UserContext(), id, auth.UserID(c)); err != nil {
		return apierror.Respond(c, err)
	}
	h.webhookLog(c, "DeleteWebhook", id).Info("Webhook deleted")
	return router.ResponseSuccess(c, "webhook deleted")
}

// @Summary     Webhook Delivery Logs
// @Tags        Webhooks
// @Produce     json
// @Security    BearerAuth
// @Param       webhook_id path int true "Webhook ID"
// @Success     200 {object} router.Response{data=[]webhook.DeliveryLog}
// @Failure     404 {object} router.ResError
// @Router      /webhooks/{webhook_id}/logs [get]
func (h *Controller) GetWebhookLogs(c *fiber.Ctx) error {
	id, ok := webhookID(c)
	if !ok {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}
	if _, err := h.Store.GetWebhook(c.UserContext(), id, auth.UserID(c)); err != nil {
		return apierror.Respond(c, err)
	}

	logs, err := h.Store.GetDeliveryLogs(c.UserContext(), id, c.QueryInt("limit", 100))
	if err != nil {
		return apierror.Respond(c, err)
	}
	if logs == nil {
		logs = []webhook.DeliveryLog{}
	}
	return router.ResponseSuccessWithData(c, "success", map[string]interface{}{"logs": logs})
}
