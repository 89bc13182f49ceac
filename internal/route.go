package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/auth"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"

	ctlAdmin "github.com/gdbrns/go-whatsapp-channel-billing/internal/admin"
	ctlChannels "github.com/gdbrns/go-whatsapp-channel-billing/internal/channels"
	ctlIndex "github.com/gdbrns/go-whatsapp-channel-billing/internal/index"
	ctlWebhooks "github.com/gdbrns/go-whatsapp-channel-billing/internal/webhooks"
)

func Routes(app *fiber.App, svc *Services) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}
	app.Get(router.BaseURL+"/health", ctlIndex.Health(svc.DB))

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// ============================================================
	// ADMIN ROUTES (X-Admin-Secret authentication)
	// ============================================================
	admin := &ctlAdmin.Handler{
		Accounts:     svc.Accounts,
		Channels:     svc.Channels,
		ChannelStats: svc.ChannelStore,
		Pool:         svc.Pool,
		Audit:        svc.Audit,
		Sweeps:       svc.Sweeper,
	}
	adminGroup := app.Group(router.BaseURL+"/admin", auth.AdminAuth())

	adminGroup.Get("/stats", admin.Stats)

	// Users and subscriptions
	adminGroup.Post("/users", admin.CreateUser)
	adminGroup.Get("/users", admin.ListUsers)
	adminGroup.Get("/users/:user_id", admin.GetUser)
	adminGroup.Put("/users/:user_id/subscription", admin.PutSubscription)
	adminGroup.Get("/users/:user_id/subscription", admin.GetSubscription)
	adminGroup.Post("/users/:user_id/token", admin.IssueToken)
	adminGroup.Post("/users/:user_id/channels", admin.CreateChannel)

	// Channels and days
	adminGroup.Get("/channels", admin.ListChannels)
	adminGroup.Get("/channels/:channel_id", admin.GetChannel)
	adminGroup.Post("/channels/:channel_id/days", admin.GrantDays)
	adminGroup.Post("/channels/:channel_id/pause", admin.PauseChannel)
	adminGroup.Post("/channels/:channel_id/resume", admin.ResumeChannel)
	adminGroup.Get("/channels/:channel_id/ledger", admin.ChannelLedger)

	// Main balance
	adminGroup.Get("/balance", admin.GetBalance)
	adminGroup.Post("/balance/adjust", admin.AdjustBalance)
	adminGroup.Get("/balance/transactions", admin.ListTransactions)

	// Audit and manual sweeps
	adminGroup.Get("/audit-logs", admin.ListAuditLogs)
	adminGroup.Post("/sweeps/expiry", admin.RunExpirySweep)
	adminGroup.Post("/sweeps/auto-extend", admin.RunAutoExtendSweep)

	// ============================================================
	// USER ROUTES (JWT Bearer token authentication)
	// ============================================================
	userAuthMiddleware := auth.UserAuth()

	channels := &ctlChannels.Handler{
		Channels: svc.Channels,
		QR:       svc.Whapi,
	}
	app.Get(router.BaseURL+"/channels", userAuthMiddleware, channels.List)
	app.Get(router.BaseURL+"/channels/:channel_id", userAuthMiddleware, channels.Get)
	app.Get(router.BaseURL+"/channels/:channel_id/ledger", userAuthMiddleware, channels.Ledger)
	app.Get(router.BaseURL+"/channels/:channel_id/qr", userAuthMiddleware, channels.QRCode)

	// Webhook routes
	webhooks := &ctlWebhooks.Controller{
		Store:        svc.Webhooks,
		AllowPrivate: svc.WebhookAllowPrivate,
	}
	app.Get(router.BaseURL+"/webhooks", userAuthMiddleware, webhooks.ListWebhooks)
	app.Post(router.BaseURL+"/webhooks", userAuthMiddleware, webhooks.CreateWebhook)
	app.Get(router.BaseURL+"/webhooks/:webhook_id", userAuthMiddleware, webhooks.GetWebhook)
	app.Patch(router.BaseURL+"/webhooks/:webhook_id", userAuthMiddleware, webhooks.UpdateWebhook)
	app.Delete(router.BaseURL+"/webhooks/:webhook_id", userAuthMiddleware, webhooks.DeleteWebhook)
	app.Get(router.BaseURL+"/webhooks/:webhook_id/logs", userAuthMiddleware, webhooks.GetWebhookLogs)
}
