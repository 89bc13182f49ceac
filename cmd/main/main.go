package main

// @title Go WhatsApp Channel Billing API
// @version 1.0.0
// @description Channel-days billing for WhatsApp channels: day grants, a shared main balance, hourly expiry and nightly auto-extend.

// @contact.name gdbrns
// @contact.url https://github.com/gdbrns/go-whatsapp-channel-billing

// @license.name MIT
// @license.url https://github.com/gdbrns/go-whatsapp-channel-billing/blob/main/LICENSE

// @host localhost:7001
// @BasePath /

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Secret
// @description Admin secret key for billing operations

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token for user operations

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	var err error

	// Tokens are useless without a signing key
	env.MustGetEnvString("JWT_SECRET_KEY")

	// Running Startup Tasks
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	svc, err := internal.Startup(startupCtx)
	cancelStartup()
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Intialize Cron
	c := internal.NewCron(svc.Location)

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:   router.HttpErrorHandler,
		BodyLimit:      router.BodyLimitBytes(),
		ReadBufferSize: 8192,
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs") || strings.HasSuffix(c.Path(), "/qr")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + router.HeaderAdminSecret,
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, svc)

	// Running Routines Tasks
	internal.Routines(c, svc)

	// Get Server Configuration with defaults
	var serverConfig Server
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(),
		env.GetEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second))
	defer cancelShutdown()

	// Try To Shutdown Server
	if err = app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Let a running sweep finish before the database goes away
	select {
	case <-c.Stop().Done():
	case <-ctxShutdown.Done():
		log.Print(nil).Warn("Cron jobs still running at shutdown deadline")
	}

	svc.Close(ctxShutdown)
	log.Print(nil).Info("Shutdown complete")
}
