package internal

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/env"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
)

// NewCron builds the scheduler used by Routines. Specs carry a seconds field
// and are evaluated in the billing time zone.
func NewCron(loc *time.Location) *cron.Cron {
	logger := cron.VerbosePrintfLogger(log.Logger())
	return cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
}

// Routines schedules the hourly expiry sweep and the midnight auto-extend
// sweep, then starts the scheduler.
func Routines(c *cron.Cron, svc *Services) {
	log.Print(nil).Info("Running Routine Tasks")

	timeout := env.GetEnvDurationOrDefault("BILLING_SWEEP_TIMEOUT", 30*time.Minute)

	if isCronEnabled("BILLING_ENABLE_EXPIRY_CRON") {
		spec := getCronSpec("BILLING_EXPIRY_CRON_SPEC", "0 0 * * * *")
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			svc.Sweeper.RunExpiry(ctx)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add expiry sweep cron job")
		} else {
			log.Print(nil).WithField("spec", spec).Info("Expiry sweep cron enabled")
		}
	} else {
		log.Print(nil).Info("Expiry sweep cron disabled")
	}

	if isCronEnabled("BILLING_ENABLE_AUTO_EXTEND_CRON") {
		spec := getCronSpec("BILLING_AUTO_EXTEND_CRON_SPEC", "0 0 0 * * *")
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			svc.Sweeper.RunAutoExtend(ctx)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add auto-extend sweep cron job")
		} else {
			log.Print(nil).
				WithField("spec", spec).
				WithField("timezone", svc.Location.String()).
				Info("Auto-extend sweep cron enabled")
		}
	} else {
		log.Print(nil).Info("Auto-extend sweep cron disabled")
	}

	c.Start()
}

func isCronEnabled(name string) bool {
	envValue, ok := os.LookupEnv(name)
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(envValue))
	if err != nil {
		log.Print(nil).Warn("Invalid " + name + " value; defaulting to enabled")
		return true
	}
	return enabled
}

func getCronSpec(name, fallback string) string {
	// robfig/cron with seconds field (6 parts).
	spec := strings.TrimSpace(os.Getenv(name))
	if spec == "" {
		return fallback
	}
	return spec
}
