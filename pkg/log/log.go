package log

import (
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Configure sets the level ("debug", "info", ...) and the output format
// ("text" or "json"). Unknown values keep the defaults.
func Configure(level, format string) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logger.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	default:
		logger.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
			DisableColors:   false,
			ForceColors:     true,
		}
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

// Logger exposes the underlying logger, e.g. for cron.VerbosePrintfLogger.
func Logger() *logrus.Logger {
	return logger
}

func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	fields := logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	}
	if id, ok := c.Locals("request_id").(string); ok && id != "" {
		fields["request_id"] = id
	}
	return logger.WithFields(fields)
}

// Job returns an entry tagged with the background job name.
func Job(name string) *logrus.Entry {
	return logger.WithField("job", name)
}

// SysErr logs an internal failure that has no request to attach to.
func SysErr(scope string, err error) {
	if err == nil {
		return
	}
	logger.WithField("scope", scope).Error(err.Error())
}
