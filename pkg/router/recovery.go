package router

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
)

// RecoveryMiddleware converts panics into structured JSON responses and logs them.
// It must be registered before application routes.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				message := fmt.Sprintf("%v", rec)
				log.Print(c).
					WithField("stack", string(debug.Stack())).
					Error("panic recovered: " + message)
				resp := Response{
					Status:  false,
					Code:    fiber.StatusInternalServerError,
					Message: "Internal Server Error",
					Error:   "Internal Server Error",
				}
				err = c.Status(resp.Code).JSON(resp)
			}
		}()
		return c.Next()
	}
}
