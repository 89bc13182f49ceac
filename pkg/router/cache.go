package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

// HttpCacheInMemory caches anonymous GET responses only. Balances and channel
// state behind credentials must always be read fresh.
func HttpCacheInMemory(ttl int) fiber.Handler {
	if ttl <= 0 {
		ttl = 5
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			return c.Get(fiber.HeaderAuthorization) != "" || c.Get(HeaderAdminSecret) != ""
		},
		Expiration: time.Duration(ttl) * time.Second,
	})
}
