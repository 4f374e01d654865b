// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"bounty-settlement-system/logger"

	"github.com/gofiber/fiber/v2"
)

// StaticBearer guards internal endpoints such as /metrics with a shared token.
// An empty token disables the check.
func StaticBearer(expected string) fiber.Handler {
	log := logger.NewSublogger("gateway")

	return func(c *fiber.Ctx) error {
		if expected == "" {
			return c.Next()
		}
		token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			log.WithField("path", c.Path()).Warn("❌ [GATEWAY] invalid internal token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid internal token",
				"code":  "unauthorized",
			})
		}
		return c.Next()
	}
}
