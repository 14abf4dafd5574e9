package middleware

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/keyauth"

	"github.com/miketere/businesscard-sub001/internal/pkg/usercontext"
)

const AdminAPIKeyHeader = "X-Admin-Key"

// AdminAPIKeyMiddleware guards the privileged billing routes. An empty key
// disables them entirely.
func AdminAPIKeyMiddleware(apiKey string) fiber.Handler {
	if apiKey == "" {
		log.Warn("[Auth] ADMIN_API_KEY is not set, admin billing routes are disabled")
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Admin API disabled"})
		}
	}
	want := sha256.Sum256([]byte(apiKey))

	return keyauth.New(keyauth.Config{
		KeyLookup: "header:" + AdminAPIKeyHeader,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			got := sha256.Sum256([]byte(key))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			c.Locals(usercontext.KeyAdmin, true)
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin API key"})
		},
	})
}
