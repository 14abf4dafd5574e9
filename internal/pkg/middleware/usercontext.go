package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/miketere/businesscard-sub001/internal/pkg/security"
	"github.com/miketere/businesscard-sub001/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the caller from an "Authorization: Bearer"
// access token. Requests without a token continue anonymously; a token that
// fails verification is rejected.
func UserContextMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		claims, err := security.VerifyAccessToken(token, secret)
		if err != nil {
			log.Debugf("[Auth] Rejected access token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid access token"})
		}
		userID, _ := claims.UserID()

		usercontext.Set(c, usercontext.UserContext{
			UserID:     userID,
			Username:   claims.Username,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
