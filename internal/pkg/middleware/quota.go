package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	"github.com/miketere/businesscard-sub001/internal/pkg/usercontext"
)

// QuotaChecker is satisfied by *entitlements.Evaluator.
type QuotaChecker interface {
	CanCreate(ctx context.Context, userID uint, kind entitlements.ResourceKind) (entitlements.Decision, error)
}

// RequireQuota rejects the request with 403 when the caller is at the plan
// limit for kind. It must run after UserContextMiddleware; anonymous callers
// get 401.
func RequireQuota(checker QuotaChecker, kind entitlements.ResourceKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
		}

		decision, err := checker.CanCreate(c.UserContext(), userID, kind)
		if err != nil {
			log.Errorf("[Quota] Check failed for user %d (%s): %v", userID, kind, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Quota check failed"})
		}
		if !decision.Allowed {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "quota_exceeded",
				"message": decision.Reason,
				"limit":   decision.Limit,
				"current": decision.Current,
			})
		}
		return c.Next()
	}
}
