package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/miketere/businesscard-sub001/app/controllers"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/constants"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	metrics "github.com/miketere/businesscard-sub001/internal/pkg/metrics/counter"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the route groups need.
type Dependencies struct {
	Billing   *billing.Service
	Evaluator *entitlements.Evaluator
	Webhooks  controllers.WebhookHandler
	Sweeper   controllers.Sweeper
	JWTSecret string
	AdminKey  string
	RateLimit RateLimit
}

// RateLimit configures the limiter on the user API. A nil Storage keeps
// counters in process memory.
type RateLimit struct {
	Max     int
	Window  time.Duration
	Storage fiber.Storage
}

func (r RateLimit) withDefaults() RateLimit {
	if r.Max <= 0 {
		r.Max = 120
	}
	if r.Window <= 0 {
		r.Window = time.Minute
	}
	return r
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get(constants.MetricsRoute, metrics.Handler())

	setup(app, NewApiRouter(deps), NewAdminRouter(deps), NewWebhookRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
