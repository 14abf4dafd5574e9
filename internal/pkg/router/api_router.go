package router

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/miketere/businesscard-sub001/app/controllers"
	"github.com/miketere/businesscard-sub001/internal/pkg/constants"
	"github.com/miketere/businesscard-sub001/internal/pkg/middleware"
	"github.com/miketere/businesscard-sub001/internal/pkg/usercontext"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	rl := h.deps.RateLimit.withDefaults()
	limits := limiter.Config{
		Max:        rl.Max,
		Expiration: rl.Window,
		Storage:    rl.Storage,
		// Authenticated callers are limited per user, anonymous ones per IP.
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return "user:" + strconv.FormatUint(uint64(id), 10)
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	}

	api := app.Group(constants.APIRoute, middleware.UserContextMiddleware(h.deps.JWTSecret), limiter.New(limits))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.APIV1Route, middleware.RequireAPIAuth)

	ent := controllers.NewEntitlementsController(h.deps.Evaluator)
	entGroup := v1.Group("/entitlements")
	entGroup.Get("/cards", ent.HandleCanCreateCard)
	entGroup.Get("/contacts", ent.HandleCanCreateContact)
	entGroup.Get("/tier", ent.HandleTier)
	entGroup.Get("/features/:feature", ent.HandleFeature)
	entGroup.Get("/usage", ent.HandleUsage)

	bc := controllers.NewBillingController(h.deps.Billing)
	billingGroup := v1.Group("/billing")
	billingGroup.Get("/subscription", bc.HandleSubscription)
	billingGroup.Get("/plans", bc.HandlePlans)
	billingGroup.Get("/invoices", bc.HandleInvoices)
	billingGroup.Post("/checkout", bc.HandleCheckout)
	billingGroup.Post("/cancel", bc.HandleCancel)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
