package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/miketere/businesscard-sub001/app/controllers"
	"github.com/miketere/businesscard-sub001/internal/pkg/constants"
)

// WebhookRouter serves provider callbacks. They authenticate by signature,
// so no user or admin middleware runs in front of them.
type WebhookRouter struct {
	deps Dependencies
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	wh := controllers.NewWebhookController(h.deps.Webhooks)
	app.Post(constants.StripeWebhook, wh.HandleStripe)
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}
