package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/miketere/businesscard-sub001/app/controllers"
	"github.com/miketere/businesscard-sub001/internal/pkg/constants"
	"github.com/miketere/businesscard-sub001/internal/pkg/middleware"
)

type AdminRouter struct {
	deps Dependencies
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := controllers.NewAdminBillingController(h.deps.Billing, h.deps.Sweeper)

	adminGroup := app.Group(constants.AdminBillingRoute, middleware.AdminAPIKeyMiddleware(h.deps.AdminKey))
	adminGroup.Post("/plans", admin.HandleCreatePlan)
	adminGroup.Put("/plans/:id/external", admin.HandleMapExternalPlan)
	adminGroup.Post("/users/:id/reset", admin.HandleResetToFree)
	adminGroup.Post("/users/:id/grant", admin.HandleGrantPlan)
	adminGroup.Post("/sweep", admin.HandleSweep)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
