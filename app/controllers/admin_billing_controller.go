package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
)

// Sweeper triggers one expiry pass outside the schedule.
type Sweeper interface {
	RunSweepOnce(ctx context.Context) (int, error)
}

// AdminBillingController exposes the privileged catalog and subscription
// operations behind the admin API key.
type AdminBillingController struct {
	service *billing.Service
	sweeper Sweeper
}

func NewAdminBillingController(service *billing.Service, sweeper Sweeper) *AdminBillingController {
	return &AdminBillingController{service: service, sweeper: sweeper}
}

type mapExternalPlanRequest struct {
	ExternalPlanID string `json:"external_plan_id" validate:"required,max=191"`
}

type grantPlanRequest struct {
	PlanID    uint       `json:"plan_id" validate:"required"`
	PeriodEnd *time.Time `json:"period_end"`
	Actor     string     `json:"actor" validate:"required,max=100"`
}

type resetRequest struct {
	Actor  string `json:"actor" validate:"required,max=100"`
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *AdminBillingController) HandleCreatePlan(c *fiber.Ctx) error {
	var spec billing.PlanSpec
	if err := c.BodyParser(&spec); err != nil {
		return respondError(c, &billing.ValidationError{Message: "malformed request body", Err: err})
	}
	plan, err := h.service.CreatePlan(c.UserContext(), spec)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

func (h *AdminBillingController) HandleMapExternalPlan(c *fiber.Ctx) error {
	planID, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req mapExternalPlanRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	plan, err := h.service.MapExternalPlan(c.UserContext(), planID, req.ExternalPlanID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(plan)
}

func (h *AdminBillingController) HandleGrantPlan(c *fiber.Ctx) error {
	userID, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req grantPlanRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.PeriodEnd != nil && !req.PeriodEnd.After(time.Now()) {
		return respondError(c, &billing.ValidationError{Field: "period_end", Message: "must be in the future"})
	}
	sub, err := h.service.GrantPlan(c.UserContext(), userID, req.PlanID, req.PeriodEnd, req.Actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

func (h *AdminBillingController) HandleResetToFree(c *fiber.Ctx) error {
	userID, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req resetRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	sub, err := h.service.ResetToFree(c.UserContext(), userID, req.Actor, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

func (h *AdminBillingController) HandleSweep(c *fiber.Ctx) error {
	expired, err := h.sweeper.RunSweepOnce(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Admin] Manual expiry sweep expired %d subscriptions", expired)
	return c.JSON(fiber.Map{"expired": expired})
}
