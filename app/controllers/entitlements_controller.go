package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	"github.com/miketere/businesscard-sub001/internal/pkg/usercontext"
)

// EntitlementsController answers quota and feature questions for the caller.
type EntitlementsController struct {
	evaluator *entitlements.Evaluator
}

func NewEntitlementsController(evaluator *entitlements.Evaluator) *EntitlementsController {
	return &EntitlementsController{evaluator: evaluator}
}

func (h *EntitlementsController) HandleCanCreateCard(c *fiber.Ctx) error {
	return h.canCreate(c, entitlements.ResourceCard)
}

func (h *EntitlementsController) HandleCanCreateContact(c *fiber.Ctx) error {
	return h.canCreate(c, entitlements.ResourceContact)
}

func (h *EntitlementsController) canCreate(c *fiber.Ctx, kind entitlements.ResourceKind) error {
	decision, err := h.evaluator.CanCreate(c.UserContext(), usercontext.GetUserID(c), kind)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(decision)
}

func (h *EntitlementsController) HandleTier(c *fiber.Ctx) error {
	tier, err := h.evaluator.PlanTier(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tier_rank": tier})
}

func (h *EntitlementsController) HandleFeature(c *fiber.Ctx) error {
	feature, err := entitlements.ParseFeature(c.Params("feature"))
	if err != nil {
		return respondError(c, err)
	}
	enabled, err := h.evaluator.HasFeature(c.UserContext(), usercontext.GetUserID(c), feature)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"feature": feature, "enabled": enabled})
}

// HandleUsage reports counts against limits, including over-quota flags left
// behind by a downgrade.
func (h *EntitlementsController) HandleUsage(c *fiber.Ctx) error {
	usage, err := h.evaluator.Usage(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(usage)
}
