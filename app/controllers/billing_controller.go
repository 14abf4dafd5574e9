package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/usercontext"
)

// BillingController serves the caller's own subscription.
type BillingController struct {
	service *billing.Service
}

func NewBillingController(service *billing.Service) *BillingController {
	return &BillingController{service: service}
}

type checkoutRequest struct {
	PlanID uint   `json:"plan_id" validate:"required"`
	Email  string `json:"email" validate:"omitempty,email"`
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// HandleSubscription returns the caller's subscription, or null when the
// user never had one.
func (h *BillingController) HandleSubscription(c *fiber.Ctx) error {
	sub, err := h.service.Store().Current(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if sub == nil {
		return c.JSON(nil)
	}
	return c.JSON(sub)
}

func (h *BillingController) HandlePlans(c *fiber.Ctx) error {
	plans, err := h.service.Catalog().List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (h *BillingController) HandleInvoices(c *fiber.Ctx) error {
	invoices, err := h.service.ListInvoices(c.UserContext(), usercontext.GetUserID(c), c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}

func (h *BillingController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	session, err := h.service.StartCheckout(c.UserContext(), usercontext.GetUserID(c), req.PlanID, req.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *BillingController) HandleCancel(c *fiber.Ctx) error {
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	sub, err := h.service.Cancel(c.UserContext(), usercontext.GetUserID(c), req.AtPeriodEnd)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}
