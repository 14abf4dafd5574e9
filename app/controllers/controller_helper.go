package controllers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	"github.com/miketere/businesscard-sub001/internal/pkg/jobqueue"
)

var validate = validator.New()

// respondError maps domain errors onto HTTP statuses. Unexpected errors are
// logged and answered with a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	var verr *billing.ValidationError
	var quota *entitlements.QuotaExceededError

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": verr.Error(), "field": verr.Field})
	case errors.Is(err, billing.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	case errors.Is(err, billing.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.As(err, &quota):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "quota_exceeded", "message": quota.Error(), "limit": quota.Limit, "current": quota.Current})
	case errors.Is(err, billing.ErrStateConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "state_conflict", "message": err.Error()})
	case errors.Is(err, jobqueue.ErrSweepRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sweep_running", "message": err.Error()})
	case errors.Is(err, billing.ErrGateway):
		log.Warnf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Payment provider unavailable, please retry"})
	case errors.Is(err, billing.ErrUnverifiedEvent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unverified_event", "message": "Webhook signature verification failed"})
	}

	log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal server error"})
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return &billing.ValidationError{Message: "malformed request body", Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &billing.ValidationError{Field: verrs[0].Field(), Message: fmt.Sprintf("failed on '%s'", verrs[0].Tag()), Err: err}
		}
		return &billing.ValidationError{Message: err.Error(), Err: err}
	}
	return nil
}

func idParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &billing.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return uint(id), nil
}
