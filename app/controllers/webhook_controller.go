package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/jobqueue"
)

const stripeSignatureHeader = "Stripe-Signature"

// WebhookHandler is satisfied by *jobqueue.Reconciler.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (jobqueue.Outcome, error)
}

type WebhookController struct {
	handler WebhookHandler
}

func NewWebhookController(handler WebhookHandler) *WebhookController {
	return &WebhookController{handler: handler}
}

// HandleStripe acknowledges every verified event it could record. Failures
// after recording answer 500 so the provider redelivers; the retry loop
// replays the stored copy as well.
func (h *WebhookController) HandleStripe(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	outcome, err := h.handler.HandleWebhook(c.UserContext(), payload, c.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrUnverifiedEvent) || errors.Is(err, billing.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unverified_event", "message": "Webhook signature verification failed"})
		}
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"received": true, "outcome": outcome})
}
