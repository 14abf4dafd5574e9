package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	"github.com/miketere/businesscard-sub001/internal/pkg/jobqueue"
)

func TestRespondError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &billing.ValidationError{Field: "currency", Message: "bad"}, fiber.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("create: %w", billing.ErrValidation), fiber.StatusBadRequest},
		{"not found", fmt.Errorf("plan 9: %w", billing.ErrNotFound), fiber.StatusNotFound},
		{"quota", entitlements.Decision{Limit: 1, Current: 1}.Err(entitlements.ResourceCard), fiber.StatusForbidden},
		{"conflict", &billing.StateConflictError{UserID: 1, From: "expired", To: "active"}, fiber.StatusConflict},
		{"gateway", &billing.GatewayError{Op: "cancel", Err: errors.New("timeout")}, fiber.StatusBadGateway},
		{"unverified", fmt.Errorf("%w: stale timestamp", billing.ErrUnverifiedEvent), fiber.StatusBadRequest},
		{"sweep running", jobqueue.ErrSweepRunning, fiber.StatusConflict},
		{"unexpected", errors.New("disk full"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tc.err) })
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestIDParam(t *testing.T) {
	app := fiber.New()
	app.Get("/users/:id", func(c *fiber.Ctx) error {
		id, err := idParam(c, "id")
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"id": id})
	})

	for path, want := range map[string]int{
		"/users/12":  fiber.StatusOK,
		"/users/0":   fiber.StatusBadRequest,
		"/users/-1":  fiber.StatusBadRequest,
		"/users/abc": fiber.StatusBadRequest,
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}
