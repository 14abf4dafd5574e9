package counter

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("active", "past_due"))
	AddTransition("active", "past_due")
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("active", "past_due")))

	okBefore := testutil.ToFloat64(gatewayCalls.WithLabelValues("cancel", "ok"))
	errBefore := testutil.ToFloat64(gatewayCalls.WithLabelValues("cancel", "error"))
	AddGatewayCall("cancel", nil)
	AddGatewayCall("cancel", errors.New("boom"))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(gatewayCalls.WithLabelValues("cancel", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(gatewayCalls.WithLabelValues("cancel", "error")))

	sweepBefore := testutil.ToFloat64(sweepExpired)
	AddSweepExpired(3)
	assert.Equal(t, sweepBefore+3, testutil.ToFloat64(sweepExpired))
}

func TestHandlerServesRegistry(t *testing.T) {
	AddQuotaDenial("card")

	app := fiber.New()
	app.Get("/metrics", Handler())
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `cardfox_quota_denials_total{resource="card"}`))
}
