package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketere/businesscard-sub001/app/repository"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing/billingtest"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	"github.com/miketere/businesscard-sub001/internal/pkg/jobqueue"
	"github.com/miketere/businesscard-sub001/internal/pkg/middleware"
	"github.com/miketere/businesscard-sub001/internal/pkg/security"
)

const (
	jwtSecret = "router-test-secret"
	adminKey  = "router-admin-key"
	validSig  = "valid"
)

// jsonVerifier accepts payloads signed with validSig and decodes them as
// billing.Event.
type jsonVerifier struct{}

func (jsonVerifier) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	if signature != validSig {
		return nil, fmt.Errorf("%w: bad signature", billing.ErrUnverifiedEvent)
	}
	return jsonVerifier{}.DecodeEvent(payload)
}

func (jsonVerifier) DecodeEvent(payload []byte) (*billing.Event, error) {
	var evt billing.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &billing.ValidationError{Field: "payload", Message: "invalid event", Err: err}
	}
	return &evt, nil
}

type testServer struct {
	app *fiber.App
	gw  *billingtest.Gateway
	svc *billing.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := billingtest.NewDB(t)
	gw := billingtest.NewGateway()
	svc := billing.NewServiceFromDB(db, gw)
	repos := repository.NewRepositories(db)
	rec := jobqueue.NewReconciler(billing.NewRepository(db), svc, jsonVerifier{}, jobqueue.Options{})

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Billing:   svc,
		Evaluator: entitlements.NewEvaluator(svc.Store(), svc.Catalog(), repos.Usage),
		Webhooks:  rec,
		Sweeper:   jobqueue.NewManager(rec, jobqueue.Schedule{}),
		JWTSecret: jwtSecret,
		AdminKey:  adminKey,
		RateLimit: RateLimit{Max: 1000},
	})
	return &testServer{app: app, gw: gw, svc: svc}
}

type call struct {
	method string
	path   string
	body   any
	user   uint
	admin  bool
	header map[string]string
}

func (s *testServer) do(t *testing.T, c call) (int, []byte) {
	t.Helper()
	var body io.Reader
	switch b := c.body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.user != 0 {
		token, err := security.GenerateAccessToken(c.user, "", time.Minute, jwtSecret)
		require.NoError(t, err)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if c.admin {
		req.Header.Set(middleware.AdminAPIKeyHeader, adminKey)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (s *testServer) json(t *testing.T, c call, wantStatus int) map[string]any {
	t.Helper()
	status, raw := s.do(t, c)
	require.Equal(t, wantStatus, status, string(raw))
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestRoutes_RequireIdentity(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/entitlements/cards"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = s.do(t, call{method: http.MethodPost, path: "/admin/billing/sweep"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = s.do(t, call{method: http.MethodPost, path: "/admin/billing/sweep", user: 1})
	assert.Equal(t, fiber.StatusUnauthorized, status, "a user token is not an admin key")

	status, _ = s.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, fiber.StatusOK, status)

	status, raw := s.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestRoutes_FreeUser(t *testing.T) {
	s := newTestServer(t)

	status, raw := s.do(t, call{method: http.MethodGet, path: "/api/v1/billing/subscription", user: 5})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "null", string(raw))

	card := s.json(t, call{method: http.MethodGet, path: "/api/v1/entitlements/cards", user: 5}, fiber.StatusOK)
	assert.Equal(t, true, card["allowed"])
	assert.Equal(t, float64(1), card["limit"])

	tier := s.json(t, call{method: http.MethodGet, path: "/api/v1/entitlements/tier", user: 5}, fiber.StatusOK)
	assert.Equal(t, float64(0), tier["tier_rank"])

	feature := s.json(t, call{method: http.MethodGet, path: "/api/v1/entitlements/features/analytics", user: 5}, fiber.StatusOK)
	assert.Equal(t, false, feature["enabled"])

	bad := s.json(t, call{method: http.MethodGet, path: "/api/v1/entitlements/features/teleport", user: 5}, fiber.StatusBadRequest)
	assert.Equal(t, "validation_failed", bad["error"])

	plans := s.json(t, call{method: http.MethodGet, path: "/api/v1/billing/plans", user: 5}, fiber.StatusOK)
	assert.Len(t, plans["plans"], 3)

	missing := s.json(t, call{method: http.MethodPost, path: "/api/v1/billing/cancel", user: 5}, fiber.StatusNotFound)
	assert.Equal(t, "not_found", missing["error"])

	_, err := s.svc.Store().EnsureDefault(t.Context(), 5)
	require.NoError(t, err)
	conflict := s.json(t, call{method: http.MethodPost, path: "/api/v1/billing/cancel", user: 5}, fiber.StatusConflict)
	assert.Equal(t, "state_conflict", conflict["error"])
}

func TestRoutes_CheckoutWebhookCancel(t *testing.T) {
	s := newTestServer(t)
	basic, err := s.svc.Catalog().ResolveByName(t.Context(), "basic")
	require.NoError(t, err)

	unpublished := s.json(t, call{method: http.MethodPost, path: "/api/v1/billing/checkout", user: 9,
		body: map[string]any{"plan_id": basic.ID}}, fiber.StatusBadRequest)
	assert.Equal(t, "plan_id", unpublished["field"])

	mapped := s.json(t, call{method: http.MethodPut, path: fmt.Sprintf("/admin/billing/plans/%d/external", basic.ID), admin: true,
		body: map[string]any{"external_plan_id": "price_basic"}}, fiber.StatusOK)
	assert.Equal(t, "price_basic", mapped["external_plan_id"])

	session := s.json(t, call{method: http.MethodPost, path: "/api/v1/billing/checkout", user: 9,
		body: map[string]any{"plan_id": basic.ID, "email": "nine@example.com"}}, fiber.StatusCreated)
	externalSub, _ := session["external_subscription_id"].(string)
	require.NotEmpty(t, externalSub)

	end := time.Now().UTC().Add(31 * 24 * time.Hour).Truncate(time.Second)
	payload, err := json.Marshal(billing.Event{
		ID:                     "evt_paid",
		Type:                   "invoice.paid",
		Kind:                   billing.EventPaymentSucceeded,
		ExternalSubscriptionID: externalSub,
		ExternalInvoiceID:      "in_1",
		Amount:                 499,
		Currency:               "eur",
		PeriodEnd:              &end,
	})
	require.NoError(t, err)

	hook := call{method: http.MethodPost, path: "/webhooks/stripe", body: payload, header: map[string]string{"Stripe-Signature": validSig}}
	first := s.json(t, hook, fiber.StatusOK)
	assert.Equal(t, string(jobqueue.OutcomeApplied), first["outcome"])
	replay := s.json(t, hook, fiber.StatusOK)
	assert.Equal(t, string(jobqueue.OutcomeDuplicate), replay["outcome"])

	forged := call{method: http.MethodPost, path: "/webhooks/stripe", body: payload, header: map[string]string{"Stripe-Signature": "forged"}}
	rejected := s.json(t, forged, fiber.StatusBadRequest)
	assert.Equal(t, "unverified_event", rejected["error"])

	sub := s.json(t, call{method: http.MethodGet, path: "/api/v1/billing/subscription", user: 9}, fiber.StatusOK)
	assert.Equal(t, "active", sub["status"])
	assert.Equal(t, float64(basic.ID), sub["plan_id"])

	tier := s.json(t, call{method: http.MethodGet, path: "/api/v1/entitlements/tier", user: 9}, fiber.StatusOK)
	assert.Equal(t, float64(basic.TierRank), tier["tier_rank"])

	invoices := s.json(t, call{method: http.MethodGet, path: "/api/v1/billing/invoices", user: 9}, fiber.StatusOK)
	require.Len(t, invoices["invoices"], 1)
	inv := invoices["invoices"].([]any)[0].(map[string]any)
	assert.Equal(t, "EUR", inv["currency"])
	assert.Equal(t, "paid", inv["status"])

	cancelled := s.json(t, call{method: http.MethodPost, path: "/api/v1/billing/cancel", user: 9,
		body: map[string]any{"at_period_end": true}}, fiber.StatusOK)
	assert.Equal(t, "cancelled", cancelled["status"])
	assert.Equal(t, true, cancelled["cancel_at_period_end"])
	_, _, cancels := s.gw.Calls()
	assert.Equal(t, 1, cancels)

	// Still entitled until the period ends.
	feature := s.json(t, call{method: http.MethodGet, path: "/api/v1/entitlements/features/analytics", user: 9}, fiber.StatusOK)
	assert.Equal(t, true, feature["enabled"])
}

func TestRoutes_Admin(t *testing.T) {
	s := newTestServer(t)
	pro, err := s.svc.Catalog().ResolveByName(t.Context(), "pro")
	require.NoError(t, err)

	created := s.json(t, call{method: http.MethodPost, path: "/admin/billing/plans", admin: true, body: map[string]any{
		"name": "team", "display_name": "Team", "price": 2500, "currency": "eur", "interval": "Annual",
		"max_cards": 50, "max_contacts": 10000, "tier_rank": 3,
	}}, fiber.StatusCreated)
	assert.Equal(t, "yearly", created["interval"])
	assert.Equal(t, "EUR", created["currency"])
	assert.Equal(t, "price_1", created["external_plan_id"])

	invalid := s.json(t, call{method: http.MethodPost, path: "/admin/billing/plans", admin: true, body: map[string]any{
		"name": "weekly", "display_name": "Weekly", "price": 100, "currency": "EUR", "interval": "weekly",
	}}, fiber.StatusBadRequest)
	assert.Equal(t, "validation_failed", invalid["error"])

	s.gw.CreatePlanErr = &billing.GatewayError{Op: "create_plan", Err: fmt.Errorf("stripe down")}
	down := s.json(t, call{method: http.MethodPost, path: "/admin/billing/plans", admin: true, body: map[string]any{
		"name": "agency", "display_name": "Agency", "price": 9900, "currency": "EUR", "interval": "monthly",
	}}, fiber.StatusBadGateway)
	assert.Equal(t, "gateway_error", down["error"])

	granted := s.json(t, call{method: http.MethodPost, path: "/admin/billing/users/12/grant", admin: true,
		body: map[string]any{"plan_id": pro.ID, "actor": "support@example.com"}}, fiber.StatusOK)
	assert.Equal(t, "active", granted["status"])
	assert.Equal(t, float64(pro.ID), granted["plan_id"])

	missingActor := s.json(t, call{method: http.MethodPost, path: "/admin/billing/users/12/reset", admin: true,
		body: map[string]any{"reason": "chargeback"}}, fiber.StatusBadRequest)
	assert.Equal(t, "Actor", missingActor["field"])

	reset := s.json(t, call{method: http.MethodPost, path: "/admin/billing/users/12/reset", admin: true,
		body: map[string]any{"actor": "support@example.com", "reason": "chargeback"}}, fiber.StatusOK)
	assert.Equal(t, "free", reset["status"])

	badID := s.json(t, call{method: http.MethodPost, path: "/admin/billing/users/abc/reset", admin: true,
		body: map[string]any{"actor": "x"}}, fiber.StatusBadRequest)
	assert.Equal(t, "id", badID["field"])

	missingPlan := s.json(t, call{method: http.MethodPut, path: "/admin/billing/plans/999/external", admin: true,
		body: map[string]any{"external_plan_id": "price_x"}}, fiber.StatusNotFound)
	assert.Equal(t, "not_found", missingPlan["error"])

	swept := s.json(t, call{method: http.MethodPost, path: "/admin/billing/sweep", admin: true}, fiber.StatusOK)
	assert.Equal(t, float64(0), swept["expired"])
}
