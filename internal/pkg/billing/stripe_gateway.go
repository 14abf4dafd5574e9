package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BackendURL overrides the API endpoint (stripe-mock, tests).
	BackendURL string
	Timeout    time.Duration
	Retry      RetryPolicy
}

// StripeGateway implements Gateway and WebhookVerifier on top of stripe-go.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	retry         RetryPolicy
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// Retries are driven by withRetry so that every attempt is bounded.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	retry := cfg.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		retry:         retry,
	}
}

// CreatePlan publishes a recurring price with inline product data and returns
// the price id. The idempotency key is derived from the plan definition so a
// retry after a lost response yields the same price.
func (g *StripeGateway) CreatePlan(ctx context.Context, spec PlanSpec) (string, error) {
	interval, err := MapInterval(spec.Interval)
	if err != nil {
		return "", err
	}

	var priceID string
	err = withRetry(ctx, g.retry, "create_plan", func(ctx context.Context) error {
		params := &stripe.PriceParams{
			Currency:   stripe.String(strings.ToLower(spec.Currency)),
			UnitAmount: stripe.Int64(spec.Price),
			Recurring: &stripe.PriceRecurringParams{
				Interval: stripe.String(providerInterval(interval)),
			},
			ProductData: &stripe.PriceProductDataParams{
				Name: stripe.String(spec.DisplayName),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey(planIdempotencyKey(spec, interval))
		params.AddMetadata("plan_name", spec.Name)

		price, err := g.api.Prices.New(params)
		if err != nil {
			return classifyStripeError("create_plan", err)
		}
		priceID = price.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Infof("[Billing] Stripe price %s created for plan %q", priceID, spec.Name)
	return priceID, nil
}

// CreateSubscriptionIntent creates the customer on first use and an incomplete
// subscription whose first invoice carries the payment intent to confirm.
func (g *StripeGateway) CreateSubscriptionIntent(ctx context.Context, req IntentRequest) (*SubscriptionIntent, error) {
	if req.ExternalPlanID == "" {
		return nil, &ValidationError{Field: "external_plan_id", Message: "plan is not published"}
	}
	userID := strconv.FormatUint(uint64(req.UserID), 10)

	customerID := req.ExternalCustomerID
	if customerID == "" {
		err := withRetry(ctx, g.retry, "create_customer", func(ctx context.Context) error {
			params := &stripe.CustomerParams{}
			if req.CustomerEmail != "" {
				params.Email = stripe.String(req.CustomerEmail)
			}
			params.Context = ctx
			params.SetIdempotencyKey("customer-" + userID + "-" + req.IdempotencyKey)
			params.AddMetadata("user_id", userID)

			cust, err := g.api.Customers.New(params)
			if err != nil {
				return classifyStripeError("create_customer", err)
			}
			customerID = cust.ID
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	intent := &SubscriptionIntent{ExternalCustomerID: customerID}
	err := withRetry(ctx, g.retry, "create_subscription", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(req.ExternalPlanID)},
			},
			PaymentBehavior: stripe.String("default_incomplete"),
		}
		params.Context = ctx
		params.SetIdempotencyKey("subscription-" + userID + "-" + req.IdempotencyKey)
		params.AddExpand("latest_invoice.payment_intent")
		params.AddMetadata("user_id", userID)
		params.AddMetadata("plan_id", strconv.FormatUint(uint64(req.PlanID), 10))

		sub, err := g.api.Subscriptions.New(params)
		if err != nil {
			return classifyStripeError("create_subscription", err)
		}
		intent.ExternalSubscriptionID = sub.ID
		intent.PeriodStart = unixTime(sub.CurrentPeriodStart)
		intent.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
		if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
			intent.ExternalPaymentIntentID = sub.LatestInvoice.PaymentIntent.ID
			intent.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// Cancel stops the remote subscription now or flags it to end with the
// current period. A subscription Stripe no longer knows counts as cancelled.
func (g *StripeGateway) Cancel(ctx context.Context, externalSubscriptionID string, atPeriodEnd bool) error {
	if externalSubscriptionID == "" {
		return nil
	}
	return withRetry(ctx, g.retry, "cancel_subscription", func(ctx context.Context) error {
		var err error
		if atPeriodEnd {
			params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
			params.Context = ctx
			_, err = g.api.Subscriptions.Update(externalSubscriptionID, params)
		} else {
			params := &stripe.SubscriptionCancelParams{}
			params.Context = ctx
			_, err = g.api.Subscriptions.Cancel(externalSubscriptionID, params)
		}
		if err == nil {
			return nil
		}
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			log.Warnf("[Billing] Stripe subscription %s not found while cancelling, treating as cancelled", externalSubscriptionID)
			return nil
		}
		return classifyStripeError("cancel_subscription", err)
	})
}

// classifyStripeError marks rate limits, server errors and transport failures
// as retryable; request errors are permanent.
func classifyStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		retryable := serr.HTTPStatusCode == http.StatusTooManyRequests ||
			serr.HTTPStatusCode >= http.StatusInternalServerError ||
			serr.Type == stripe.ErrorTypeAPI
		return &GatewayError{Op: op, Retryable: retryable, Err: err}
	}
	return &GatewayError{Op: op, Retryable: true, Err: err}
}

func planIdempotencyKey(spec PlanSpec, interval string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s",
		spec.Name, spec.Price, strings.ToLower(spec.Currency), interval)))
	return "plan-" + hex.EncodeToString(sum[:16])
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
