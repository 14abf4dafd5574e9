package billing

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Gateway is the payment processor as seen by the billing core.
type Gateway interface {
	CreatePlan(ctx context.Context, spec PlanSpec) (string, error)
	CreateSubscriptionIntent(ctx context.Context, req IntentRequest) (*SubscriptionIntent, error)
	Cancel(ctx context.Context, externalSubscriptionID string, atPeriodEnd bool) error
}

// WebhookVerifier authenticates and normalizes processor webhooks.
// DecodeEvent reads a payload that was verified when it was received, for
// replays from the webhook log.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
	DecodeEvent(payload []byte) (*Event, error)
}

// RetryPolicy bounds retries of transient gateway failures.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// CallTimeout applies to each attempt.
	CallTimeout time.Duration
}

// DefaultRetryPolicy retries twice with a short backoff and gives each call 10s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      2,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	CallTimeout:     10 * time.Second,
}

// withRetry runs fn until it succeeds, fails permanently or the policy is
// exhausted. Errors that are not already a *GatewayError are wrapped.
func withRetry(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := func() error {
		callCtx := ctx
		if policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		var gerr *GatewayError
		if errors.As(err, &gerr) && !gerr.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, policy.MaxRetries), ctx))
	if err == nil {
		return nil
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return err
	}
	return &GatewayError{Op: op, Retryable: true, Err: err}
}
