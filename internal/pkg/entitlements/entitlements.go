// Package entitlements answers what a user may do under their current plan.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miketere/businesscard-sub001/app/models"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	metrics "github.com/miketere/businesscard-sub001/internal/pkg/metrics/counter"
)

type ResourceKind string

const (
	ResourceCard    ResourceKind = "card"
	ResourceContact ResourceKind = "contact"
)

type Feature string

const (
	FeatureAnalytics      Feature = "analytics"
	FeatureIntegrations   Feature = "integrations"
	FeatureCustomBranding Feature = "custom_branding"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// ParseResourceKind validates a resource name from user input.
func ParseResourceKind(raw string) (ResourceKind, error) {
	switch k := ResourceKind(raw); k {
	case ResourceCard, ResourceContact:
		return k, nil
	}
	return "", &billing.ValidationError{Field: "resource", Message: fmt.Sprintf("unknown resource %q", raw)}
}

// ParseFeature validates a feature name from user input.
func ParseFeature(raw string) (Feature, error) {
	switch f := Feature(raw); f {
	case FeatureAnalytics, FeatureIntegrations, FeatureCustomBranding:
		return f, nil
	}
	return "", &billing.ValidationError{Field: "feature", Message: fmt.Sprintf("unknown feature %q", raw)}
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   int    `json:"limit"`
	Current int64  `json:"current"`
}

// Err converts a denial into a *QuotaExceededError.
func (d Decision) Err(kind ResourceKind) error {
	if d.Allowed {
		return nil
	}
	return &QuotaExceededError{Resource: kind, Current: d.Current, Limit: d.Limit}
}

// QuotaExceededError matches ErrQuotaExceeded.
type QuotaExceededError struct {
	Resource ResourceKind
	Current  int64
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d of %d used", denyReason(e.Resource), e.Current, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// SubscriptionSource returns the user's subscription, or nil for users that never had one.
type SubscriptionSource interface {
	Current(ctx context.Context, userID uint) (*models.Subscription, error)
}

type PlanSource interface {
	Resolve(ctx context.Context, planID uint) (*models.Plan, error)
	FreePlan(ctx context.Context) (*models.Plan, error)
}

// ResourceCounter counts the live resources a user owns.
type ResourceCounter interface {
	Count(ctx context.Context, userID uint, kind ResourceKind) (int64, error)
}

// Evaluator resolves the plan on every call; nothing is cached between calls.
type Evaluator struct {
	subs    SubscriptionSource
	plans   PlanSource
	counter ResourceCounter
	now     func() time.Time
}

func NewEvaluator(subs SubscriptionSource, plans PlanSource, counter ResourceCounter) *Evaluator {
	return &Evaluator{
		subs:    subs,
		plans:   plans,
		counter: counter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EffectivePlan returns the plan whose limits apply to the user right now.
// Users without a row, on the free tier or with a lapsed subscription get the
// free plan.
func (e *Evaluator) EffectivePlan(ctx context.Context, userID uint) (*models.Plan, error) {
	sub, err := e.subs.Current(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription of user %d: %w", userID, err)
	}
	if billing.IsEntitling(sub, e.now()) {
		return e.plans.Resolve(ctx, sub.PlanID)
	}
	return e.plans.FreePlan(ctx)
}

// CheckQuota decides whether one more resource of kind fits into the plan,
// given the number the user already has.
func (e *Evaluator) CheckQuota(ctx context.Context, userID uint, kind ResourceKind, current int64) (Decision, error) {
	plan, err := e.EffectivePlan(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	limit, err := planLimit(plan, kind)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: current < int64(limit), Limit: limit, Current: current}
	if !d.Allowed {
		d.Reason = denyReason(kind)
		metrics.AddQuotaDenial(string(kind))
	}
	return d, nil
}

func (e *Evaluator) CanCreateCard(ctx context.Context, userID uint) (Decision, error) {
	return e.CanCreate(ctx, userID, ResourceCard)
}

func (e *Evaluator) CanCreateContact(ctx context.Context, userID uint) (Decision, error) {
	return e.CanCreate(ctx, userID, ResourceContact)
}

// CanCreate counts the user's resources of kind and runs CheckQuota.
func (e *Evaluator) CanCreate(ctx context.Context, userID uint, kind ResourceKind) (Decision, error) {
	current, err := e.counter.Count(ctx, userID, kind)
	if err != nil {
		return Decision{}, fmt.Errorf("count %ss of user %d: %w", kind, userID, err)
	}
	return e.CheckQuota(ctx, userID, kind, current)
}

func (e *Evaluator) HasFeature(ctx context.Context, userID uint, feature Feature) (bool, error) {
	plan, err := e.EffectivePlan(ctx, userID)
	if err != nil {
		return false, err
	}
	switch feature {
	case FeatureAnalytics:
		return plan.FeatureAnalytics, nil
	case FeatureIntegrations:
		return plan.FeatureIntegrations, nil
	case FeatureCustomBranding:
		return plan.FeatureCustomBranding, nil
	}
	return false, &billing.ValidationError{Field: "feature", Message: fmt.Sprintf("unknown feature %q", feature)}
}

// PlanTier returns the rank of the effective plan. Callers decide what the
// rank unlocks.
func (e *Evaluator) PlanTier(ctx context.Context, userID uint) (int, error) {
	plan, err := e.EffectivePlan(ctx, userID)
	if err != nil {
		return 0, err
	}
	return plan.TierRank, nil
}

// ResourceUsage reports one resource against its limit. OverQuota is set when
// a downgrade left the user above the new limit; existing resources are kept.
type ResourceUsage struct {
	Current   int64 `json:"current"`
	Limit     int   `json:"limit"`
	OverQuota bool  `json:"over_quota"`
}

type Usage struct {
	PlanID   uint          `json:"plan_id"`
	PlanName string        `json:"plan_name"`
	TierRank int           `json:"tier_rank"`
	Cards    ResourceUsage `json:"cards"`
	Contacts ResourceUsage `json:"contacts"`
}

func (e *Evaluator) Usage(ctx context.Context, userID uint) (*Usage, error) {
	plan, err := e.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	u := &Usage{PlanID: plan.ID, PlanName: plan.Name, TierRank: plan.TierRank}
	for _, r := range []struct {
		kind ResourceKind
		dst  *ResourceUsage
	}{
		{ResourceCard, &u.Cards},
		{ResourceContact, &u.Contacts},
	} {
		current, err := e.counter.Count(ctx, userID, r.kind)
		if err != nil {
			return nil, fmt.Errorf("count %ss of user %d: %w", r.kind, userID, err)
		}
		limit, _ := planLimit(plan, r.kind)
		*r.dst = ResourceUsage{Current: current, Limit: limit, OverQuota: current > int64(limit)}
	}
	return u, nil
}

func planLimit(plan *models.Plan, kind ResourceKind) (int, error) {
	switch kind {
	case ResourceCard:
		return plan.MaxCards, nil
	case ResourceContact:
		return plan.MaxContacts, nil
	}
	return 0, &billing.ValidationError{Field: "resource", Message: fmt.Sprintf("unknown resource %q", kind)}
}

func denyReason(kind ResourceKind) string {
	switch kind {
	case ResourceCard:
		return "Card limit reached"
	case ResourceContact:
		return "Contact limit reached"
	}
	return "Limit reached"
}
