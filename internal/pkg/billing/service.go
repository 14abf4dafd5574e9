package billing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/miketere/businesscard-sub001/app/models"
	metrics "github.com/miketere/businesscard-sub001/internal/pkg/metrics/counter"
	"github.com/miketere/businesscard-sub001/internal/pkg/userlock"
)

// Service implements the administrative and checkout operations on top of
// the catalog, the store and the payment gateway.
type Service struct {
	repo     Repository
	catalog  *Catalog
	store    *Store
	gateway  Gateway
	validate *validator.Validate
	creates  singleflight.Group
}

func NewService(repo Repository, store *Store, gateway Gateway) *Service {
	return &Service{
		repo:     repo,
		catalog:  NewCatalog(repo),
		store:    store,
		gateway:  gateway,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewServiceFromDB wires a service with an in-process user lock.
func NewServiceFromDB(db *gorm.DB, gateway Gateway) *Service {
	repo := NewRepository(db)
	return NewService(repo, NewStore(repo, userlock.NewLocalLocker()), gateway)
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) Store() *Store { return s.store }

// CreatePlan publishes a plan and returns the stored row. A plan that already
// carries an ExternalPlanID is returned without calling the gateway. The
// external id is persisted before anything else may reference the plan, and
// nothing is persisted when the gateway fails.
func (s *Service) CreatePlan(ctx context.Context, spec PlanSpec) (*models.Plan, error) {
	spec.Name = strings.ToLower(strings.TrimSpace(spec.Name))
	if err := s.validate.Struct(spec); err != nil {
		return nil, validationFromValidator(err)
	}
	interval, err := MapInterval(spec.Interval)
	if err != nil {
		return nil, err
	}
	spec.Interval = interval

	v, err, _ := s.creates.Do(spec.Name, func() (interface{}, error) {
		return s.createPlan(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Plan), nil
}

func (s *Service) createPlan(ctx context.Context, spec PlanSpec) (*models.Plan, error) {
	existing, err := s.repo.GetPlanByName(ctx, spec.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && (existing.HasExternalPlan() || existing.IsFree()) {
		return existing, nil
	}

	var externalID string
	if spec.Price > 0 {
		externalID, err = s.gateway.CreatePlan(ctx, spec)
		metrics.AddGatewayCall("create_plan", err)
		if err != nil {
			log.Errorf("[Billing] Creating plan %q at the processor failed: %v", spec.Name, err)
			return nil, err
		}
	}

	if existing != nil {
		if externalID == "" {
			return existing, nil
		}
		return s.MapExternalPlan(ctx, existing.ID, externalID)
	}

	plan := spec.toPlan(spec.Interval)
	if externalID != "" {
		plan.ExternalPlanID = &externalID
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		// The processor keeps the price; a retry with the same definition
		// receives it again through the idempotency key.
		log.Errorf("[Billing] Plan %q created remotely as %s but not stored: %v", spec.Name, externalID, err)
		return nil, fmt.Errorf("store plan %q: %w", spec.Name, err)
	}
	log.Infof("[Billing] Plan %q created (external id %q)", plan.Name, externalID)
	return plan, nil
}

// MapExternalPlan links an existing plan to a processor plan id. The link is
// write-once: repeating the same id is a no-op, a different id is a conflict.
func (s *Service) MapExternalPlan(ctx context.Context, planID uint, externalPlanID string) (*models.Plan, error) {
	externalPlanID = strings.TrimSpace(externalPlanID)
	if externalPlanID == "" {
		return nil, &ValidationError{Field: "external_plan_id", Message: "is required"}
	}
	plan, err := s.catalog.Resolve(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.HasExternalPlan() {
		if *plan.ExternalPlanID == externalPlanID {
			return plan, nil
		}
		return nil, fmt.Errorf("%w: plan %d is already mapped to %s", ErrStateConflict, planID, *plan.ExternalPlanID)
	}

	written, err := s.repo.SetExternalPlanID(ctx, planID, externalPlanID)
	if err != nil {
		return nil, err
	}
	if !written {
		// Lost the race against another writer.
		return s.resolveMapped(ctx, planID, externalPlanID)
	}
	plan.ExternalPlanID = &externalPlanID
	return plan, nil
}

func (s *Service) resolveMapped(ctx context.Context, planID uint, externalPlanID string) (*models.Plan, error) {
	plan, err := s.catalog.Resolve(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.HasExternalPlan() && *plan.ExternalPlanID == externalPlanID {
		return plan, nil
	}
	return nil, fmt.Errorf("%w: plan %d was mapped concurrently", ErrStateConflict, planID)
}

// StartCheckout opens a processor subscription for a paid plan. The user must
// be on the free tier. A previous unfinished checkout is superseded and its
// remote subscription cancelled, so a late payment for it matches nothing.
func (s *Service) StartCheckout(ctx context.Context, userID, planID uint, email string) (*CheckoutSession, error) {
	plan, err := s.catalog.Resolve(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() || !plan.IsActive {
		return nil, &ValidationError{Field: "plan_id", Message: "plan cannot be purchased"}
	}
	if !plan.HasExternalPlan() {
		return nil, &ValidationError{Field: "plan_id", Message: "plan is not published yet"}
	}

	current, err := s.store.EnsureDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	free, err := s.catalog.FreePlan(ctx)
	if err != nil {
		return nil, err
	}
	if !onFreeTier(current, free.ID) {
		return nil, &StateConflictError{
			UserID: userID,
			From:   current.Status,
			To:     models.SubscriptionStatusActive,
			Reason: "checkout requires the free tier",
		}
	}

	customerID := ""
	if current.ExternalCustomerID != nil {
		customerID = *current.ExternalCustomerID
	}
	intent, err := s.gateway.CreateSubscriptionIntent(ctx, IntentRequest{
		UserID:             userID,
		PlanID:             plan.ID,
		ExternalPlanID:     *plan.ExternalPlanID,
		ExternalCustomerID: customerID,
		CustomerEmail:      email,
		IdempotencyKey:     uuid.NewString(),
	})
	metrics.AddGatewayCall("create_subscription_intent", err)
	if err != nil {
		return nil, err
	}

	var superseded string
	_, err = s.store.Update(ctx, userID, func(sub *models.Subscription) (string, error) {
		if sub.Version != current.Version || !onFreeTier(sub, free.ID) {
			return "", &StateConflictError{UserID: userID, From: sub.Status, To: models.SubscriptionStatusActive, Reason: "subscription changed during checkout"}
		}
		if sub.ExternalSubscriptionID != nil {
			superseded = *sub.ExternalSubscriptionID
		}
		sub.ExternalCustomerID = stringPtr(intent.ExternalCustomerID)
		sub.ExternalSubscriptionID = stringPtr(intent.ExternalSubscriptionID)
		sub.ExternalPaymentIntentID = stringPtr(intent.ExternalPaymentIntentID)
		sub.PendingPlanID = &plan.ID
		sub.CurrentPeriodStart = intent.PeriodStart
		sub.CurrentPeriodEnd = intent.PeriodEnd
		return models.AuditActionCheckout, nil
	})
	if err != nil {
		s.cancelRemote(ctx, intent.ExternalSubscriptionID, "abandoned checkout")
		return nil, err
	}
	if superseded != "" && superseded != intent.ExternalSubscriptionID {
		s.cancelRemote(ctx, superseded, "superseded checkout")
	}

	return &CheckoutSession{
		PlanID:                  plan.ID,
		ExternalSubscriptionID:  intent.ExternalSubscriptionID,
		ExternalPaymentIntentID: intent.ExternalPaymentIntentID,
		ClientSecret:            intent.ClientSecret,
	}, nil
}

// onFreeTier reports whether sub may start a checkout: the implicit free row,
// or an active row on the free plan as left behind by an admin reset.
func onFreeTier(sub *models.Subscription, freePlanID uint) bool {
	switch sub.Status {
	case models.SubscriptionStatusFree:
		return true
	case models.SubscriptionStatusActive:
		return sub.PlanID == freePlanID && !sub.CancelAtPeriodEnd
	}
	return false
}

// Cancel ends the user's paid subscription, immediately or at the end of the
// current period. The local transition always happens; the remote cancel is
// best effort and retried by the reconciliation loop while pending.
func (s *Service) Cancel(ctx context.Context, userID uint, atPeriodEnd bool) (*models.Subscription, error) {
	var externalID string
	sub, err := s.store.Update(ctx, userID, func(sub *models.Subscription) (string, error) {
		switch sub.Status {
		case models.SubscriptionStatusCancelled:
			return "", nil
		case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		default:
			return "", &StateConflictError{UserID: userID, From: sub.Status, To: models.SubscriptionStatusCancelled}
		}
		now := s.store.Now()
		sub.Status = models.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		sub.CancelAtPeriodEnd = atPeriodEnd && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now)
		if sub.CancelAtPeriodEnd {
			sub.ExpiresAt = sub.CurrentPeriodEnd
		} else {
			sub.ExpiresAt = &now
		}
		if sub.ExternalSubscriptionID != nil {
			externalID = *sub.ExternalSubscriptionID
			sub.RemoteCancelPending = true
		}
		return models.AuditActionTransition, nil
	})
	if err != nil {
		return nil, err
	}
	if externalID == "" {
		return sub, nil
	}

	err = s.gateway.Cancel(ctx, externalID, sub.CancelAtPeriodEnd)
	metrics.AddGatewayCall("cancel", err)
	if err != nil {
		log.Warnf("[Billing] Remote cancel of %s failed, will retry: %v", externalID, err)
		return sub, nil
	}
	if err := s.store.ClearRemoteCancelPending(ctx, sub.ID); err != nil {
		log.Warnf("[Billing] Could not clear remote cancel flag of subscription %d: %v", sub.ID, err)
		return sub, nil
	}
	sub.RemoteCancelPending = false
	return sub, nil
}

// RetryRemoteCancels re-sends cancellations the processor has not confirmed.
func (s *Service) RetryRemoteCancels(ctx context.Context, limit int) (int, error) {
	subs, err := s.store.ListRemoteCancelPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range subs {
		sub := &subs[i]
		if sub.ExternalSubscriptionID == nil {
			continue
		}
		err := s.gateway.Cancel(ctx, *sub.ExternalSubscriptionID, sub.CancelAtPeriodEnd)
		metrics.AddGatewayCall("cancel", err)
		if err != nil {
			log.Warnf("[Billing] Remote cancel retry of %s failed: %v", *sub.ExternalSubscriptionID, err)
			continue
		}
		if err := s.store.ClearRemoteCancelPending(ctx, sub.ID); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// GrantPlan puts a user on a plan without payment (support, promotions) or
// switches an active subscription to another plan. Downgrades never touch
// existing cards or contacts. A grant with a period end on a processor-backed
// subscription also stops the processor from renewing it.
func (s *Service) GrantPlan(ctx context.Context, userID, planID uint, periodEnd *time.Time, actor string) (*models.Subscription, error) {
	plan, err := s.catalog.Resolve(ctx, planID)
	if err != nil {
		return nil, err
	}
	var externalID string
	sub, err := s.store.UpdateOrCreate(ctx, userID, func(sub *models.Subscription) (string, error) {
		switch sub.Status {
		case models.SubscriptionStatusFree:
			sub.Status = models.SubscriptionStatusActive
		case models.SubscriptionStatusActive:
			if sub.PlanID == plan.ID {
				return "", nil
			}
		default:
			return "", &StateConflictError{UserID: userID, From: sub.Status, To: models.SubscriptionStatusActive, Reason: "plan grant needs a free or active subscription"}
		}
		log.Infof("[Billing] %s grants plan %q to user %d", actor, plan.Name, userID)
		sub.PlanID = plan.ID
		sub.PendingPlanID = nil
		if periodEnd != nil {
			now := s.store.Now()
			sub.CurrentPeriodStart = &now
			sub.CurrentPeriodEnd = periodEnd
			sub.CancelAtPeriodEnd = true
			if sub.ExternalSubscriptionID != nil {
				externalID = *sub.ExternalSubscriptionID
				sub.RemoteCancelPending = true
			}
		}
		return models.AuditActionPlanChange, nil
	})
	if err != nil || externalID == "" {
		return sub, err
	}

	err = s.gateway.Cancel(ctx, externalID, true)
	metrics.AddGatewayCall("cancel", err)
	if err != nil {
		log.Warnf("[Billing] Remote cancel of %s after grant failed, will retry: %v", externalID, err)
		return sub, nil
	}
	if err := s.store.ClearRemoteCancelPending(ctx, sub.ID); err != nil {
		log.Warnf("[Billing] Could not clear remote cancel flag of subscription %d: %v", sub.ID, err)
		return sub, nil
	}
	sub.RemoteCancelPending = false
	return sub, nil
}

// ResetToFree puts the user back on the free plan regardless of state. Any
// remote subscription is cancelled best effort after the local reset.
func (s *Service) ResetToFree(ctx context.Context, userID uint, actor, reason string) (*models.Subscription, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Message: "is required"}
	}
	sub, previousExternalID, err := s.store.ResetToFree(ctx, userID, actor, reason)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] User %d reset to free by %s: %s", userID, actor, reason)
	if previousExternalID != "" {
		s.cancelRemote(ctx, previousExternalID, "admin reset")
	}
	return sub, nil
}

// ListInvoices returns the user's most recent invoices.
func (s *Service) ListInvoices(ctx context.Context, userID uint, limit int) ([]models.Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListInvoices(ctx, userID, limit)
}

func (s *Service) cancelRemote(ctx context.Context, externalID, why string) {
	err := s.gateway.Cancel(ctx, externalID, false)
	metrics.AddGatewayCall("cancel", err)
	if err != nil {
		log.Warnf("[Billing] Cancelling remote subscription %s (%s) failed: %v", externalID, why, err)
	}
}

func validationFromValidator(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed on '%s'", fe.Tag()),
			Err:     err,
		}
	}
	return &ValidationError{Message: err.Error(), Err: err}
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
