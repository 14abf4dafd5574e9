package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/miketere/businesscard-sub001/app/models"
	"github.com/miketere/businesscard-sub001/internal/pkg/database"
)

// Repository provides DB operations used by the billing core. Lookups return
// ErrNotFound instead of gorm.ErrRecordNotFound.
type Repository interface {
	GetPlan(ctx context.Context, id uint) (*models.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	CreatePlan(ctx context.Context, plan *models.Plan) error
	SetExternalPlanID(ctx context.Context, planID uint, externalPlanID string) (bool, error)

	GetSubscriptionByUser(ctx context.Context, userID uint, forUpdate bool) (*models.Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (*models.Subscription, error)
	FindSubscriptionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription, expectedVersion uint) error
	ClearRemoteCancelPending(ctx context.Context, subscriptionID uint) error
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListRemoteCancelPending(ctx context.Context, limit int) ([]models.Subscription, error)

	AppendAudit(ctx context.Context, entry *models.SubscriptionAudit) error
	AppendInvoice(ctx context.Context, inv *models.Invoice) (bool, error)
	ListInvoices(ctx context.Context, userID uint, limit int) ([]models.Invoice, error)

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	MarkWebhookFailed(ctx context.Context, id uint, processingError string) error
	ListRetryableWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error)

	// Transaction runs fn with a repository bound to a single transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}

var errConcurrentUpdate = errors.New("subscription was modified concurrently")

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func (r *gormRepository) GetPlan(ctx context.Context, id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("plan %d", id))
	}
	return &p, nil
}

func (r *gormRepository) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("plan %q", name))
	}
	return &p, nil
}

func (r *gormRepository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("tier_rank ASC, id ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

// SetExternalPlanID writes the external id only if none is set yet.
func (r *gormRepository) SetExternalPlanID(ctx context.Context, planID uint, externalPlanID string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Plan{}).
		Where("id = ? AND (external_plan_id IS NULL OR external_plan_id = '')", planID).
		Update("external_plan_id", externalPlanID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetSubscriptionByUser(ctx context.Context, userID uint, forUpdate bool) (*models.Subscription, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if forUpdate && !database.IsSQLite(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub models.Subscription
	if err := q.First(&sub).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("subscription of user %d", userID))
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("external_subscription_id = ?", externalSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, notFound(err, "subscription "+externalSubscriptionID)
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("external_payment_intent_id = ?", paymentIntentID).First(&sub).Error
	if err != nil {
		return nil, notFound(err, "payment intent "+paymentIntentID)
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// UpdateSubscription writes every mutable column if the stored version still
// equals expectedVersion.
func (r *gormRepository) UpdateSubscription(ctx context.Context, sub *models.Subscription, expectedVersion uint) error {
	updates := map[string]interface{}{
		"plan_id":                    sub.PlanID,
		"status":                     sub.Status,
		"external_customer_id":       sub.ExternalCustomerID,
		"external_subscription_id":   sub.ExternalSubscriptionID,
		"external_payment_intent_id": sub.ExternalPaymentIntentID,
		"pending_plan_id":            sub.PendingPlanID,
		"current_period_start":       sub.CurrentPeriodStart,
		"current_period_end":         sub.CurrentPeriodEnd,
		"expires_at":                 sub.ExpiresAt,
		"cancel_at_period_end":       sub.CancelAtPeriodEnd,
		"cancelled_at":               sub.CancelledAt,
		"remote_cancel_pending":      sub.RemoteCancelPending,
		"version":                    sub.Version,
		"updated_at":                 time.Now().UTC(),
	}
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expectedVersion).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errConcurrentUpdate
	}
	return nil
}

func (r *gormRepository) ClearRemoteCancelPending(ctx context.Context, subscriptionID uint) error {
	return r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Update("remote_cancel_pending", false).Error
}

// ListExpirable returns subscriptions whose entitlement window has closed:
// cancelled or past_due rows past their expiry, and active rows flagged to
// cancel at a period end that has passed.
func (r *gormRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("(status IN ? AND COALESCE(expires_at, current_period_end) <= ?) OR (status = ? AND cancel_at_period_end = ? AND current_period_end <= ?)",
			[]string{models.SubscriptionStatusCancelled, models.SubscriptionStatusPastDue}, now,
			models.SubscriptionStatusActive, true, now).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListRemoteCancelPending(ctx context.Context, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("remote_cancel_pending = ? AND external_subscription_id IS NOT NULL", true).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) AppendAudit(ctx context.Context, entry *models.SubscriptionAudit) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// AppendInvoice inserts the invoice unless its external reference is known.
func (r *gormRepository) AppendInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_ref"}},
		DoNothing: true,
	}).Create(inv)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListInvoices(ctx context.Context, userID uint, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// MarkWebhookFailed records a transient failure; the event stays eligible for replay.
func (r *gormRepository) MarkWebhookFailed(ctx context.Context, id uint, processingError string) error {
	updates := map[string]interface{}{
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListRetryableWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND attempts < ? AND updated_at <= ?", maxAttempts, olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
