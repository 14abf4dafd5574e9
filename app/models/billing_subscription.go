package models

import "time"

const (
	SubscriptionStatusFree      = "free"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is the single billing record of a user. A user without a row is
// treated as being on the free plan. Rows are never hard-deleted; Version is
// bumped on every write and used for compare-and-swap updates.
type Subscription struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	UserID                  uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanID                  uint       `gorm:"not null;index" json:"plan_id"`
	Plan                    *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status                  string     `gorm:"type:varchar(32);not null;default:'free';index:idx_subscriptions_status_period,priority:1" json:"status"`
	ExternalCustomerID      *string    `gorm:"type:varchar(191);default:null;index" json:"external_customer_id,omitempty"`
	ExternalSubscriptionID  *string    `gorm:"type:varchar(191);default:null;uniqueIndex" json:"external_subscription_id,omitempty"`
	ExternalPaymentIntentID *string    `gorm:"type:varchar(191);default:null;index" json:"external_payment_intent_id,omitempty"`
	PendingPlanID           *uint      `gorm:"default:null" json:"pending_plan_id,omitempty"`
	CurrentPeriodStart      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_period,priority:2" json:"current_period_end,omitempty"`
	ExpiresAt               *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CancelAtPeriodEnd       bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CancelledAt             *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	RemoteCancelPending     bool       `gorm:"default:false;index" json:"-"`
	Version                 uint       `gorm:"not null;default:0" json:"version"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EntitledUntil returns the instant after which a cancelled or lapsing
// subscription stops granting its plan.
func (s *Subscription) EntitledUntil() *time.Time {
	if s == nil {
		return nil
	}
	if s.ExpiresAt != nil {
		return s.ExpiresAt
	}
	return s.CurrentPeriodEnd
}
