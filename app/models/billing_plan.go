package models

import "time"

const (
	BillingIntervalMonthly = "monthly"
	BillingIntervalYearly  = "yearly"
)

// PlanNameFree is the slug of the plan every user without a paid
// subscription is entitled to.
const PlanNameFree = "free"

// Plan defines the quotas and features a subscription grants. ExternalPlanID
// links the plan to the payment processor and is written at most once.
type Plan struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Name                  string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"name"`
	DisplayName           string    `gorm:"type:varchar(100);not null;default:''" json:"display_name"`
	Price                 int64     `gorm:"not null;default:0" json:"price"`
	Currency              string    `gorm:"type:char(3);not null;default:'EUR'" json:"currency"`
	Interval              string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval"`
	MaxCards              int       `gorm:"not null;default:0" json:"max_cards"`
	MaxContacts           int       `gorm:"not null;default:0" json:"max_contacts"`
	FeatureAnalytics      bool      `gorm:"default:false" json:"feature_analytics"`
	FeatureIntegrations   bool      `gorm:"default:false" json:"feature_integrations"`
	FeatureCustomBranding bool      `gorm:"default:false" json:"feature_custom_branding"`
	TierRank              int       `gorm:"not null;default:0;index" json:"tier_rank"`
	ExternalPlanID        *string   `gorm:"type:varchar(191);uniqueIndex;default:null" json:"external_plan_id,omitempty"`
	IsActive              bool      `gorm:"index" json:"is_active"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFree reports whether the plan carries no recurring charge.
func (p *Plan) IsFree() bool {
	return p != nil && p.Price == 0
}

// HasExternalPlan reports whether the plan is already linked to the payment processor.
func (p *Plan) HasExternalPlan() bool {
	return p != nil && p.ExternalPlanID != nil && *p.ExternalPlanID != ""
}
