package billing

import (
	"strings"
	"time"

	"github.com/miketere/businesscard-sub001/app/models"
)

// PlanSpec describes a plan an administrator wants to publish.
type PlanSpec struct {
	Name                  string `json:"name" validate:"required,min=2,max=50,lowercase"`
	DisplayName           string `json:"display_name" validate:"required,max=100"`
	Price                 int64  `json:"price" validate:"gte=0"`
	Currency              string `json:"currency" validate:"required,len=3,alpha"`
	Interval              string `json:"interval" validate:"required"`
	MaxCards              int    `json:"max_cards" validate:"gte=0"`
	MaxContacts           int    `json:"max_contacts" validate:"gte=0"`
	FeatureAnalytics      bool   `json:"feature_analytics"`
	FeatureIntegrations   bool   `json:"feature_integrations"`
	FeatureCustomBranding bool   `json:"feature_custom_branding"`
	TierRank              int    `json:"tier_rank" validate:"gte=0"`
}

// toPlan builds the local row for a validated spec with a normalized interval.
func (s PlanSpec) toPlan(interval string) *models.Plan {
	return &models.Plan{
		Name:                  s.Name,
		DisplayName:           s.DisplayName,
		Price:                 s.Price,
		Currency:              strings.ToUpper(s.Currency),
		Interval:              interval,
		MaxCards:              s.MaxCards,
		MaxContacts:           s.MaxContacts,
		FeatureAnalytics:      s.FeatureAnalytics,
		FeatureIntegrations:   s.FeatureIntegrations,
		FeatureCustomBranding: s.FeatureCustomBranding,
		TierRank:              s.TierRank,
		IsActive:              true,
	}
}

// IntentRequest asks the processor to open a subscription for a paid plan.
type IntentRequest struct {
	UserID             uint
	PlanID             uint
	ExternalPlanID     string
	ExternalCustomerID string
	CustomerEmail      string
	IdempotencyKey     string
}

// SubscriptionIntent is the processor's answer to an IntentRequest. The
// external ids are stored verbatim on the subscription.
type SubscriptionIntent struct {
	ExternalCustomerID      string
	ExternalSubscriptionID  string
	ExternalPaymentIntentID string
	ClientSecret            string
	PeriodStart             *time.Time
	PeriodEnd               *time.Time
}

// EventKind is the internal classification of a processor webhook.
type EventKind string

const (
	EventPaymentSucceeded      EventKind = "payment_succeeded"
	EventPaymentFailed         EventKind = "payment_failed"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventSubscriptionRenewed   EventKind = "subscription_renewed"
	// EventIgnored marks verified events that carry no subscription change.
	EventIgnored EventKind = "ignored"
)

// Event is a verified webhook reduced to the fields reconciliation needs.
// Provider payload types never leave the gateway.
type Event struct {
	ID                      string
	Type                    string
	Kind                    EventKind
	ExternalSubscriptionID  string
	ExternalPaymentIntentID string
	ExternalInvoiceID       string
	Amount                  int64
	Currency                string
	PeriodStart             *time.Time
	PeriodEnd               *time.Time
	CancelAtPeriodEnd       bool
	OccurredAt              time.Time
	Payload                 []byte
}

// InvoiceRef returns the reference used to deduplicate invoice rows.
func (e *Event) InvoiceRef() string {
	if e.ExternalInvoiceID != "" {
		return e.ExternalInvoiceID
	}
	if e.ExternalPaymentIntentID != "" {
		return e.ExternalPaymentIntentID
	}
	return "event:" + e.ID
}

// CheckoutSession is returned to the client to confirm the first payment.
type CheckoutSession struct {
	PlanID                  uint   `json:"plan_id"`
	ExternalSubscriptionID  string `json:"external_subscription_id"`
	ExternalPaymentIntentID string `json:"external_payment_intent_id,omitempty"`
	ClientSecret            string `json:"client_secret,omitempty"`
}
