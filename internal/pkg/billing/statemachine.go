package billing

import (
	"time"

	"github.com/miketere/businesscard-sub001/app/models"
)

var transitions = map[string][]string{
	models.SubscriptionStatusFree:      {models.SubscriptionStatusActive},
	models.SubscriptionStatusActive:    {models.SubscriptionStatusPastDue, models.SubscriptionStatusCancelled},
	models.SubscriptionStatusPastDue:   {models.SubscriptionStatusActive, models.SubscriptionStatusCancelled, models.SubscriptionStatusExpired},
	models.SubscriptionStatusCancelled: {models.SubscriptionStatusExpired},
	models.SubscriptionStatusExpired:   {},
}

// CanTransition reports whether from -> to is an edge of the subscription
// state machine. Staying in the same state is not a transition.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// canTransitionSub adds the guarded active -> expired edge, which is only
// open when the subscription was set to end with its period.
func canTransitionSub(sub *models.Subscription, to string) bool {
	if sub.Status == models.SubscriptionStatusActive && to == models.SubscriptionStatusExpired {
		return sub.CancelAtPeriodEnd
	}
	return CanTransition(sub.Status, to)
}

// IsEntitling reports whether sub still grants its plan at now. past_due keeps
// the plan during the payment retry window and cancelled keeps it until the
// end of the paid period, so entitlements drop exactly when the sweep would
// expire the row.
func IsEntitling(sub *models.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	until := sub.EntitledUntil()
	switch sub.Status {
	case models.SubscriptionStatusActive:
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil {
			return now.Before(*sub.CurrentPeriodEnd)
		}
		return true
	case models.SubscriptionStatusPastDue:
		return until == nil || now.Before(*until)
	case models.SubscriptionStatusCancelled:
		return until != nil && now.Before(*until)
	default:
		return false
	}
}
