package billing

import (
	"fmt"
	"strings"

	"github.com/miketere/businesscard-sub001/app/models"
)

// MapInterval normalizes a billing interval name to monthly or yearly.
// Its output maps to itself.
func MapInterval(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "month", "monthly", "mo", "mon":
		return models.BillingIntervalMonthly, nil
	case "year", "yearly", "annual", "annually", "yr":
		return models.BillingIntervalYearly, nil
	default:
		return "", &ValidationError{
			Field:   "interval",
			Message: fmt.Sprintf("unsupported interval %q", raw),
			Err:     ErrInvalidInterval,
		}
	}
}

// providerInterval converts a normalized interval to the processor's recurring unit.
func providerInterval(interval string) string {
	if interval == models.BillingIntervalYearly {
		return "year"
	}
	return "month"
}
