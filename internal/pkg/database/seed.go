package database

import (
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/miketere/businesscard-sub001/app/models"
)

// DefaultPlans is the catalog shipped with a fresh installation. Paid plans
// get their ExternalPlanID once an admin publishes them to the processor.
var DefaultPlans = []models.Plan{
	{
		Name:        models.PlanNameFree,
		DisplayName: "Free",
		Currency:    "EUR",
		Interval:    models.BillingIntervalMonthly,
		MaxCards:    1,
		MaxContacts: 50,
		TierRank:    0,
		IsActive:    true,
	},
	{
		Name:             "basic",
		DisplayName:      "Basic",
		Price:            499,
		Currency:         "EUR",
		Interval:         models.BillingIntervalMonthly,
		MaxCards:         5,
		MaxContacts:      500,
		FeatureAnalytics: true,
		TierRank:         1,
		IsActive:         true,
	},
	{
		Name:                  "pro",
		DisplayName:           "Pro",
		Price:                 1299,
		Currency:              "EUR",
		Interval:              models.BillingIntervalMonthly,
		MaxCards:              25,
		MaxContacts:           5000,
		FeatureAnalytics:      true,
		FeatureIntegrations:   true,
		FeatureCustomBranding: true,
		TierRank:              2,
		IsActive:              true,
	},
}

// SeedPlans inserts missing default plans by name; existing rows are left untouched.
func SeedPlans(db *gorm.DB) error {
	for _, p := range DefaultPlans {
		plan := p
		res := db.Where(models.Plan{Name: plan.Name}).FirstOrCreate(&plan)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			log.Infof("[Database] Seeded plan %q", plan.Name)
		}
	}
	return nil
}
