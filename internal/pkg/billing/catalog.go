package billing

import (
	"context"

	"github.com/miketere/businesscard-sub001/app/models"
)

// Catalog resolves plan definitions. Reads have no side effects and need no
// locking.
type Catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

// Resolve returns the plan with the given id or ErrNotFound.
func (c *Catalog) Resolve(ctx context.Context, planID uint) (*models.Plan, error) {
	if planID == 0 {
		return nil, &ValidationError{Field: "plan_id", Message: "is required"}
	}
	return c.repo.GetPlan(ctx, planID)
}

func (c *Catalog) ResolveByName(ctx context.Context, name string) (*models.Plan, error) {
	return c.repo.GetPlanByName(ctx, name)
}

// FreePlan returns the plan granted to users without a paid subscription.
func (c *Catalog) FreePlan(ctx context.Context) (*models.Plan, error) {
	return c.repo.GetPlanByName(ctx, models.PlanNameFree)
}

// List returns the active plans ordered by tier.
func (c *Catalog) List(ctx context.Context) ([]models.Plan, error) {
	return c.repo.ListPlans(ctx)
}
