package entitlements_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketere/businesscard-sub001/app/models"
	"github.com/miketere/businesscard-sub001/app/repository"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing/billingtest"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
)

func TestEvaluator_AgainstDatabase(t *testing.T) {
	db := billingtest.NewDB(t)
	svc := billing.NewServiceFromDB(db, billingtest.NewGateway())
	repos := repository.NewRepositories(db)
	e := entitlements.NewEvaluator(svc.Store(), svc.Catalog(), repos.Usage)
	ctx := context.Background()

	require.NoError(t, repos.Card.Create(ctx, &models.Card{UserID: 7, Slug: "me"}))

	d, err := e.CanCreateCard(ctx, 7)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Card limit reached", d.Reason)

	basic, err := svc.Catalog().ResolveByName(ctx, "basic")
	require.NoError(t, err)
	_, err = svc.GrantPlan(ctx, 7, basic.ID, nil, "test")
	require.NoError(t, err)

	d, err = e.CanCreateCard(ctx, 7)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)

	tier, err := e.PlanTier(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, basic.TierRank, tier)
}
