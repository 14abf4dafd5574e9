package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketere/businesscard-sub001/app/models"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing/billingtest"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
)

func TestUsageCounter_CountsLiveResources(t *testing.T) {
	db := billingtest.NewDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	for i, slug := range []string{"a", "b", "c"} {
		require.NoError(t, repos.Card.Create(ctx, &models.Card{UserID: 1, Slug: slug, Title: "Card"}))
		require.NoError(t, repos.Contact.Create(ctx, &models.Contact{UserID: 1, Name: "Lead", Email: slug + "@example.com"}))
		if i == 0 {
			require.NoError(t, repos.Card.Create(ctx, &models.Card{UserID: 2, Slug: "other"}))
		}
	}

	cards, err := repos.Card.GetByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cards, 3)
	require.NoError(t, repos.Card.Delete(ctx, cards[0].ID))

	n, err := repos.Usage.Count(ctx, 1, entitlements.ResourceCard)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repos.Usage.Count(ctx, 1, entitlements.ResourceContact)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repos.Usage.Count(ctx, 2, entitlements.ResourceCard)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repos.Usage.Count(ctx, 1, entitlements.ResourceKind("album"))
	assert.Error(t, err)
}

func TestContactRepository_Paginates(t *testing.T) {
	db := billingtest.NewDB(t)
	contacts := NewContactRepository(db)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, contacts.Create(ctx, &models.Contact{UserID: 1, Name: "Lead"}))
	}

	page, err := contacts.GetByUserID(ctx, 1, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
