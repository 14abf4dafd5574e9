package repository

import (
	"context"
	"fmt"

	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
)

// UsageCounter implements entitlements.ResourceCounter over the card and
// contact tables.
type UsageCounter struct {
	cards    CardRepository
	contacts ContactRepository
}

func NewUsageCounter(cards CardRepository, contacts ContactRepository) *UsageCounter {
	return &UsageCounter{cards: cards, contacts: contacts}
}

func (c *UsageCounter) Count(ctx context.Context, userID uint, kind entitlements.ResourceKind) (int64, error) {
	switch kind {
	case entitlements.ResourceCard:
		return c.cards.CountByUserID(ctx, userID)
	case entitlements.ResourceContact:
		return c.contacts.CountByUserID(ctx, userID)
	}
	return 0, fmt.Errorf("unknown resource kind %q", kind)
}
