package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/miketere/businesscard-sub001/app/models"
)

// CardRepository defines the card operations the billing core relies on
type CardRepository interface {
	Create(ctx context.Context, card *models.Card) error
	GetByUserID(ctx context.Context, userID uint) ([]models.Card, error)
	Delete(ctx context.Context, id uint) error
	CountByUserID(ctx context.Context, userID uint) (int64, error)
}

// ContactRepository defines the contact operations the billing core relies on
type ContactRepository interface {
	Create(ctx context.Context, contact *models.Contact) error
	GetByUserID(ctx context.Context, userID uint, offset, limit int) ([]models.Contact, error)
	Delete(ctx context.Context, id uint) error
	CountByUserID(ctx context.Context, userID uint) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Card    CardRepository
	Contact ContactRepository
	Usage   *UsageCounter
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	cards := NewCardRepository(db)
	contacts := NewContactRepository(db)
	return &Repositories{
		Card:    cards,
		Contact: contacts,
		Usage:   NewUsageCounter(cards, contacts),
	}
}
