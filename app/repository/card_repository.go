package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/miketere/businesscard-sub001/app/models"
)

// cardRepository implements the CardRepository interface
type cardRepository struct {
	db *gorm.DB
}

// NewCardRepository creates a new card repository instance
func NewCardRepository(db *gorm.DB) CardRepository {
	return &cardRepository{db: db}
}

func (r *cardRepository) Create(ctx context.Context, card *models.Card) error {
	return r.db.WithContext(ctx).Create(card).Error
}

func (r *cardRepository) GetByUserID(ctx context.Context, userID uint) ([]models.Card, error) {
	var cards []models.Card
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&cards).Error
	return cards, err
}

// Delete soft-deletes the card; it no longer counts against the quota
func (r *cardRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Card{}, id).Error
}

// CountByUserID returns the number of live cards of a user
func (r *cardRepository) CountByUserID(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Card{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
