package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact is a lead captured through one of the user's cards.
type Contact struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	CardID    uint           `gorm:"index" json:"card_id"`
	Name      string         `gorm:"type:varchar(150)" json:"name"`
	Email     string         `gorm:"type:varchar(200)" json:"email"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
