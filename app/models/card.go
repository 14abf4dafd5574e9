package models

import (
	"time"

	"gorm.io/gorm"
)

// Card is a digital business card. Cards are managed by the card service; the
// billing core only counts them per user.
type Card struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	Slug      string         `gorm:"type:varchar(100);uniqueIndex" json:"slug"`
	Title     string         `gorm:"type:varchar(150)" json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
