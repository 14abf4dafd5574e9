package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	InvoiceStatusPaid   = "paid"
	InvoiceStatusFailed = "failed"
)

// ErrInvoiceImmutable is returned by the hooks guarding the append-only invoice table.
var ErrInvoiceImmutable = errors.New("invoices are append-only")

// Invoice records a single payment outcome reported by the processor.
type Invoice struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	PublicID       string     `gorm:"type:char(36);not null;uniqueIndex" json:"id"`
	SubscriptionID uint       `gorm:"not null;index" json:"subscription_id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	PlanID         uint       `gorm:"not null" json:"plan_id"`
	Amount         int64      `gorm:"not null;default:0" json:"amount"`
	Currency       string     `gorm:"type:char(3);not null;default:''" json:"currency"`
	Status         string     `gorm:"type:varchar(16);not null" json:"status"`
	ExternalRef    string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_ref"`
	PeriodStart    *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (i *Invoice) BeforeUpdate(tx *gorm.DB) error {
	return ErrInvoiceImmutable
}

func (i *Invoice) BeforeDelete(tx *gorm.DB) error {
	return ErrInvoiceImmutable
}
