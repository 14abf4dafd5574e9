package models

import "time"

const (
	AuditActionTransition    = "transition"
	AuditActionCheckout      = "checkout_started"
	AuditActionPlanChange    = "plan_changed"
	AuditActionAdminReset    = "admin_reset"
	AuditActionPeriodUpdated = "period_updated"
	AuditActionCheckoutVoid  = "checkout_void"
)

// SubscriptionAudit is written in the same transaction as every subscription change.
type SubscriptionAudit struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Action     string    `gorm:"type:varchar(32);not null;index" json:"action"`
	FromStatus string    `gorm:"type:varchar(32);not null;default:''" json:"from_status"`
	ToStatus   string    `gorm:"type:varchar(32);not null;default:''" json:"to_status"`
	FromPlanID uint      `gorm:"not null;default:0" json:"from_plan_id"`
	ToPlanID   uint      `gorm:"not null;default:0" json:"to_plan_id"`
	Actor      string    `gorm:"type:varchar(100);not null;default:'system'" json:"actor"`
	Reason     string    `gorm:"type:text" json:"reason"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
