package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/harborline-backend/pkg/enums"
)

// Order is a local purchase order. A paid order is linked 1:1 to the
// subscription it created.
type Order struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	TenantID        uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null;index"`
	PlanCode        string             `gorm:"column:plan_code;size:64;not null"`
	BillingCycle    enums.BillingCycle `gorm:"column:billing_cycle;size:16;not null;default:'monthly'"`
	Status          enums.OrderStatus  `gorm:"column:status;size:16;not null;default:'pending'"`
	Amount          decimal.Decimal    `gorm:"column:amount;type:numeric(12,2)"`
	Currency        string             `gorm:"column:currency;size:3;not null;default:'USD'"`
	RequestedDomain *string            `gorm:"column:requested_domain;size:253"`
	PaidAt          *time.Time         `gorm:"column:paid_at"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
