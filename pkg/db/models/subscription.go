package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/enums"
)

// Subscription is the durable, provider-reconciled subscription record.
// StripeSubscriptionID is the reconciliation join key for provider events and
// stays nil until the provider assigns one. Rows are never hard-deleted.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID             uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;index"`
	CustomerID           string                   `gorm:"column:customer_id;size:128;index"`
	PlanCode             string                   `gorm:"column:plan_code;size:64;not null"`
	BillingCycle         enums.BillingCycle       `gorm:"column:billing_cycle;size:16;not null;default:'monthly'"`
	Status               enums.SubscriptionStatus `gorm:"column:status;size:16;not null;default:'inactive'"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;size:128;uniqueIndex"`
	OrderID              *uuid.UUID               `gorm:"column:order_id;type:uuid;uniqueIndex"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	RenewsAt             *time.Time               `gorm:"column:renews_at"`
	CancelAt             *time.Time               `gorm:"column:cancel_at"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt          *time.Time               `gorm:"column:cancelled_at"`
	Quantity             int                      `gorm:"column:quantity;not null;default:1"`
	Price                decimal.Decimal          `gorm:"column:price;type:numeric(12,2)"`
	Currency             string                   `gorm:"column:currency;size:3;not null;default:'USD'"`
	AddOns               json.RawMessage          `gorm:"column:add_ons;type:jsonb"`
	Metadata             json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	Version              int                      `gorm:"column:version;not null;default:0"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt            gorm.DeletedAt           `gorm:"column:deleted_at;index"`
}
