package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the billing owner of subscriptions and orders. The provider-side
// customer id is the join used to resolve first-seen-from-webhook events.
type Tenant struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;size:128;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
