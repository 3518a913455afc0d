package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/harborline/harborline-backend/pkg/enums"
)

// BillingPlan captures the local metadata for a subscription plan. Plans with
// Provisionable set trigger infrastructure provisioning on activation.
type BillingPlan struct {
	Code          string             `gorm:"column:code;size:64;primaryKey"`
	Name          string             `gorm:"column:name;not null"`
	BillingCycle  enums.BillingCycle `gorm:"column:billing_cycle;size:16;not null"`
	PriceAmount   decimal.Decimal    `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string             `gorm:"column:currency_code;size:3;not null"`
	Provisionable bool               `gorm:"column:provisionable;not null;default:false"`
	Features      pq.StringArray     `gorm:"column:features;type:text[]"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
