package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/pkg/enums"
)

// IdempotencyRecord is the durable ledger entry that makes a mutating
// operation safe to retry. At most one record exists per key; the status moves
// out of processing exactly once.
type IdempotencyRecord struct {
	ID           uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Key          string                  `gorm:"column:key;size:255;not null;uniqueIndex"`
	Operation    string                  `gorm:"column:operation;size:128;not null"`
	TenantID     *uuid.UUID              `gorm:"column:tenant_id;type:uuid;index"`
	Status       enums.IdempotencyStatus `gorm:"column:status;size:16;not null;default:'processing'"`
	RequestHash  string                  `gorm:"column:request_hash;size:64;not null"`
	ResponseData json.RawMessage         `gorm:"column:response_data;type:jsonb"`
	ErrorMessage *string                 `gorm:"column:error_message"`
	ExpiresAt    time.Time               `gorm:"column:expires_at;not null;index"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
