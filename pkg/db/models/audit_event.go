package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/pkg/enums"
)

// AuditEvent is an immutable record of a state-changing decision. Rows are
// append-only; nothing updates or deletes them.
type AuditEvent struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ActorUserID *uuid.UUID           `gorm:"column:actor_user_id;type:uuid"`
	TenantID    uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index"`
	Type        enums.AuditEventType `gorm:"column:type;size:64;not null"`
	Metadata    json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}
