package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
)

// Service records and lists immutable audit events.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordEventInput) (*models.AuditEvent, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditEvent, error)
}

type service struct {
	repo Repository
}

// RecordEventInput captures the immutable data an audit event requires.
// Metadata carries decision context: provider event id, old and new status,
// and whether the transition was synthesized from an out-of-order delivery.
type RecordEventInput struct {
	TenantID    uuid.UUID            `json:"tenant_id"`
	ActorUserID *uuid.UUID           `json:"actor_user_id,omitempty"`
	Type        enums.AuditEventType `json:"type"`
	Metadata    map[string]any       `json:"metadata"`
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

// WithTx returns a service whose writes join the provided transaction, so an
// audit event commits atomically with the state change it describes.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Record(ctx context.Context, input RecordEventInput) (*models.AuditEvent, error) {
	if input.TenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid audit event type %q", input.Type)
	}

	var metadata json.RawMessage
	if len(input.Metadata) > 0 {
		encoded, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding audit metadata: %w", err)
		}
		metadata = encoded
	}

	event := &models.AuditEvent{
		ID:          uuid.New(),
		TenantID:    input.TenantID,
		ActorUserID: input.ActorUserID,
		Type:        input.Type,
		Metadata:    metadata,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}
	return s.repo.ListByTenant(ctx, tenantID, limit)
}
