package audit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
)

// Repository manages persistence for audit events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.AuditEvent) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []models.AuditEvent
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
