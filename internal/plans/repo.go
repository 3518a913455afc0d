package plans

import (
	"context"

	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
)

// Repository manages persistence for billing plans.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.BillingPlan, error)
	List(ctx context.Context) ([]models.BillingPlan, error)
	Upsert(ctx context.Context, plan *models.BillingPlan) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.BillingPlan, error) {
	if code == "" {
		return nil, nil
	}
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) List(ctx context.Context) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	if err := r.db.WithContext(ctx).
		Order("code ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) Upsert(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}
