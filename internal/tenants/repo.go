package tenants

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
)

// Repository manages persistence for tenants.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Tenant, error)
	AttachStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a tenant repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

// FindByStripeCustomerID resolves the tenant a provider event belongs to.
func (r *repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Tenant, error) {
	if customerID == "" {
		return nil, nil
	}
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

// AttachStripeCustomer stores the provider customer id after the first
// checkout completes for a tenant.
func (r *repository) AttachStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Update("stripe_customer_id", customerID).Error
}
