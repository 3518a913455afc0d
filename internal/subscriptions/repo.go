package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
)

// Repository manages persistence for subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Subscription, error)
	FindAdoptable(ctx context.Context, tenantID uuid.UUID, planCode string) (*models.Subscription, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error)
	ListDueForPeriodEndCancel(ctx context.Context, limit int) ([]models.Subscription, error)
	UpdateVersioned(ctx context.Context, sub *models.Subscription, expectedVersion int) (bool, error)
	ArchiveExternalID(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByExternalID is the reconciliation join: every provider event resolves
// its target row through the provider-assigned subscription id.
func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	if externalID == "" {
		return nil, nil
	}
	return r.findOne(ctx, "stripe_subscription_id = ?", externalID)
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Subscription, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

// FindAdoptable returns the newest local subscription still waiting for the
// provider to assign it an external id. A plan-matching row wins over other
// candidates so a creation event lands on the order that bought it.
func (r *repository) FindAdoptable(ctx context.Context, tenantID uuid.UUID, planCode string) (*models.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, nil
	}
	if planCode != "" {
		var sub models.Subscription
		err := r.db.WithContext(ctx).
			Where("tenant_id = ? AND stripe_subscription_id IS NULL AND status = ? AND plan_code = ?", tenantID, "inactive", planCode).
			Order("created_at DESC").
			First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND stripe_subscription_id IS NULL AND status = ?", tenantID, "inactive").
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where(query, arg).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListDueForPeriodEndCancel returns subscriptions whose pending
// cancel-at-period-end boundary has passed and still need the final transition.
func (r *repository) ListDueForPeriodEndCancel(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("cancel_at_period_end = ? AND cancel_at IS NOT NULL AND cancel_at <= ? AND status <> ?", true, time.Now().UTC(), "cancelled").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateVersioned persists the row only if nobody else has written it since it
// was read. Returns false when the version check loses, in which case the
// caller re-reads and re-applies.
func (r *repository) UpdateVersioned(ctx context.Context, sub *models.Subscription, expectedVersion int) (bool, error) {
	sub.Version = expectedVersion + 1
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(sub)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ArchiveExternalID frees the unique external id on a terminal row so a new
// logical subscription can claim it. The old id stays recoverable from the
// suffixed value.
func (r *repository) ArchiveExternalID(ctx context.Context, id uuid.UUID) error {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return err
	}
	if sub.StripeSubscriptionID == nil {
		return nil
	}
	archived := fmt.Sprintf("%s#%s", *sub.StripeSubscriptionID, sub.ID)
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("stripe_subscription_id", archived).Error
}
