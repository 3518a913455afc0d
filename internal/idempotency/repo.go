package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
)

// Repository manages persistence for idempotency records. Claim-time writes
// must stay atomic: insert-if-absent and the conditional updates below are the
// only synchronization points between concurrent requests sharing a key.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error)
	FindByKey(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	ReopenFailed(ctx context.Context, key, storedHash, newHash string, expiresAt time.Time) (bool, error)
	Finalize(ctx context.Context, key string, status enums.IdempotencyStatus, response []byte, errorMessage *string) (bool, error)
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an idempotency repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent creates the record unless one already exists for the key.
// The uniqueness constraint on key makes this a single conditional write, so
// exactly one of two concurrent claimants observes an insert.
func (r *repository) InsertIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindByKey(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	if err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ReopenFailed resets a failed record back to processing, but only while it
// still carries the hash the caller observed. Of several concurrent reopeners
// exactly one wins; the rest see zero rows.
func (r *repository) ReopenFailed(ctx context.Context, key, storedHash, newHash string, expiresAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("key = ? AND status = ? AND request_hash = ?", key, enums.IdempotencyStatusFailed, storedHash).
		Updates(map[string]any{
			"status":        enums.IdempotencyStatusProcessing,
			"request_hash":  newHash,
			"response_data": nil,
			"error_message": nil,
			"expires_at":    expiresAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Finalize moves a record out of processing. The status guard keeps it a
// one-shot transition even if two finalizers race.
func (r *repository) Finalize(ctx context.Context, key string, status enums.IdempotencyStatus, response []byte, errorMessage *string) (bool, error) {
	updates := map[string]any{
		"status":        status,
		"error_message": errorMessage,
	}
	if response != nil {
		updates["response_data"] = response
	}
	result := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("key = ? AND status = ?", key, enums.IdempotencyStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Release drops the record entirely so the next delivery attempt claims fresh.
func (r *repository) Release(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).
		Where("key = ?", key).
		Delete(&models.IdempotencyRecord{}).Error
}

// DeleteExpired removes records past their TTL. Retries arriving after the
// sweep are treated as new requests; that bound is the documented replay window.
func (r *repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
