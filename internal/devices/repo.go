package devices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Repository persists registered print devices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, device *models.Device) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	FindEnabledByHash(ctx context.Context, hash string, version int) (*models.Device, error)
	UpgradeHash(ctx context.Context, id uuid.UUID, legacyHash, hash string) (bool, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, device *models.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	var device models.Device
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) FindEnabledByHash(ctx context.Context, hash string, version int) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).
		Where("secret_hash = ? AND hash_version = ? AND enabled = ?", hash, version, true).
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// UpgradeHash swaps a legacy hash for the keyed one. It reports false when
// another request already upgraded the row.
func (r *repository) UpgradeHash(ctx context.Context, id uuid.UUID, legacyHash, hash string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ? AND secret_hash = ? AND hash_version = ?", id, legacyHash, models.DeviceHashLegacy).
		Updates(map[string]any{
			"secret_hash":  hash,
			"hash_version": models.DeviceHashHMAC,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_seen_at": at,
			"status":       enums.DeviceStatusOnline,
		}).Error
}

func (r *repository) MarkOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("status = ? AND (last_seen_at IS NULL OR last_seen_at < ?)", enums.DeviceStatusOnline, cutoff).
		Update("status", enums.DeviceStatusOffline)
	return res.RowsAffected, res.Error
}
