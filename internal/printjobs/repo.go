package printjobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

var leasedStatuses = []enums.PrintJobStatus{enums.PrintJobStatusClaimed, enums.PrintJobStatusPrinting}

// StatusCount is one row of a grouped status count.
type StatusCount struct {
	Status enums.PrintJobStatus
	Total  int64
}

// Repository persists the device print queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.PrintJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PrintJob, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.PrintJob, error)
	SelectClaimable(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error)
	ClaimOne(ctx context.Context, id, deviceID uuid.UUID, now time.Time) (bool, error)
	UpdateLeased(ctx context.Context, id, deviceID uuid.UUID, attempts int, updates map[string]any) (bool, error)
	ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]models.PrintJob, error)
	ReleaseExpired(ctx context.Context, id uuid.UUID, cutoff time.Time, attempts int, updates map[string]any) (bool, error)
	CountByStatus(ctx context.Context, tenantID uuid.UUID) ([]StatusCount, error)
	CountLeasedBy(ctx context.Context, deviceID uuid.UUID) (int64, error)
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

func (r *repository) Create(ctx context.Context, job *models.PrintJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PrintJob, error) {
	var job models.PrintJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.PrintJob, error) {
	var jobs []models.PrintJob
	if len(ids) == 0 {
		return jobs, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("available_at ASC, created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// SelectClaimable returns due queued job ids, oldest first. On postgres the
// rows stay locked for the transaction and rows locked by a concurrent claim
// are skipped.
func (r *repository) SelectClaimable(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PrintJob{}).
		Where("tenant_id = ? AND status = ? AND available_at <= ?", tenantID, enums.PrintJobStatusQueued, now).
		Order("available_at ASC, created_at ASC").
		Limit(limit)
	if db.IsPostgres(r.db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ClaimOne leases a queued job to the device. It reports false when the job
// was claimed by someone else first.
func (r *repository) ClaimOne(ctx context.Context, id, deviceID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PrintJob{}).
		Where("id = ? AND status = ?", id, enums.PrintJobStatusQueued).
		Updates(map[string]any{
			"status":     enums.PrintJobStatusClaimed,
			"claimed_by": deviceID,
			"claimed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateLeased applies updates only while the device still holds the lease it
// read at the given attempt count.
func (r *repository) UpdateLeased(ctx context.Context, id, deviceID uuid.UUID, attempts int, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PrintJob{}).
		Where("id = ? AND claimed_by = ? AND status IN ? AND attempts = ?", id, deviceID, leasedStatuses, attempts).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]models.PrintJob, error) {
	var jobs []models.PrintJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND claimed_at < ?", leasedStatuses, cutoff).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) ReleaseExpired(ctx context.Context, id uuid.UUID, cutoff time.Time, attempts int, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PrintJob{}).
		Where("id = ? AND status IN ? AND claimed_at < ? AND attempts = ?", id, leasedStatuses, cutoff, attempts).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountByStatus(ctx context.Context, tenantID uuid.UUID) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&models.PrintJob{}).
		Select("status, COUNT(*) AS total").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) CountLeasedBy(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PrintJob{}).
		Where("claimed_by = ? AND status IN ?", deviceID, leasedStatuses).
		Count(&n).Error
	return n, err
}
