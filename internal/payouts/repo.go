package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Repository persists payout jobs and the transfers they produce.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, job *models.PayoutJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutJob, error)
	FindBySettlement(ctx context.Context, settlementID uuid.UUID) (*models.PayoutJob, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ClaimDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	UpdateProcessing(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
	FindSettlement(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	SaveIntegrity(ctx context.Context, settlementID uuid.UUID, ledgerCents, reserveCents int64) error
	FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error)
	InsertTransfer(ctx context.Context, transfer *models.Transfer) error
	FindTransfer(ctx context.Context, jobID uuid.UUID) (*models.Transfer, error)
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

// InsertIfAbsent creates the job unless the settlement already has one.
func (r *repository) InsertIfAbsent(ctx context.Context, job *models.PayoutJob) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "settlement_id"}},
			DoNothing: true,
		}).
		Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutJob, error) {
	var job models.PayoutJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindBySettlement(ctx context.Context, settlementID uuid.UUID) (*models.PayoutJob, error) {
	var job models.PayoutJob
	if err := r.db.WithContext(ctx).Where("settlement_id = ?", settlementID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.PayoutJob{}).
		Where("status = ? AND next_attempt_at <= ?", enums.PayoutJobStatusQueued, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ClaimDue moves a due queued job to processing. Only one caller wins.
func (r *repository) ClaimDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutJob{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", id, enums.PayoutJobStatusQueued, now).
		Update("status", enums.PayoutJobStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateProcessing(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutJob{}).
		Where("id = ? AND status = ?", id, enums.PayoutJobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindSettlement(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&settlement).Error; err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) SaveIntegrity(ctx context.Context, settlementID uuid.UUID, ledgerCents, reserveCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("id = ?", settlementID).
		Updates(map[string]any{
			"ledger_amount_cents": ledgerCents,
			"reserve_held_cents":  reserveCents,
		}).Error
}

func (r *repository) FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *repository) InsertTransfer(ctx context.Context, transfer *models.Transfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *repository) FindTransfer(ctx context.Context, jobID uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	if err := r.db.WithContext(ctx).Where("payout_job_id = ?", jobID).First(&transfer).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}
