package settlements

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Repository reads commission sources and persists settlements.
type Repository interface {
	FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error)
	ListSettledPayments(ctx context.Context, partnerID uuid.UUID, from, to, settledBy time.Time) ([]int64, error)
	FindByPeriod(ctx context.Context, partnerID uuid.UUID, from, to time.Time) (*models.Settlement, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	PayoutStarted(ctx context.Context, settlementID uuid.UUID) (bool, error)
	Upsert(ctx context.Context, settlement *models.Settlement) (*models.Settlement, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

// ListSettledPayments returns one amount per gateway payment of the partner's
// tenants with a processed event, keyed by when its first processed event was
// received: in [from, to) and no later than settledBy. Several events for the
// same payment count once.
func (r *repository) ListSettledPayments(ctx context.Context, partnerID uuid.UUID, from, to, settledBy time.Time) ([]int64, error) {
	var rows []struct {
		AmountCents int64
	}
	err := r.db.WithContext(ctx).
		Table("payment_events AS pe").
		Select("MAX(pe.amount_cents) AS amount_cents").
		Joins("JOIN tenants t ON t.id = pe.tenant_id").
		Where("t.partner_id = ?", partnerID).
		Where("pe.processed_at IS NOT NULL").
		Group("pe.provider, COALESCE(pe.provider_payment_id, CAST(pe.id AS TEXT))").
		Having("MIN(pe.received_at) >= ? AND MIN(pe.received_at) < ? AND MIN(pe.received_at) <= ?", from, to, settledBy).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	amounts := make([]int64, 0, len(rows))
	for _, row := range rows {
		amounts = append(amounts, row.AmountCents)
	}
	return amounts, nil
}

func (r *repository) FindByPeriod(ctx context.Context, partnerID uuid.UUID, from, to time.Time) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Where("partner_id = ? AND period_start = ? AND period_end = ?", partnerID, from, to).
		First(&settlement).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&settlement).Error; err != nil {
		return nil, err
	}
	return &settlement, nil
}

// PayoutStarted reports whether the settlement's payout left the queue.
func (r *repository) PayoutStarted(ctx context.Context, settlementID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PayoutJob{}).
		Where("settlement_id = ? AND (status <> ? OR attempts > 0)", settlementID, enums.PayoutJobStatusQueued).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) Upsert(ctx context.Context, settlement *models.Settlement) (*models.Settlement, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "partner_id"}, {Name: "period_start"}, {Name: "period_end"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"calculated_amount_cents",
				"chargeback_window_end",
				"reserve_cutoff_at",
				"status",
				"updated_at",
			}),
		}).
		Create(settlement).Error
	if err != nil {
		return nil, err
	}
	return r.FindByPeriod(ctx, settlement.PartnerID, settlement.PeriodStart, settlement.PeriodEnd)
}
