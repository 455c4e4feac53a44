package reconciliation

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

type Repository interface {
	ListProcessedPaymentIDs(ctx context.Context, provider enums.PaymentProvider, since time.Time) ([]string, error)
	Upsert(ctx context.Context, record *models.ReconciliationRecord) error
	Find(ctx context.Context, provider enums.PaymentProvider, paymentID string) (*models.ReconciliationRecord, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListProcessedPaymentIDs(ctx context.Context, provider enums.PaymentProvider, since time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Distinct("provider_payment_id").
		Where("provider = ? AND provider_payment_id IS NOT NULL", provider).
		Where("processed_at IS NOT NULL AND received_at >= ?", since).
		Order("provider_payment_id").
		Pluck("provider_payment_id", &ids).Error
	return ids, err
}

// Upsert keeps one record per gateway payment, overwritten by each run.
func (r *repository) Upsert(ctx context.Context, record *models.ReconciliationRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_payment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"provider_amount_cents",
				"expected_amount_cents",
				"difference_cents",
				"checked_at",
			}),
		}).
		Create(record).Error
}

func (r *repository) Find(ctx context.Context, provider enums.PaymentProvider, paymentID string) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, paymentID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
