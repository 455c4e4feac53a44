package invoices

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

var billableStatuses = []enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error)
	ListPartners(ctx context.Context) ([]models.Partner, error)
	SumBillablePlans(ctx context.Context, partnerID uuid.UUID) (int64, error)
	InsertIfAbsent(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByPeriod(ctx context.Context, partnerID uuid.UUID, period string) (*models.Invoice, error)
	UpdateInStatus(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (bool, error)
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

func (r *repository) FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *repository) ListPartners(ctx context.Context) ([]models.Partner, error) {
	var partners []models.Partner
	err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&partners).Error
	return partners, err
}

// SumBillablePlans adds up the plan prices of the partner's tenants whose
// subscription is active or past due.
func (r *repository) SumBillablePlans(ctx context.Context, partnerID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Table("tenant_subscriptions AS ts").
		Joins("JOIN tenants t ON t.id = ts.tenant_id").
		Joins("JOIN plans p ON p.id = ts.plan_id").
		Where("t.partner_id = ? AND ts.status IN ?", partnerID, billableStatuses).
		Select("CAST(COALESCE(SUM(p.price_cents), 0) AS BIGINT)").
		Scan(&total).Error
	return total, err
}

func (r *repository) InsertIfAbsent(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}, {Name: "period"}},
			DoNothing: true,
		}).
		Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByPeriod(ctx context.Context, partnerID uuid.UUID, period string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("partner_id = ? AND period = ?", partnerID, period).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) UpdateInStatus(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
