package activation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Repository persists plan and module entitlements.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error)
	FindPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	FindModule(ctx context.Context, id uuid.UUID) (*models.Module, error)
	UpsertSubscription(ctx context.Context, sub *models.TenantSubscription) (*models.TenantSubscription, error)
	FindSubscription(ctx context.Context, tenantID uuid.UUID) (*models.TenantSubscription, error)
	UpsertAddon(ctx context.Context, addon *models.AddonSubscription) (*models.AddonSubscription, error)
	FindAddon(ctx context.Context, tenantID, moduleID uuid.UUID) (*models.AddonSubscription, error)
	CancelSubscription(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CancelAddon(ctx context.Context, tenantID, moduleID uuid.UUID) (int64, error)
	MarkPlansPastDue(ctx context.Context, now time.Time) (int64, error)
	ExpirePastDuePlans(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireAddons(ctx context.Context, now time.Time) (int64, error)
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)
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

func (r *repository) FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *repository) FindPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindModule(ctx context.Context, id uuid.UUID) (*models.Module, error) {
	var module models.Module
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&module).Error; err != nil {
		return nil, err
	}
	return &module, nil
}

// UpsertSubscription overwrites the tenant's plan row keyed on tenant_id.
func (r *repository) UpsertSubscription(ctx context.Context, sub *models.TenantSubscription) (*models.TenantSubscription, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_id", "status", "period_start", "period_end",
				"last_payment_method", "last_payment_provider", "updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return nil, err
	}
	return r.FindSubscription(ctx, sub.TenantID)
}

func (r *repository) FindSubscription(ctx context.Context, tenantID uuid.UUID) (*models.TenantSubscription, error) {
	var sub models.TenantSubscription
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertAddon overwrites the entitlement keyed on (tenant_id, module_id).
func (r *repository) UpsertAddon(ctx context.Context, addon *models.AddonSubscription) (*models.AddonSubscription, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "module_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "started_at", "expires_at", "trial_ends_at",
				"is_free", "price_paid_cents", "updated_at",
			}),
		}).
		Create(addon).Error
	if err != nil {
		return nil, err
	}
	return r.FindAddon(ctx, addon.TenantID, addon.ModuleID)
}

func (r *repository) FindAddon(ctx context.Context, tenantID, moduleID uuid.UUID) (*models.AddonSubscription, error) {
	var addon models.AddonSubscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND module_id = ?", tenantID, moduleID).
		First(&addon).Error; err != nil {
		return nil, err
	}
	return &addon, nil
}

func (r *repository) CancelSubscription(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TenantSubscription{}).
		Where("tenant_id = ? AND status <> ?", tenantID, enums.SubscriptionStatusCancelled).
		Update("status", enums.SubscriptionStatusCancelled)
	return res.RowsAffected, res.Error
}

func (r *repository) CancelAddon(ctx context.Context, tenantID, moduleID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AddonSubscription{}).
		Where("tenant_id = ? AND module_id = ? AND status <> ?", tenantID, moduleID, enums.AddonStatusCancelled).
		Updates(map[string]any{"status": enums.AddonStatusCancelled, "trial_ends_at": nil})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkPlansPastDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TenantSubscription{}).
		Where("status = ? AND period_end < ?", enums.SubscriptionStatusActive, now).
		Update("status", enums.SubscriptionStatusPastDue)
	return res.RowsAffected, res.Error
}

func (r *repository) ExpirePastDuePlans(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TenantSubscription{}).
		Where("status = ? AND period_end < ?", enums.SubscriptionStatusPastDue, cutoff).
		Update("status", enums.SubscriptionStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *repository) ExpireAddons(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AddonSubscription{}).
		Where("status = ? AND expires_at < ?", enums.AddonStatusActive, now).
		Update("status", enums.AddonStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *repository) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AddonSubscription{}).
		Where("status = ? AND trial_ends_at < ?", enums.AddonStatusTrial, now).
		Updates(map[string]any{"status": enums.AddonStatusExpired, "trial_ends_at": nil})
	return res.RowsAffected, res.Error
}
