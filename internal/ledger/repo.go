package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

const signedAmount = "CASE WHEN direction = 'debit' THEN -amount_cents ELSE amount_cents END"

// Repository manages persistence for transaction effects. It only ever inserts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// InsertIfAbsent writes the effect unless its idempotency key exists and
	// reports whether a row was written.
	InsertIfAbsent(ctx context.Context, effect *models.TransactionEffect) (bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.TransactionEffect, error)
	SumPartnerBalance(ctx context.Context, partnerID uuid.UUID, from, to, heldAfter time.Time) (PartnerBalance, error)
	SumPaymentCredits(ctx context.Context, provider enums.PaymentProvider, externalRef string) (int64, int64, error)
	ListPaymentRefs(ctx context.Context, provider enums.PaymentProvider, since time.Time) ([]string, error)
	ListByTarget(ctx context.Context, targetType enums.EffectTargetType, targetID uuid.UUID) ([]models.TransactionEffect, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertIfAbsent(ctx context.Context, effect *models.TransactionEffect) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(effect)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.TransactionEffect, error) {
	var effect models.TransactionEffect
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&effect).Error; err != nil {
		return nil, err
	}
	return &effect, nil
}

// PartnerBalance splits a partner's non-payout effects into settled and held sums.
type PartnerBalance struct {
	SettledCents int64
	HeldCents    int64
}

func (r *repository) SumPartnerBalance(ctx context.Context, partnerID uuid.UUID, from, to, heldAfter time.Time) (PartnerBalance, error) {
	var row struct {
		SettledCents int64
		HeldCents    int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.TransactionEffect{}).
		Select(
			"CAST(COALESCE(SUM(CASE WHEN occurred_at <= ? THEN "+signedAmount+" ELSE 0 END), 0) AS BIGINT) AS settled_cents, "+
				"CAST(COALESCE(SUM(CASE WHEN occurred_at > ? THEN "+signedAmount+" ELSE 0 END), 0) AS BIGINT) AS held_cents",
			heldAfter, heldAfter,
		).
		Where("target_type = ? AND target_id = ?", enums.EffectTargetPartnerBalance, partnerID).
		Where("kind <> ?", enums.EffectKindPayout).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Scan(&row).Error
	if err != nil {
		return PartnerBalance{}, err
	}
	return PartnerBalance{SettledCents: row.SettledCents, HeldCents: row.HeldCents}, nil
}

// SumPaymentCredits returns the tenant payment credits booked against one gateway
// payment and how many effects contributed.
func (r *repository) SumPaymentCredits(ctx context.Context, provider enums.PaymentProvider, externalRef string) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.TransactionEffect{}).
		Select("CAST(COALESCE(SUM(" + signedAmount + "), 0) AS BIGINT) AS total, COUNT(*) AS count").
		Where("target_type = ? AND kind = ?", enums.EffectTargetTenantBalance, enums.EffectKindPayment).
		Where("external_provider = ? AND external_ref = ?", provider, externalRef).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *repository) ListPaymentRefs(ctx context.Context, provider enums.PaymentProvider, since time.Time) ([]string, error) {
	var refs []string
	err := r.db.WithContext(ctx).
		Model(&models.TransactionEffect{}).
		Distinct("external_ref").
		Where("target_type = ? AND kind = ?", enums.EffectTargetTenantBalance, enums.EffectKindPayment).
		Where("external_provider = ? AND external_ref IS NOT NULL", provider).
		Where("occurred_at >= ?", since).
		Order("external_ref").
		Pluck("external_ref", &refs).Error
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *repository) ListByTarget(ctx context.Context, targetType enums.EffectTargetType, targetID uuid.UUID) ([]models.TransactionEffect, error) {
	var effects []models.TransactionEffect
	if err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("occurred_at ASC, created_at ASC").
		Find(&effects).Error; err != nil {
		return nil, err
	}
	return effects, nil
}
