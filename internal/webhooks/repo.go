package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

const maxProcessErrorLen = 1024

// Repository stores payment event receipts. Rows are inserted once; only the
// outcome columns are written afterwards.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, event *models.PaymentEvent) error
	FindByProviderEvent(ctx context.Context, provider enums.PaymentProvider, providerEventID string) (*models.PaymentEvent, error)
	// MarkProcessed sets processed_at once and reports whether this call set it.
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecordError(ctx context.Context, id uuid.UUID, msg string) error
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

func (r *repository) InsertIfAbsent(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event).Error
}

func (r *repository) FindByProviderEvent(ctx context.Context, provider enums.PaymentProvider, providerEventID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]any{"processed_at": at.UTC(), "process_error": nil})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) RecordError(ctx context.Context, id uuid.UUID, msg string) error {
	if len(msg) > maxProcessErrorLen {
		msg = msg[:maxProcessErrorLen]
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("process_error", msg).Error
}
