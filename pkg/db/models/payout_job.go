package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// PayoutJob is the single transfer attempt record for a settlement.
type PayoutJob struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SettlementID     uuid.UUID             `gorm:"column:settlement_id;type:uuid;not null;uniqueIndex:ux_payout_jobs_settlement"`
	Status           enums.PayoutJobStatus `gorm:"column:status;type:payout_job_status;not null"`
	Attempts         int                   `gorm:"column:attempts;not null;default:0"`
	MaxAttempts      int                   `gorm:"column:max_attempts;not null;default:5"`
	NextAttemptAt    time.Time             `gorm:"column:next_attempt_at;not null"`
	LastError        *string               `gorm:"column:last_error"`
	DiscrepancyCents *int64                `gorm:"column:discrepancy_cents"`
	CompletedAt      *time.Time            `gorm:"column:completed_at"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *PayoutJob) BeforeCreate(*gorm.DB) error {
	ensureID(&j.ID)
	return nil
}

// Transfer records the gateway side of a completed payout.
type Transfer struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PayoutJobID        uuid.UUID             `gorm:"column:payout_job_id;type:uuid;not null;uniqueIndex:ux_transfers_payout_job"`
	Provider           enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null"`
	ProviderTransferID string                `gorm:"column:provider_transfer_id;not null"`
	AmountCents        int64                 `gorm:"column:amount_cents;not null"`
	Status             string                `gorm:"column:status;not null"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transfer) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
