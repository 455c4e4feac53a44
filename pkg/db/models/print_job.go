package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/backoffice-payments/pkg/db/types"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// PrintJob is one unit of work in the device queue.
type PrintJob struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index"`
	Payload     dbtypes.JSONB        `gorm:"column:payload;type:jsonb;not null"`
	Status      enums.PrintJobStatus `gorm:"column:status;type:print_job_status;not null"`
	Attempts    int                  `gorm:"column:attempts;not null;default:0"`
	MaxAttempts int                  `gorm:"column:max_attempts;not null;default:3"`
	AvailableAt time.Time            `gorm:"column:available_at;not null"`
	ClaimedBy   *uuid.UUID           `gorm:"column:claimed_by;type:uuid"`
	ClaimedAt   *time.Time           `gorm:"column:claimed_at"`
	PrintedAt   *time.Time           `gorm:"column:printed_at"`
	LastError   *string              `gorm:"column:last_error"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *PrintJob) BeforeCreate(*gorm.DB) error {
	ensureID(&j.ID)
	return nil
}
