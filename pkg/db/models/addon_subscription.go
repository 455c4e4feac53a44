package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// AddonSubscription is the entitlement of one tenant to one module.
type AddonSubscription struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID         `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_addon_subscriptions_tenant_module"`
	ModuleID       uuid.UUID         `gorm:"column:module_id;type:uuid;not null;uniqueIndex:ux_addon_subscriptions_tenant_module"`
	Status         enums.AddonStatus `gorm:"column:status;type:addon_status;not null"`
	StartedAt      *time.Time        `gorm:"column:started_at"`
	ExpiresAt      *time.Time        `gorm:"column:expires_at"`
	TrialEndsAt    *time.Time        `gorm:"column:trial_ends_at"`
	IsFree         bool              `gorm:"column:is_free;not null;default:false"`
	PricePaidCents int64             `gorm:"column:price_paid_cents;not null;default:0"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *AddonSubscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
