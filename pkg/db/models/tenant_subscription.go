package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// TenantSubscription holds the single plan entitlement of a tenant.
type TenantSubscription struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID            uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_tenant_subscriptions_tenant"`
	PlanID              uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status              enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	PeriodStart         time.Time                `gorm:"column:period_start;not null"`
	PeriodEnd           time.Time                `gorm:"column:period_end;not null"`
	LastPaymentMethod   *enums.PaymentMethod     `gorm:"column:last_payment_method"`
	LastPaymentProvider *enums.PaymentProvider   `gorm:"column:last_payment_provider"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *TenantSubscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
