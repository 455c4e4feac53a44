package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Invoice bills a partner for the plans of its tenants over one month.
type Invoice struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	PartnerID       uuid.UUID              `gorm:"column:partner_id;type:uuid;not null;uniqueIndex:ux_invoices_partner_period"`
	Period          string                 `gorm:"column:period;not null;uniqueIndex:ux_invoices_partner_period"`
	AmountCents     int64                  `gorm:"column:amount_cents;not null"`
	Status          enums.InvoiceStatus    `gorm:"column:status;type:invoice_status;not null"`
	GatewayProvider *enums.PaymentProvider `gorm:"column:gateway_provider"`
	GatewayChargeID *string                `gorm:"column:gateway_charge_id"`
	PaidAt          *time.Time             `gorm:"column:paid_at"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
