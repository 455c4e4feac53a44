package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is a customer organization. Tenants are managed outside the payment
// pipeline; the core only reads them.
type Tenant struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID   uuid.UUID  `gorm:"column:owner_id;type:uuid;not null;index"`
	PartnerID *uuid.UUID `gorm:"column:partner_id;type:uuid;index"`
	Name      string     `gorm:"column:name;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (t *Tenant) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// Partner resells the platform and earns a commission on tenant payments.
type Partner struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name              string    `gorm:"column:name;not null"`
	CommissionBps     int64     `gorm:"column:commission_bps;not null;default:0"`
	GatewayCustomerID *string   `gorm:"column:gateway_customer_id"`
	PayoutWalletID    *string   `gorm:"column:payout_wallet_id"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (p *Partner) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
