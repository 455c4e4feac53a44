package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Settlement is the payable amount owed to a partner for a period.
// CalculatedAmountCents comes from payment events; LedgerAmountCents is
// recomputed from transaction effects by the integrity gate. ReserveCutoffAt
// is fixed at finalize time: payments received after it are held as reserve.
type Settlement struct {
	ID                    uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	PartnerID             uuid.UUID              `gorm:"column:partner_id;type:uuid;not null;uniqueIndex:ux_settlements_partner_period"`
	PeriodStart           time.Time              `gorm:"column:period_start;not null;uniqueIndex:ux_settlements_partner_period"`
	PeriodEnd             time.Time              `gorm:"column:period_end;not null;uniqueIndex:ux_settlements_partner_period"`
	CalculatedAmountCents int64                  `gorm:"column:calculated_amount_cents;not null"`
	LedgerAmountCents     *int64                 `gorm:"column:ledger_amount_cents"`
	ReserveHeldCents      int64                  `gorm:"column:reserve_held_cents;not null;default:0"`
	ChargebackWindowEnd   time.Time              `gorm:"column:chargeback_window_end;not null"`
	ReserveCutoffAt       time.Time              `gorm:"column:reserve_cutoff_at;not null"`
	Status                enums.SettlementStatus `gorm:"column:status;type:settlement_status;not null"`
	CreatedAt             time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Settlement) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
