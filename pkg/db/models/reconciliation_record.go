package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// ReconciliationRecord is the latest comparison of one gateway payment with the ledger.
type ReconciliationRecord struct {
	ID                  uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	Provider            enums.PaymentProvider      `gorm:"column:provider;type:payment_provider;not null;uniqueIndex:ux_reconciliation_records_provider_payment"`
	ProviderPaymentID   string                     `gorm:"column:provider_payment_id;not null;uniqueIndex:ux_reconciliation_records_provider_payment"`
	Status              enums.ReconciliationStatus `gorm:"column:status;type:reconciliation_status;not null"`
	ProviderAmountCents *int64                     `gorm:"column:provider_amount_cents"`
	ExpectedAmountCents *int64                     `gorm:"column:expected_amount_cents"`
	DifferenceCents     int64                      `gorm:"column:difference_cents;not null;default:0"`
	CheckedAt           time.Time                  `gorm:"column:checked_at;not null"`
}

func (r *ReconciliationRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
