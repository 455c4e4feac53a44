package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// TransactionEffect is one append-only ledger entry. Rows are never updated or
// deleted; corrections are offsetting entries.
type TransactionEffect struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SourceType       string                 `gorm:"column:source_type;not null"`
	SourceID         uuid.UUID              `gorm:"column:source_id;type:uuid;not null"`
	TargetType       enums.EffectTargetType `gorm:"column:target_type;type:effect_target_type;not null"`
	TargetID         uuid.UUID              `gorm:"column:target_id;type:uuid;not null"`
	Direction        enums.EffectDirection  `gorm:"column:direction;type:effect_direction;not null"`
	Kind             enums.EffectKind       `gorm:"column:kind;type:effect_kind;not null"`
	AmountCents      int64                  `gorm:"column:amount_cents;not null"`
	ExternalProvider *enums.PaymentProvider `gorm:"column:external_provider"`
	ExternalRef      *string                `gorm:"column:external_ref"`
	IdempotencyKey   string                 `gorm:"column:idempotency_key;not null;uniqueIndex:ux_transaction_effects_idempotency"`
	OccurredAt       time.Time              `gorm:"column:occurred_at;not null"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (e *TransactionEffect) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// SignedCents returns the amount with debits negated.
func (e TransactionEffect) SignedCents() int64 {
	if e.Direction == enums.EffectDirectionDebit {
		return -e.AmountCents
	}
	return e.AmountCents
}
