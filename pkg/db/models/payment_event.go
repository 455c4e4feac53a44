package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/backoffice-payments/pkg/db/types"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// PaymentEvent is the immutable receipt of one gateway notification. Only the
// processing outcome columns change after insert.
type PaymentEvent struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Provider          enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID   string                `gorm:"column:provider_event_id;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType         string                `gorm:"column:event_type;not null"`
	ProviderPaymentID *string               `gorm:"column:provider_payment_id"`
	TenantID          *uuid.UUID            `gorm:"column:tenant_id;type:uuid"`
	AmountCents       int64                 `gorm:"column:amount_cents;not null;default:0"`
	RawPayload        dbtypes.JSONB         `gorm:"column:raw_payload;type:jsonb;not null"`
	ReceivedAt        time.Time             `gorm:"column:received_at;not null"`
	ProcessedAt       *time.Time            `gorm:"column:processed_at"`
	ProcessError      *string               `gorm:"column:process_error"`
}

func (e *PaymentEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
