package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// PaymentProcessedEvent is emitted once a payment event activated its target.
type PaymentProcessedEvent struct {
	PaymentEventID uuid.UUID             `json:"payment_event_id"`
	Provider       enums.PaymentProvider `json:"provider"`
	EventType      string                `json:"event_type"`
	TenantID       *uuid.UUID            `json:"tenant_id,omitempty"`
	TargetKind     string                `json:"target_kind"`
	TargetID       uuid.UUID             `json:"target_id"`
	AmountCents    int64                 `json:"amount_cents"`
	PeriodEnd      time.Time             `json:"period_end"`
}

// PaymentProcessingFailedEvent is emitted when activation of a payment event fails.
type PaymentProcessingFailedEvent struct {
	PaymentEventID uuid.UUID             `json:"payment_event_id"`
	Provider       enums.PaymentProvider `json:"provider"`
	EventType      string                `json:"event_type"`
	Reason         string                `json:"reason"`
}

// PayoutCompletedEvent is emitted after the transfer for a settlement succeeded.
type PayoutCompletedEvent struct {
	PayoutJobID        uuid.UUID             `json:"payout_job_id"`
	SettlementID       uuid.UUID             `json:"settlement_id"`
	PartnerID          uuid.UUID             `json:"partner_id"`
	Provider           enums.PaymentProvider `json:"provider"`
	ProviderTransferID string                `json:"provider_transfer_id"`
	AmountCents        int64                 `json:"amount_cents"`
}

// PayoutFailedEvent is emitted when a payout job reaches a terminal failure.
type PayoutFailedEvent struct {
	PayoutJobID      uuid.UUID `json:"payout_job_id"`
	SettlementID     uuid.UUID `json:"settlement_id"`
	Attempts         int       `json:"attempts"`
	Reason           string    `json:"reason"`
	DiscrepancyCents *int64    `json:"discrepancy_cents,omitempty"`
}

// InvoicePaidEvent is emitted when a partner invoice is settled.
type InvoicePaidEvent struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	PartnerID   uuid.UUID `json:"partner_id"`
	Period      string    `json:"period"`
	AmountCents int64     `json:"amount_cents"`
	PaidAt      time.Time `json:"paid_at"`
}
