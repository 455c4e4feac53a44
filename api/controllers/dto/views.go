package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

type PrintJob struct {
	ID          uuid.UUID            `json:"id"`
	TenantID    uuid.UUID            `json:"tenant_id"`
	Payload     json.RawMessage      `json:"payload"`
	Status      enums.PrintJobStatus `json:"status"`
	Attempts    int                  `json:"attempts"`
	MaxAttempts int                  `json:"max_attempts"`
	AvailableAt time.Time            `json:"available_at"`
	ClaimedBy   *uuid.UUID           `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time           `json:"claimed_at,omitempty"`
	PrintedAt   *time.Time           `json:"printed_at,omitempty"`
	LastError   *string              `json:"last_error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func FromPrintJob(job models.PrintJob) PrintJob {
	return PrintJob{
		ID:          job.ID,
		TenantID:    job.TenantID,
		Payload:     json.RawMessage(job.Payload),
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		AvailableAt: job.AvailableAt,
		ClaimedBy:   job.ClaimedBy,
		ClaimedAt:   job.ClaimedAt,
		PrintedAt:   job.PrintedAt,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
	}
}

func FromPrintJobs(jobs []models.PrintJob) []PrintJob {
	out := make([]PrintJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromPrintJob(job))
	}
	return out
}

type PayoutJob struct {
	ID               uuid.UUID             `json:"id"`
	SettlementID     uuid.UUID             `json:"settlement_id"`
	Status           enums.PayoutJobStatus `json:"status"`
	Attempts         int                   `json:"attempts"`
	MaxAttempts      int                   `json:"max_attempts"`
	NextAttemptAt    time.Time             `json:"next_attempt_at"`
	LastError        *string               `json:"last_error,omitempty"`
	DiscrepancyCents *int64                `json:"discrepancy_cents,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

func FromPayoutJob(job *models.PayoutJob) *PayoutJob {
	if job == nil {
		return nil
	}
	return &PayoutJob{
		ID:               job.ID,
		SettlementID:     job.SettlementID,
		Status:           job.Status,
		Attempts:         job.Attempts,
		MaxAttempts:      job.MaxAttempts,
		NextAttemptAt:    job.NextAttemptAt,
		LastError:        job.LastError,
		DiscrepancyCents: job.DiscrepancyCents,
		CompletedAt:      job.CompletedAt,
	}
}

type Settlement struct {
	ID                    uuid.UUID              `json:"id"`
	PartnerID             uuid.UUID              `json:"partner_id"`
	PeriodStart           time.Time              `json:"period_start"`
	PeriodEnd             time.Time              `json:"period_end"`
	CalculatedAmountCents int64                  `json:"calculated_amount_cents"`
	LedgerAmountCents     *int64                 `json:"ledger_amount_cents,omitempty"`
	ReserveHeldCents      int64                  `json:"reserve_held_cents"`
	ChargebackWindowEnd   time.Time              `json:"chargeback_window_end"`
	ReserveCutoffAt       time.Time              `json:"reserve_cutoff_at"`
	Status                enums.SettlementStatus `json:"status"`
}

func FromSettlement(s *models.Settlement) *Settlement {
	if s == nil {
		return nil
	}
	return &Settlement{
		ID:                    s.ID,
		PartnerID:             s.PartnerID,
		PeriodStart:           s.PeriodStart,
		PeriodEnd:             s.PeriodEnd,
		CalculatedAmountCents: s.CalculatedAmountCents,
		LedgerAmountCents:     s.LedgerAmountCents,
		ReserveHeldCents:      s.ReserveHeldCents,
		ChargebackWindowEnd:   s.ChargebackWindowEnd,
		ReserveCutoffAt:       s.ReserveCutoffAt,
		Status:                s.Status,
	}
}

type Invoice struct {
	ID              uuid.UUID              `json:"id"`
	PartnerID       uuid.UUID              `json:"partner_id"`
	Period          string                 `json:"period"`
	AmountCents     int64                  `json:"amount_cents"`
	Status          enums.InvoiceStatus    `json:"status"`
	GatewayProvider *enums.PaymentProvider `json:"gateway_provider,omitempty"`
	GatewayChargeID *string                `json:"gateway_charge_id,omitempty"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
}

func FromInvoice(inv *models.Invoice) *Invoice {
	if inv == nil {
		return nil
	}
	return &Invoice{
		ID:              inv.ID,
		PartnerID:       inv.PartnerID,
		Period:          inv.Period,
		AmountCents:     inv.AmountCents,
		Status:          inv.Status,
		GatewayProvider: inv.GatewayProvider,
		GatewayChargeID: inv.GatewayChargeID,
		PaidAt:          inv.PaidAt,
	}
}

type AddonSubscription struct {
	ID          uuid.UUID         `json:"id"`
	TenantID    uuid.UUID         `json:"tenant_id"`
	ModuleID    uuid.UUID         `json:"module_id"`
	Status      enums.AddonStatus `json:"status"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	TrialEndsAt *time.Time        `json:"trial_ends_at,omitempty"`
}

func FromAddonSubscription(sub *models.AddonSubscription) *AddonSubscription {
	if sub == nil {
		return nil
	}
	return &AddonSubscription{
		ID:          sub.ID,
		TenantID:    sub.TenantID,
		ModuleID:    sub.ModuleID,
		Status:      sub.Status,
		ExpiresAt:   sub.ExpiresAt,
		TrialEndsAt: sub.TrialEndsAt,
	}
}

type Device struct {
	ID         uuid.UUID          `json:"id"`
	TenantID   uuid.UUID          `json:"tenant_id"`
	Name       string             `json:"name"`
	Enabled    bool               `json:"enabled"`
	Status     enums.DeviceStatus `json:"status"`
	LastSeenAt *time.Time         `json:"last_seen_at,omitempty"`
}

func FromDevice(d *models.Device) *Device {
	if d == nil {
		return nil
	}
	return &Device{
		ID:         d.ID,
		TenantID:   d.TenantID,
		Name:       d.Name,
		Enabled:    d.Enabled,
		Status:     d.Status,
		LastSeenAt: d.LastSeenAt,
	}
}

// LedgerEntry is one effect with the running balance of its target.
type LedgerEntry struct {
	ID                uuid.UUID             `json:"id"`
	Kind              enums.EffectKind      `json:"kind"`
	Direction         enums.EffectDirection `json:"direction"`
	SignedAmountCents int64                 `json:"signed_amount_cents"`
	BalanceCents      int64                 `json:"balance_cents"`
	ExternalRef       *string               `json:"external_ref,omitempty"`
	SourceType        string                `json:"source_type"`
	SourceID          uuid.UUID             `json:"source_id"`
	OccurredAt        time.Time             `json:"occurred_at"`
}

func FromLedgerEntries(effects []models.TransactionEffect) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(effects))
	var balance int64
	for _, e := range effects {
		balance += e.SignedCents()
		out = append(out, LedgerEntry{
			ID:                e.ID,
			Kind:              e.Kind,
			Direction:         e.Direction,
			SignedAmountCents: e.SignedCents(),
			BalanceCents:      balance,
			ExternalRef:       e.ExternalRef,
			SourceType:        e.SourceType,
			SourceID:          e.SourceID,
			OccurredAt:        e.OccurredAt,
		})
	}
	return out
}

type ReconciliationRecord struct {
	Provider            enums.PaymentProvider      `json:"provider"`
	ProviderPaymentID   string                     `json:"provider_payment_id"`
	Status              enums.ReconciliationStatus `json:"status"`
	ProviderAmountCents *int64                     `json:"provider_amount_cents,omitempty"`
	ExpectedAmountCents *int64                     `json:"expected_amount_cents,omitempty"`
	DifferenceCents     int64                      `json:"difference_cents"`
	CheckedAt           time.Time                  `json:"checked_at"`
}

func FromReconciliationRecord(r *models.ReconciliationRecord) *ReconciliationRecord {
	if r == nil {
		return nil
	}
	return &ReconciliationRecord{
		Provider:            r.Provider,
		ProviderPaymentID:   r.ProviderPaymentID,
		Status:              r.Status,
		ProviderAmountCents: r.ProviderAmountCents,
		ExpectedAmountCents: r.ExpectedAmountCents,
		DifferenceCents:     r.DifferenceCents,
		CheckedAt:           r.CheckedAt,
	}
}

type DeadLetter struct {
	EventID       uuid.UUID                  `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   uuid.UUID                  `json:"aggregate_id"`
	Reason        enums.OutboxDLQErrorReason `json:"reason"`
	Message       *string                    `json:"message,omitempty"`
	Attempts      int                        `json:"attempts"`
	FailedAt      time.Time                  `json:"failed_at"`
}

func FromDeadLetters(rows []models.OutboxDLQ) []DeadLetter {
	out := make([]DeadLetter, 0, len(rows))
	for _, row := range rows {
		out = append(out, DeadLetter{
			EventID:       row.EventID,
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			Reason:        row.ErrorReason,
			Message:       row.ErrorMessage,
			Attempts:      row.AttemptCount,
			FailedAt:      row.FailedAt,
		})
	}
	return out
}
