package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

// IntegrityResult compares a settlement with the partner ledger.
type IntegrityResult struct {
	IsValid            bool      `json:"is_valid"`
	CalculatedCents    int64     `json:"calculated_amount_cents"`
	LedgerAmountCents  int64     `json:"ledger_amount_cents"`
	ReserveHeldCents   int64     `json:"reserve_held_cents"`
	DiscrepancyCents   int64     `json:"discrepancy_cents"`
	ChargebackWindowTo time.Time `json:"chargeback_window_to"`
}

// RunIntegrityCheck recomputes the partner balance for the settlement period
// from the ledger. Effects after the settlement's reserve cutoff are held back
// as reserve. Any difference from the calculated amount fails the check. The
// ledger and reserve figures are stored on the settlement.
func (s *Service) RunIntegrityCheck(ctx context.Context, settlement *models.Settlement, now time.Time) (IntegrityResult, error) {
	if settlement == nil {
		return IntegrityResult{}, pkgerrors.New(pkgerrors.CodeValidation, "settlement required")
	}
	heldAfter := settlement.ReserveCutoffAt.UTC()
	if settlement.ReserveCutoffAt.IsZero() {
		heldAfter = now.UTC().Add(-s.chargebackWindow)
	}
	balance, err := s.ledger.PartnerBalance(ctx, settlement.PartnerID, settlement.PeriodStart, settlement.PeriodEnd, heldAfter)
	if err != nil {
		return IntegrityResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum partner ledger")
	}
	result := IntegrityResult{
		CalculatedCents:    settlement.CalculatedAmountCents,
		LedgerAmountCents:  balance.SettledCents,
		ReserveHeldCents:   balance.HeldCents,
		DiscrepancyCents:   settlement.CalculatedAmountCents - balance.SettledCents,
		ChargebackWindowTo: heldAfter,
	}
	result.IsValid = result.DiscrepancyCents == 0

	if err := s.repo.SaveIntegrity(ctx, settlement.ID, result.LedgerAmountCents, result.ReserveHeldCents); err != nil {
		return IntegrityResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store integrity result")
	}
	ledgerCents := result.LedgerAmountCents
	settlement.LedgerAmountCents = &ledgerCents
	settlement.ReserveHeldCents = result.ReserveHeldCents
	return result, nil
}

// CheckSettlement loads the settlement and runs the integrity check without
// touching its payout job.
func (s *Service) CheckSettlement(ctx context.Context, settlementID uuid.UUID) (IntegrityResult, error) {
	settlement, err := s.repo.FindSettlement(ctx, settlementID)
	if err != nil {
		return IntegrityResult{}, notFound(err, "settlement not found")
	}
	return s.RunIntegrityCheck(ctx, settlement, s.now())
}
