package settlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/ledger"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type payoutEnqueuer interface {
	Enqueue(ctx context.Context, settlementID uuid.UUID) (*models.PayoutJob, error)
}

type ServiceParams struct {
	Repo             Repository
	Payouts          payoutEnqueuer
	Logger           *logger.Logger
	ChargebackWindow time.Duration
	Now              func() time.Time
}

type Service struct {
	repo             Repository
	payouts          payoutEnqueuer
	logg             *logger.Logger
	chargebackWindow time.Duration
	now              func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement repository required")
	}
	if params.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.ChargebackWindow <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "chargeback window required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:             params.Repo,
		payouts:          params.Payouts,
		logg:             params.Logger,
		chargebackWindow: params.ChargebackWindow,
		now:              now,
	}, nil
}

// Finalized is a settlement together with its payout job.
type Finalized struct {
	Settlement *models.Settlement `json:"settlement"`
	PayoutJob  *models.PayoutJob  `json:"payout_job"`
}

// Finalize computes what the partner earned in [periodStart, periodEnd) from
// processed payment events, stores it and queues the payout. Payments younger
// than the chargeback window are left out; the cutoff is stored so the payout
// integrity gate compares against the same set. Finalizing the same period again
// recomputes the amount until the payout has started.
func (s *Service) Finalize(ctx context.Context, partnerID uuid.UUID, periodStart, periodEnd time.Time) (*Finalized, error) {
	periodStart, periodEnd = periodStart.UTC(), periodEnd.UTC()
	if !periodEnd.After(periodStart) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period_end must be after period_start")
	}
	ctx = s.logg.WithField(ctx, "partner_id", partnerID.String())

	partner, err := s.repo.FindPartner(ctx, partnerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "partner not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load partner")
	}

	existing, err := s.repo.FindByPeriod(ctx, partnerID, periodStart, periodEnd)
	switch {
	case err == nil:
		started, err := s.repo.PayoutStarted(ctx, existing.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payout state")
		}
		if started {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "settlement payout already started").
				WithDetails(map[string]any{"settlement_id": existing.ID})
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}

	now := s.now().UTC()
	cutoff := now.Add(-s.chargebackWindow)
	amounts, err := s.repo.ListSettledPayments(ctx, partnerID, periodStart, periodEnd, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list partner payments")
	}
	var calculated int64
	for _, amount := range amounts {
		calculated += ledger.Commission(amount, partner.CommissionBps)
	}

	settlement, err := s.repo.Upsert(ctx, &models.Settlement{
		PartnerID:             partnerID,
		PeriodStart:           periodStart,
		PeriodEnd:             periodEnd,
		CalculatedAmountCents: calculated,
		ChargebackWindowEnd:   periodEnd.Add(s.chargebackWindow),
		ReserveCutoffAt:       cutoff,
		Status:                enums.SettlementStatusFinalized,
		UpdatedAt:             now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store settlement")
	}
	ctx = s.logg.WithField(ctx, "settlement_id", settlement.ID.String())

	job, err := s.payouts.Enqueue(ctx, settlement.ID)
	if err != nil {
		s.logg.Error(ctx, "failed to enqueue payout", err)
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"calculated_amount_cents": calculated,
		"payments":                len(amounts),
		"payout_job_id":           job.ID.String(),
	}), "settlement finalized")
	return &Finalized{Settlement: settlement, PayoutJob: job}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	settlement, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}
	return settlement, nil
}
