package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/internal/payouts"
	"github.com/angelmondragon/backoffice-payments/internal/settlements"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type SettlementService interface {
	Finalize(ctx context.Context, partnerID uuid.UUID, periodStart, periodEnd time.Time) (*settlements.Finalized, error)
}

type IntegrityChecker interface {
	CheckSettlement(ctx context.Context, settlementID uuid.UUID) (payouts.IntegrityResult, error)
}

type finalizeRequest struct {
	PartnerID   string    `json:"partner_id" validate:"required,uuid"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required"`
}

type finalizeResponse struct {
	Settlement *dto.Settlement `json:"settlement"`
	PayoutJob  *dto.PayoutJob  `json:"payout_job"`
}

// FinalizeSettlement stores the partner settlement for the period and queues
// its payout.
func FinalizeSettlement(svc SettlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req finalizeRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !req.PeriodEnd.After(req.PeriodStart) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "period_end must be after period_start"))
			return
		}
		out, err := svc.Finalize(r.Context(), uuid.MustParse(req.PartnerID), req.PeriodStart, req.PeriodEnd)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, finalizeResponse{
			Settlement: dto.FromSettlement(out.Settlement),
			PayoutJob:  dto.FromPayoutJob(out.PayoutJob),
		})
	}
}

// SettlementIntegrity previews the integrity gate for a settlement without
// moving money.
func SettlementIntegrity(svc IntegrityChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CheckSettlement(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
