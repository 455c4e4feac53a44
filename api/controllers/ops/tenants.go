package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type TrialStarter interface {
	StartModuleTrial(ctx context.Context, tenantID, moduleID uuid.UUID, now time.Time) (*models.AddonSubscription, error)
}

func StartModuleTrial(svc TrialStarter, now func() time.Time, logg *logger.Logger) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := validators.ParseUUIDParam(r, "tenantID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.StartModuleTrial(r.Context(), tenantID, moduleID, now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.FromAddonSubscription(sub))
	}
}
