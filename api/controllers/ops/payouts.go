package ops

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type PayoutProcessor interface {
	Process(ctx context.Context, jobID uuid.UUID) (*models.PayoutJob, error)
}

// ProcessPayout runs one payout job now: integrity gate first, then transfer.
func ProcessPayout(svc PayoutProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := svc.Process(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.FromPayoutJob(job))
	}
}
