package ops

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type PrintJobProducer interface {
	Enqueue(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage, maxAttempts int) (*models.PrintJob, error)
}

type enqueueRequest struct {
	TenantID    string          `json:"tenant_id" validate:"required,uuid"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	MaxAttempts int             `json:"max_attempts" validate:"gte=0,lte=20"`
}

func EnqueuePrintJob(svc PrintJobProducer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := svc.Enqueue(r.Context(), uuid.MustParse(req.TenantID), req.Payload, req.MaxAttempts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.FromPrintJob(*job))
	}
}
