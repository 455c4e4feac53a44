package ops

import (
	"context"
	"net/http"

	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/internal/reconciliation"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type Reconciler interface {
	Run(ctx context.Context, provider string, paymentIDs []string) (reconciliation.Report, error)
}

type reconciliationRequest struct {
	Provider   string   `json:"provider" validate:"required"`
	PaymentIDs []string `json:"payment_ids" validate:"max=500,dive,required"`
}

// RunReconciliation checks the given payments, or the lookback window when
// none are given, against the provider.
func RunReconciliation(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reconciliationRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Run(r.Context(), req.Provider, req.PaymentIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
