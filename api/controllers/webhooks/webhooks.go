package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/backoffice-payments/api/responses"
	webhooksvc "github.com/angelmondragon/backoffice-payments/internal/webhooks"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

const maxPayloadBytes = 1 << 20

// PaymentWebhookService is the ingestion entry point behind the webhook route.
type PaymentWebhookService interface {
	Handle(ctx context.Context, provider string, headers http.Header, body []byte) (webhooksvc.Result, error)
}

// PaymentWebhook acknowledges every well-formed delivery with 200 so gateways do
// not retry events that were rejected on purpose. Only an unknown provider or a
// body that is not JSON is answered with a 4xx.
func PaymentWebhook(svc PaymentWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, provider, r.Header, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
