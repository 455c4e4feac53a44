package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type deviceAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Device, error)
}

// DeviceAuth resolves the bearer device token to an enabled device.
func DeviceAuth(auth deviceAuthenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing device token"))
				return
			}
			device, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithDevice(r.Context(), device)
			if logg != nil {
				ctx = logg.WithDeviceID(ctx, device.ID.String())
				ctx = logg.WithTenantID(ctx, device.TenantID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
