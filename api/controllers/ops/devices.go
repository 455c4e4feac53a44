package ops

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/internal/devices"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, tenantID uuid.UUID, name string) (*devices.Registration, error)
}

type registerDeviceRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
	Name     string `json:"name" validate:"required,max=120"`
}

type registerDeviceResponse struct {
	Device *dto.Device `json:"device"`
	Token  string      `json:"token"`
}

// RegisterDevice creates a device and returns its token. The token is only
// shown in this response.
func RegisterDevice(svc DeviceRegistrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerDeviceRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reg, err := svc.RegisterDevice(r.Context(), uuid.MustParse(req.TenantID), req.Name)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccessStatus(w, http.StatusCreated, registerDeviceResponse{
			Device: dto.FromDevice(reg.Device),
			Token:  reg.Token,
		})
	}
}
