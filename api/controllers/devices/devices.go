package devices

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/middleware"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/internal/printjobs"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

// PrintQueue is the device-facing slice of the print job service.
type PrintQueue interface {
	Claim(ctx context.Context, tenantID, deviceID uuid.UUID, limit int) ([]models.PrintJob, error)
	Ack(ctx context.Context, deviceID, jobID uuid.UUID, status printjobs.AckStatus, errMsg string) error
	Diagnostic(ctx context.Context, device *models.Device) (*printjobs.Diagnostic, error)
}

type claimRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=20"`
}

type claimResponse struct {
	Jobs []dto.PrintJob `json:"jobs"`
}

type ackRequest struct {
	Status string `json:"status" validate:"required,oneof=printing printed failed"`
	Error  string `json:"error" validate:"max=1024"`
}

func currentDevice(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (*models.Device, bool) {
	device := middleware.DeviceFromContext(r.Context())
	if device == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "device authentication required"))
		return nil, false
	}
	return device, true
}

// Claim leases up to limit queued jobs of the device's tenant.
func Claim(svc PrintQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := currentDevice(w, r, logg)
		if !ok {
			return
		}
		var req claimRequest
		if err := validators.DecodeJSONBody(r, &req, true); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.Limit == 0 {
			req.Limit = printjobs.DefaultClaimLimit
		}

		jobs, err := svc.Claim(r.Context(), device.TenantID, device.ID, req.Limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, claimResponse{Jobs: dto.FromPrintJobs(jobs)})
	}
}

// Ack records progress on a job the device holds.
func Ack(svc PrintQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := currentDevice(w, r, logg)
		if !ok {
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req ackRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := printjobs.ParseAckStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Ack(r.Context(), device.ID, jobID, status, req.Error); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"ok": true})
	}
}

func Diagnostic(svc PrintQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := currentDevice(w, r, logg)
		if !ok {
			return
		}
		diag, err := svc.Diagnostic(r.Context(), device)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, diag)
	}
}
