package ops

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/backoffice-payments/api/controllers/dto"
	"github.com/angelmondragon/backoffice-payments/api/responses"
	"github.com/angelmondragon/backoffice-payments/api/validators"
	"github.com/angelmondragon/backoffice-payments/internal/invoices"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

// InvoiceService is the invoice lifecycle exposed to operators.
type InvoiceService interface {
	Generate(ctx context.Context, partnerID uuid.UUID, period string) (*models.Invoice, error)
	Charge(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	MarkPaid(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	RunMonthlyBilling(ctx context.Context, period string) (invoices.BillingReport, error)
}

type generateInvoiceRequest struct {
	PartnerID string `json:"partner_id" validate:"required,uuid"`
	Period    string `json:"period" validate:"required,datetime=2006-01"`
}

type billingRunRequest struct {
	Period string `json:"period" validate:"required,datetime=2006-01"`
}

type billingRunResponse struct {
	invoices.BillingReport
	Errors []string `json:"errors,omitempty"`
}

func GenerateInvoice(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateInvoiceRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.Generate(r.Context(), uuid.MustParse(req.PartnerID), req.Period)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.FromInvoice(invoice))
	}
}

func ChargeInvoice(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return invoiceAction(svc.Charge, logg)
}

func MarkInvoicePaid(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return invoiceAction(svc.MarkPaid, logg)
}

func invoiceAction(action func(context.Context, uuid.UUID) (*models.Invoice, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := action(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.FromInvoice(invoice))
	}
}

// RunBilling bills every partner for the period. Per-partner failures are
// listed in the report instead of failing the whole request.
func RunBilling(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req billingRunRequest
		if err := validators.DecodeJSONBody(r, &req, false); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.RunMonthlyBilling(r.Context(), req.Period)
		if err != nil && report.Failed == 0 {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := billingRunResponse{BillingReport: report}
		for _, e := range multierr.Errors(err) {
			out.Errors = append(out.Errors, e.Error())
		}
		responses.WriteSuccess(w, out)
	}
}
