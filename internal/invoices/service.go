package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox/payloads"
)

// PeriodLayout is the month format invoices are keyed on.
const PeriodLayout = "2006-01"

type gatewayLookup interface {
	Get(provider string) (gateways.Gateway, bool)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo              Repository
	Gateways          gatewayLookup
	Provider          string
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

type Service struct {
	repo     Repository
	gateways gatewayLookup
	provider string
	outbox   outbox.Emitter
	txRunner txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice repository required")
	case params.Gateways == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	svc := &Service{
		repo:     params.Repo,
		gateways: params.Gateways,
		provider: strings.TrimSpace(params.Provider),
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		now:      params.Now,
	}
	if svc.provider == "" {
		svc.provider = string(enums.ProviderAsaas)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// ParsePeriod validates a YYYY-MM period and returns its first instant.
func ParsePeriod(period string) (time.Time, error) {
	start, err := time.Parse(PeriodLayout, strings.TrimSpace(period))
	if err != nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "period must be YYYY-MM")
	}
	return start.UTC(), nil
}

// PreviousPeriod is the month before the one containing now.
func PreviousPeriod(now time.Time) string {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format(PeriodLayout)
}

// Generate creates the partner's invoice for period. An invoice that already
// exists is returned as is, with its amount refreshed while still open.
func (s *Service) Generate(ctx context.Context, partnerID uuid.UUID, period string) (*models.Invoice, error) {
	start, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	period = start.Format(PeriodLayout)
	if _, err := s.repo.FindPartner(ctx, partnerID); err != nil {
		return nil, notFound(err, "partner not found")
	}
	amount, err := s.repo.SumBillablePlans(ctx, partnerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum billable plans")
	}

	invoice := &models.Invoice{
		PartnerID:   partnerID,
		Period:      period,
		AmountCents: amount,
		Status:      enums.InvoiceStatusOpen,
	}
	if err := s.repo.InsertIfAbsent(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
	}
	stored, err := s.repo.FindByPeriod(ctx, partnerID, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if stored.Status == enums.InvoiceStatusOpen && stored.AmountCents != amount {
		if _, err := s.repo.UpdateInStatus(ctx, stored.ID, []enums.InvoiceStatus{enums.InvoiceStatusOpen}, map[string]any{
			"amount_cents": amount,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh invoice amount")
		}
		stored.AmountCents = amount
	}
	return stored, nil
}

// Charge bills an open invoice through the configured gateway. Charging an
// invoice that was already charged returns it unchanged.
func (s *Service) Charge(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	ctx = s.logg.WithField(ctx, "invoice_id", invoiceID.String())
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, notFound(err, "invoice not found")
	}
	switch invoice.Status {
	case enums.InvoiceStatusCharged:
		return invoice, nil
	case enums.InvoiceStatusPaid:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice already paid")
	}
	if invoice.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice has nothing to charge")
	}
	partner, err := s.repo.FindPartner(ctx, invoice.PartnerID)
	if err != nil {
		return nil, notFound(err, "partner not found")
	}
	if partner.GatewayCustomerID == nil || strings.TrimSpace(*partner.GatewayCustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner has no gateway customer")
	}
	gw, ok := s.gateways.Get(s.provider)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing gateway not configured")
	}

	start, err := ParsePeriod(invoice.Period)
	if err != nil {
		return nil, err
	}
	charge, err := gw.CreateCharge(ctx, gateways.ChargeRequest{
		IdempotencyKey: "invoice:" + invoice.ID.String(),
		CustomerID:     *partner.GatewayCustomerID,
		AmountCents:    invoice.AmountCents,
		Description:    fmt.Sprintf("Invoice %s", invoice.Period),
		Reference:      invoice.ID.String(),
		DueDate:        start.AddDate(0, 1, 9).Format("2006-01-02"),
	})
	if err != nil {
		s.logg.Error(ctx, "failed to create invoice charge", err)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gateway charge")
	}

	provider := gw.Name()
	chargeID := charge.ChargeID
	ok, err = s.repo.UpdateInStatus(ctx, invoice.ID, []enums.InvoiceStatus{enums.InvoiceStatusOpen}, map[string]any{
		"status":            enums.InvoiceStatusCharged,
		"gateway_provider":  provider,
		"gateway_charge_id": chargeID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store invoice charge")
	}
	if !ok {
		return s.repo.FindByID(ctx, invoice.ID)
	}
	invoice.Status = enums.InvoiceStatusCharged
	invoice.GatewayProvider = &provider
	invoice.GatewayChargeID = &chargeID
	s.logg.Info(s.logg.WithField(ctx, "charge_id", chargeID), "invoice charged")
	return invoice, nil
}

// MarkPaid settles the invoice and emits invoice_paid. It is idempotent.
func (s *Service) MarkPaid(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, notFound(err, "invoice not found")
	}
	if invoice.Status == enums.InvoiceStatusPaid {
		return invoice, nil
	}
	paidAt := s.now().UTC()
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateInStatus(ctx, invoice.ID,
			[]enums.InvoiceStatus{enums.InvoiceStatusOpen, enums.InvoiceStatusCharged},
			map[string]any{"status": enums.InvoiceStatusPaid, "paid_at": paidAt})
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyPaid
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoicePaid,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			OccurredAt:    paidAt,
			Data: payloads.InvoicePaidEvent{
				InvoiceID:   invoice.ID,
				PartnerID:   invoice.PartnerID,
				Period:      invoice.Period,
				AmountCents: invoice.AmountCents,
				PaidAt:      paidAt,
			},
		})
	})
	if errors.Is(err, errAlreadyPaid) {
		return s.repo.FindByID(ctx, invoice.ID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark invoice paid")
	}
	invoice.Status = enums.InvoiceStatusPaid
	invoice.PaidAt = &paidAt
	return invoice, nil
}

var errAlreadyPaid = errors.New("invoice already paid")

// BillingReport counts what a monthly billing run did.
type BillingReport struct {
	Period    string `json:"period"`
	Generated int    `json:"generated"`
	Charged   int    `json:"charged"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// RunMonthlyBilling generates and charges an invoice for every partner. One
// partner failing does not stop the others; all failures are returned together.
func (s *Service) RunMonthlyBilling(ctx context.Context, period string) (BillingReport, error) {
	start, err := ParsePeriod(period)
	if err != nil {
		return BillingReport{}, err
	}
	report := BillingReport{Period: start.Format(PeriodLayout)}
	partners, err := s.repo.ListPartners(ctx)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list partners")
	}

	var errs error
	for _, partner := range partners {
		pctx := s.logg.WithField(ctx, "partner_id", partner.ID.String())
		invoice, err := s.Generate(pctx, partner.ID, report.Period)
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("partner %s: %w", partner.ID, err))
			continue
		}
		report.Generated++
		if invoice.Status != enums.InvoiceStatusOpen || invoice.AmountCents == 0 || partner.GatewayCustomerID == nil {
			report.Skipped++
			continue
		}
		if _, err := s.Charge(pctx, invoice.ID); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			continue
		}
		report.Charged++
	}
	if errs != nil {
		s.logg.Error(ctx, "monthly billing finished with errors", errs)
		return report, errs
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"period":    report.Period,
		"generated": report.Generated,
		"charged":   report.Charged,
	}), "monthly billing finished")
	return report, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "invoice not found")
	}
	return invoice, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
