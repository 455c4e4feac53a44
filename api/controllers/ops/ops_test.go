package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/backoffice-payments/internal/devices"
	"github.com/angelmondragon/backoffice-payments/internal/invoices"
	"github.com/angelmondragon/backoffice-payments/internal/payouts"
	"github.com/angelmondragon/backoffice-payments/internal/reconciliation"
	"github.com/angelmondragon/backoffice-payments/internal/settlements"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

func do(t *testing.T, method, pattern, path, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

type stubInvoices struct {
	partnerID uuid.UUID
	period    string
	charged   uuid.UUID
	paid      uuid.UUID
	report    invoices.BillingReport
	runErr    error
	err       error
}

func (s *stubInvoices) Generate(ctx context.Context, partnerID uuid.UUID, period string) (*models.Invoice, error) {
	s.partnerID, s.period = partnerID, period
	if s.err != nil {
		return nil, s.err
	}
	return &models.Invoice{ID: uuid.New(), PartnerID: partnerID, Period: period, AmountCents: 4900, Status: enums.InvoiceStatusOpen}, nil
}

func (s *stubInvoices) Charge(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	s.charged = invoiceID
	return &models.Invoice{ID: invoiceID, Status: enums.InvoiceStatusOpen}, s.err
}

func (s *stubInvoices) MarkPaid(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	s.paid = invoiceID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Invoice{ID: invoiceID, Status: enums.InvoiceStatusPaid}, nil
}

func (s *stubInvoices) RunMonthlyBilling(ctx context.Context, period string) (invoices.BillingReport, error) {
	return s.report, s.runErr
}

func TestGenerateInvoice(t *testing.T) {
	svc := &stubInvoices{}
	partnerID := uuid.New()
	resp := do(t, http.MethodPost, "/invoices", "/invoices", fmt.Sprintf(`{"partner_id":%q,"period":"2026-02"}`, partnerID), GenerateInvoice(svc, nil))

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, partnerID, svc.partnerID)
	assert.Equal(t, "2026-02", svc.period)

	var out struct {
		AmountCents int64  `json:"amount_cents"`
		Status      string `json:"status"`
	}
	decodeData(t, resp, &out)
	assert.Equal(t, int64(4900), out.AmountCents)
	assert.Equal(t, string(enums.InvoiceStatusOpen), out.Status)
}

func TestGenerateInvoiceValidatesBody(t *testing.T) {
	for _, body := range []string{`{"partner_id":"x","period":"2026-02"}`, `{"partner_id":"` + uuid.NewString() + `","period":"Feb"}`, `{}`} {
		resp := do(t, http.MethodPost, "/invoices", "/invoices", body, GenerateInvoice(&stubInvoices{}, nil))
		assert.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
}

func TestInvoiceActions(t *testing.T) {
	svc := &stubInvoices{}
	id := uuid.New()

	resp := do(t, http.MethodPost, "/invoices/{id}/charge", "/invoices/"+id.String()+"/charge", "", ChargeInvoice(svc, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, id, svc.charged)

	resp = do(t, http.MethodPost, "/invoices/{id}/mark-paid", "/invoices/"+id.String()+"/mark-paid", "", MarkInvoicePaid(svc, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, id, svc.paid)

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	resp = do(t, http.MethodPost, "/invoices/{id}/mark-paid", "/invoices/"+id.String()+"/mark-paid", "", MarkInvoicePaid(svc, nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, http.MethodPost, "/invoices/{id}/charge", "/invoices/nope/charge", "", ChargeInvoice(svc, nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRunBillingReportsPartialFailures(t *testing.T) {
	svc := &stubInvoices{
		report: invoices.BillingReport{Period: "2026-02", Generated: 2, Charged: 1, Failed: 1},
		runErr: multierr.Append(nil, errors.New("partner a: gateway down")),
	}
	resp := do(t, http.MethodPost, "/billing/run", "/billing/run", `{"period":"2026-02"}`, RunBilling(svc, nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var out struct {
		Charged int      `json:"charged"`
		Failed  int      `json:"failed"`
		Errors  []string `json:"errors"`
	}
	decodeData(t, resp, &out)
	assert.Equal(t, 1, out.Charged)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, []string{"partner a: gateway down"}, out.Errors)

	svc = &stubInvoices{runErr: pkgerrors.New(pkgerrors.CodeDependency, "list partners"), report: invoices.BillingReport{Period: "2026-02"}}
	resp = do(t, http.MethodPost, "/billing/run", "/billing/run", `{"period":"2026-02"}`, RunBilling(svc, nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

type stubSettlements struct {
	start, end time.Time
}

func (s *stubSettlements) Finalize(ctx context.Context, partnerID uuid.UUID, periodStart, periodEnd time.Time) (*settlements.Finalized, error) {
	s.start, s.end = periodStart, periodEnd
	st := &models.Settlement{ID: uuid.New(), PartnerID: partnerID, PeriodStart: periodStart, PeriodEnd: periodEnd, CalculatedAmountCents: 1000}
	return &settlements.Finalized{Settlement: st, PayoutJob: &models.PayoutJob{ID: uuid.New(), SettlementID: st.ID, Status: enums.PayoutJobStatusQueued}}, nil
}

func TestFinalizeSettlement(t *testing.T) {
	svc := &stubSettlements{}
	body := fmt.Sprintf(`{"partner_id":%q,"period_start":"2026-01-01T00:00:00Z","period_end":"2026-02-01T00:00:00Z"}`, uuid.New())
	resp := do(t, http.MethodPost, "/settlements", "/settlements", body, FinalizeSettlement(svc, nil))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), svc.start.UTC())

	var out struct {
		Settlement struct {
			CalculatedAmountCents int64 `json:"calculated_amount_cents"`
		} `json:"settlement"`
		PayoutJob struct {
			Status string `json:"status"`
		} `json:"payout_job"`
	}
	decodeData(t, resp, &out)
	assert.Equal(t, int64(1000), out.Settlement.CalculatedAmountCents)
	assert.Equal(t, string(enums.PayoutJobStatusQueued), out.PayoutJob.Status)

	body = fmt.Sprintf(`{"partner_id":%q,"period_start":"2026-02-01T00:00:00Z","period_end":"2026-01-01T00:00:00Z"}`, uuid.New())
	resp = do(t, http.MethodPost, "/settlements", "/settlements", body, FinalizeSettlement(svc, nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

type stubIntegrity struct{ result payouts.IntegrityResult }

func (s stubIntegrity) CheckSettlement(ctx context.Context, settlementID uuid.UUID) (payouts.IntegrityResult, error) {
	return s.result, nil
}

func TestSettlementIntegrityPreview(t *testing.T) {
	svc := stubIntegrity{result: payouts.IntegrityResult{IsValid: false, CalculatedCents: 1000, LedgerAmountCents: 900, DiscrepancyCents: 100}}
	id := uuid.New()
	resp := do(t, http.MethodGet, "/settlements/{id}/integrity", "/settlements/"+id.String()+"/integrity", "", SettlementIntegrity(svc, nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var out payouts.IntegrityResult
	decodeData(t, resp, &out)
	assert.False(t, out.IsValid)
	assert.Equal(t, int64(100), out.DiscrepancyCents)
}

type stubPayouts struct{ err error }

func (s stubPayouts) Process(ctx context.Context, jobID uuid.UUID) (*models.PayoutJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.PayoutJob{ID: jobID, Status: enums.PayoutJobStatusCompleted}, nil
}

func TestProcessPayout(t *testing.T) {
	id := uuid.New()
	resp := do(t, http.MethodPost, "/payouts/{id}/process", "/payouts/"+id.String()+"/process", "", ProcessPayout(stubPayouts{}, nil))
	require.Equal(t, http.StatusOK, resp.Code)

	integrity := pkgerrors.New(pkgerrors.CodeIntegrity, "settlement does not match ledger").WithDetails(map[string]any{"discrepancy_cents": 100})
	resp = do(t, http.MethodPost, "/payouts/{id}/process", "/payouts/"+id.String()+"/process", "", ProcessPayout(stubPayouts{err: integrity}, nil))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "discrepancy_cents")
}

type stubReconciler struct {
	provider string
	ids      []string
}

func (s *stubReconciler) Run(ctx context.Context, provider string, paymentIDs []string) (reconciliation.Report, error) {
	s.provider, s.ids = provider, paymentIDs
	return reconciliation.Report{Provider: enums.PaymentProvider(provider), Total: len(paymentIDs), Matched: len(paymentIDs)}, nil
}

func TestRunReconciliation(t *testing.T) {
	svc := &stubReconciler{}
	resp := do(t, http.MethodPost, "/reconciliation/run", "/reconciliation/run", `{"provider":"asaas","payment_ids":["pay_1","pay_2"]}`, RunReconciliation(svc, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "asaas", svc.provider)
	assert.Equal(t, []string{"pay_1", "pay_2"}, svc.ids)

	resp = do(t, http.MethodPost, "/reconciliation/run", "/reconciliation/run", `{}`, RunReconciliation(svc, nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

type stubTrials struct {
	tenantID, moduleID uuid.UUID
	now                time.Time
}

func (s *stubTrials) StartModuleTrial(ctx context.Context, tenantID, moduleID uuid.UUID, now time.Time) (*models.AddonSubscription, error) {
	s.tenantID, s.moduleID, s.now = tenantID, moduleID, now
	ends := now.Add(14 * 24 * time.Hour)
	return &models.AddonSubscription{ID: uuid.New(), TenantID: tenantID, ModuleID: moduleID, Status: enums.AddonStatusTrial, TrialEndsAt: &ends}, nil
}

func TestStartModuleTrial(t *testing.T) {
	svc := &stubTrials{}
	fixed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tenantID, moduleID := uuid.New(), uuid.New()
	path := "/tenants/" + tenantID.String() + "/modules/" + moduleID.String() + "/trial"
	resp := do(t, http.MethodPost, "/tenants/{tenantID}/modules/{moduleID}/trial", path, "", StartModuleTrial(svc, func() time.Time { return fixed }, nil))

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, tenantID, svc.tenantID)
	assert.Equal(t, moduleID, svc.moduleID)
	assert.Equal(t, fixed, svc.now)
}

type stubProducer struct {
	payload     json.RawMessage
	maxAttempts int
}

func (s *stubProducer) Enqueue(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage, maxAttempts int) (*models.PrintJob, error) {
	s.payload, s.maxAttempts = payload, maxAttempts
	return &models.PrintJob{ID: uuid.New(), TenantID: tenantID, Payload: []byte(payload), Status: enums.PrintJobStatusQueued, MaxAttempts: 3}, nil
}

func TestEnqueuePrintJob(t *testing.T) {
	svc := &stubProducer{}
	body := fmt.Sprintf(`{"tenant_id":%q,"payload":{"template":"receipt"}}`, uuid.New())
	resp := do(t, http.MethodPost, "/print-jobs", "/print-jobs", body, EnqueuePrintJob(svc, nil))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"template":"receipt"}`, string(svc.payload))
	assert.Zero(t, svc.maxAttempts)
}

type stubRegistrar struct{}

func (stubRegistrar) RegisterDevice(ctx context.Context, tenantID uuid.UUID, name string) (*devices.Registration, error) {
	return &devices.Registration{
		Device: &models.Device{ID: uuid.New(), TenantID: tenantID, Name: name, SecretHash: "hash", Enabled: true, Status: enums.DeviceStatusOffline},
		Token:  "dev_secret",
	}, nil
}

func TestRegisterDeviceHidesHash(t *testing.T) {
	body := fmt.Sprintf(`{"tenant_id":%q,"name":"kitchen"}`, uuid.New())
	resp := do(t, http.MethodPost, "/devices", "/devices", body, RegisterDevice(stubRegistrar{}, nil))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))
	assert.NotContains(t, resp.Body.String(), "hash")

	var out struct {
		Token  string `json:"token"`
		Device struct {
			Name string `json:"name"`
		} `json:"device"`
	}
	decodeData(t, resp, &out)
	assert.Equal(t, "dev_secret", out.Token)
	assert.Equal(t, "kitchen", out.Device.Name)
}
