package devices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/api/middleware"
	"github.com/angelmondragon/backoffice-payments/internal/printjobs"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

type stubQueue struct {
	claimTenant uuid.UUID
	claimDevice uuid.UUID
	claimLimit  int
	jobs        []models.PrintJob

	ackJob    uuid.UUID
	ackStatus printjobs.AckStatus
	ackMsg    string
	ackErr    error
}

func (s *stubQueue) Claim(ctx context.Context, tenantID, deviceID uuid.UUID, limit int) ([]models.PrintJob, error) {
	s.claimTenant, s.claimDevice, s.claimLimit = tenantID, deviceID, limit
	return s.jobs, nil
}

func (s *stubQueue) Ack(ctx context.Context, deviceID, jobID uuid.UUID, status printjobs.AckStatus, errMsg string) error {
	s.ackJob, s.ackStatus, s.ackMsg = jobID, status, errMsg
	return s.ackErr
}

func (s *stubQueue) Diagnostic(ctx context.Context, device *models.Device) (*printjobs.Diagnostic, error) {
	return &printjobs.Diagnostic{
		Device:     printjobs.DeviceView{ID: device.ID, TenantID: device.TenantID},
		Jobs:       printjobs.JobCounts{Queued: 3, Claimed: 1},
		ServerTime: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func newRouter(svc PrintQueue) chi.Router {
	r := chi.NewRouter()
	r.Post("/claim", Claim(svc, nil))
	r.Post("/jobs/{id}/ack", Ack(svc, nil))
	r.Get("/diagnostic", Diagnostic(svc, nil))
	return r
}

func asDevice(req *http.Request, device *models.Device) *http.Request {
	return req.WithContext(middleware.WithDevice(req.Context(), device))
}

func TestClaimDefaultsLimitAndScopesToDevice(t *testing.T) {
	device := &models.Device{ID: uuid.New(), TenantID: uuid.New()}
	svc := &stubQueue{jobs: []models.PrintJob{{ID: uuid.New(), TenantID: device.TenantID, Payload: []byte(`{"doc":1}`), Status: enums.PrintJobStatusClaimed}}}

	req := asDevice(httptest.NewRequest(http.MethodPost, "/claim", http.NoBody), device)
	resp := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.claimLimit != printjobs.DefaultClaimLimit {
		t.Fatalf("expected default limit, got %d", svc.claimLimit)
	}
	if svc.claimTenant != device.TenantID || svc.claimDevice != device.ID {
		t.Fatalf("claim not scoped to authenticated device")
	}

	var body struct {
		Data struct {
			Jobs []struct {
				ID      uuid.UUID       `json:"id"`
				Payload json.RawMessage `json:"payload"`
			} `json:"jobs"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Jobs) != 1 || string(body.Data.Jobs[0].Payload) != `{"doc":1}` {
		t.Fatalf("unexpected jobs %+v", body.Data.Jobs)
	}
}

func TestClaimRejectsOversizedLimit(t *testing.T) {
	device := &models.Device{ID: uuid.New(), TenantID: uuid.New()}
	req := asDevice(httptest.NewRequest(http.MethodPost, "/claim", strings.NewReader(`{"limit":50}`)), device)
	resp := httptest.NewRecorder()
	newRouter(&stubQueue{}).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestClaimRequiresDevice(t *testing.T) {
	resp := httptest.NewRecorder()
	newRouter(&stubQueue{}).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/claim", http.NoBody))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAck(t *testing.T) {
	device := &models.Device{ID: uuid.New(), TenantID: uuid.New()}
	jobID := uuid.New()
	svc := &stubQueue{}

	req := asDevice(httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/ack", strings.NewReader(`{"status":"failed","error":"paper jam"}`)), device)
	resp := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.ackJob != jobID || svc.ackStatus != printjobs.AckFailed || svc.ackMsg != "paper jam" {
		t.Fatalf("unexpected ack %+v", svc)
	}

	svc.ackErr = pkgerrors.New(pkgerrors.CodeStateConflict, "print job is not leased")
	req = asDevice(httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/ack", strings.NewReader(`{"status":"printed"}`)), device)
	resp = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}

	req = asDevice(httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/ack", strings.NewReader(`{"status":"lost"}`)), device)
	resp = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
}

func TestDiagnostic(t *testing.T) {
	device := &models.Device{ID: uuid.New(), TenantID: uuid.New()}
	req := asDevice(httptest.NewRequest(http.MethodGet, "/diagnostic", nil), device)
	resp := httptest.NewRecorder()
	newRouter(&stubQueue{}).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Data printjobs.Diagnostic `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Jobs.Queued != 3 || body.Data.Jobs.Claimed != 1 || body.Data.Device.ID != device.ID {
		t.Fatalf("unexpected diagnostic %+v", body.Data)
	}
}
