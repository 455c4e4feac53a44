package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	webhooksvc "github.com/angelmondragon/backoffice-payments/internal/webhooks"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

type stubWebhookService struct {
	provider string
	body     string
	token    string
	result   webhooksvc.Result
	err      error
}

func (s *stubWebhookService) Handle(ctx context.Context, provider string, headers http.Header, body []byte) (webhooksvc.Result, error) {
	s.provider = provider
	s.body = string(body)
	s.token = headers.Get("asaas-access-token")
	return s.result, s.err
}

func serve(t *testing.T, svc PaymentWebhookService, provider, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Post("/api/v1/webhooks/{provider}", PaymentWebhook(svc, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+provider, strings.NewReader(body))
	req.Header.Set("asaas-access-token", "tok")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestPaymentWebhookAcknowledgesRejectedEvents(t *testing.T) {
	svc := &stubWebhookService{result: webhooksvc.Result{Received: true, Reason: webhooksvc.ReasonUnauthorized}}
	resp := serve(t, svc, "Asaas", `{"id":"evt_1"}`)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.provider != "asaas" {
		t.Fatalf("expected lowercased provider, got %q", svc.provider)
	}
	if svc.token != "tok" || svc.body != `{"id":"evt_1"}` {
		t.Fatalf("headers or body not forwarded: %q %q", svc.token, svc.body)
	}

	var body struct {
		Data webhooksvc.Result `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Data.Received || body.Data.Processed || body.Data.Reason != webhooksvc.ReasonUnauthorized {
		t.Fatalf("unexpected result %+v", body.Data)
	}
}

func TestPaymentWebhookAcknowledgesWrongShape(t *testing.T) {
	svc := &stubWebhookService{result: webhooksvc.Result{Received: true, Reason: webhooksvc.ReasonMalformedPayload}}
	resp := serve(t, svc, "asaas", `{"event":"PAYMENT_CREATED"}`)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Data webhooksvc.Result `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Processed || body.Data.Reason != webhooksvc.ReasonMalformedPayload {
		t.Fatalf("unexpected result %+v", body.Data)
	}
}

func TestPaymentWebhookMapsRequestErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{name: "unknown provider", err: pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider"), code: http.StatusNotFound},
		{name: "not json", err: pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook payload"), code: http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := serve(t, &stubWebhookService{err: tc.err}, "paypal", "nope")
		if resp.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, resp.Code)
		}
	}
}
