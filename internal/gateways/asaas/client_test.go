package asaas

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.AsaasConfig{
		APIKey:       "key",
		BaseURL:      baseURL,
		WebhookToken: "hook-token",
		MaxRetries:   2,
	}, nil, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := NewClient(config.AsaasConfig{WebhookToken: "x"}, nil, logg)
	assert.ErrorIs(t, err, errAPIKeyRequired)
	_, err = NewClient(config.AsaasConfig{APIKey: "x"}, nil, logg)
	assert.ErrorIs(t, err, errWebhookTokenRequired)
	_, err = NewClient(config.AsaasConfig{APIKey: "x", WebhookToken: "y"}, nil, nil)
	assert.ErrorIs(t, err, errLoggerRequired)
}

func TestParseWebhookConfirmed(t *testing.T) {
	client := newTestClient(t, "http://unused")
	body := []byte(`{"id":"evt_1","event":"PAYMENT_RECEIVED","payment":{"id":"pay_1","externalReference":"{\"t\":\"plan\",\"p\":\"a1b2c3d4\",\"u\":\"e5f6a7b8\"}","billingType":"PIX","value":99.9,"customer":"cus_1"}}`)
	headers := http.Header{}
	headers.Set(tokenHeader, "hook-token")

	event, err := client.ParseWebhook(headers, body)
	require.NoError(t, err)
	assert.Equal(t, enums.ProviderAsaas, event.Provider)
	assert.Equal(t, "evt_1", event.EventID)
	assert.True(t, event.Confirmed)
	assert.Equal(t, "pay_1", event.Payment.ID)
	assert.Equal(t, int64(9990), event.Payment.AmountCents)
	assert.Equal(t, enums.PaymentMethodPix, event.Payment.BillingType)
	assert.Equal(t, `{"t":"plan","p":"a1b2c3d4","u":"e5f6a7b8"}`, event.Payment.Reference)
}

func TestParseWebhookLegacyEventID(t *testing.T) {
	client := newTestClient(t, "http://unused")
	headers := http.Header{}
	headers.Set(tokenHeader, "hook-token")

	event, err := client.ParseWebhook(headers, []byte(`{"event":"PAYMENT_OVERDUE","payment":{"id":"pay_9","billingType":"WIRE","value":10}}`))
	require.NoError(t, err)
	assert.Equal(t, "PAYMENT_OVERDUE:pay_9", event.EventID)
	assert.False(t, event.Confirmed)
	assert.Equal(t, enums.PaymentMethodUndefined, event.Payment.BillingType)
}

func TestParseWebhookRejects(t *testing.T) {
	client := newTestClient(t, "http://unused")

	_, err := client.ParseWebhook(http.Header{}, []byte(`{"id":"evt","event":"PAYMENT_RECEIVED"}`))
	assert.ErrorIs(t, err, gateways.ErrUnauthorized)

	headers := http.Header{}
	headers.Set(tokenHeader, "hook-token")
	_, err = client.ParseWebhook(headers, []byte(`not json`))
	assert.ErrorIs(t, err, gateways.ErrMalformedPayload)

	_, err = client.ParseWebhook(headers, []byte(`{"id":"evt"}`))
	assert.ErrorIs(t, err, gateways.ErrMalformedPayload)

	for _, body := range []string{
		`{"event":"PAYMENT_CREATED"}`,
		`{"id":"evt","event":"PAYMENT_RECEIVED","payment":{"id":"pay_1","value":"n/a"}}`,
		`{"id":"evt","event":"PAYMENT_RECEIVED","payment":[]}`,
	} {
		_, err = client.ParseWebhook(headers, []byte(body))
		assert.ErrorIs(t, err, gateways.ErrMalformedPayload, body)
	}
}

func TestQueryPaymentRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(apiKeyHeader))
		assert.Equal(t, "/payments/pay_1", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"pay_1","status":"RECEIVED","value":100.00,"externalReference":"ref"}`))
	}))
	defer srv.Close()

	status, err := newTestClient(t, srv.URL).QueryPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "RECEIVED", status.Status)
	assert.Equal(t, int64(10000), status.AmountCents)
	assert.Equal(t, "ref", status.Reference)
}

func TestQueryPaymentNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).QueryPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, gateways.ErrPaymentNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransferSendsWallet(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transfers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"trf_1","status":"PENDING"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Transfer(context.Background(), gateways.TransferRequest{
		IdempotencyKey: "payout:1",
		WalletID:       "wallet-1",
		AmountCents:    12345,
	})
	require.NoError(t, err)
	assert.Equal(t, "trf_1", res.TransferID)
	assert.Equal(t, "wallet-1", got["walletId"])
	assert.Equal(t, "payout:1", got["externalReference"])
	assert.Equal(t, 123.45, got["value"])
}

func TestTransferMapsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":"invalid_wallet"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Transfer(context.Background(), gateways.TransferRequest{WalletID: "w", AmountCents: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = client.Transfer(context.Background(), gateways.TransferRequest{AmountCents: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateChargeUsesUndefinedBillingType(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"pay_2","status":"PENDING","invoiceUrl":"https://asaas/i/pay_2"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).CreateCharge(context.Background(), gateways.ChargeRequest{
		CustomerID:  "cus_1",
		AmountCents: 5000,
		DueDate:     "2026-11-05",
		Reference:   "invoice:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_2", res.ChargeID)
	assert.Equal(t, "https://asaas/i/pay_2", res.URL)
	assert.Equal(t, "UNDEFINED", got["billingType"])
	assert.Equal(t, "invoice:1", got["externalReference"])
}
