package asaas

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

const (
	tokenHeader     = "asaas-access-token"
	apiKeyHeader    = "access_token"
	defaultTimeout  = 10 * time.Second
	retryBaseDelay  = 200 * time.Millisecond
	maxResponseBody = 1 << 20
)

var (
	errAPIKeyRequired       = errors.New("asaas api key is required")
	errWebhookTokenRequired = errors.New("asaas webhook token is required")
	errLoggerRequired       = errors.New("asaas logger is required")
)

var confirmedEvents = map[string]bool{
	"PAYMENT_CONFIRMED": true,
	"PAYMENT_RECEIVED":  true,
}

var billingTypes = map[string]enums.PaymentMethod{
	"PIX":         enums.PaymentMethodPix,
	"BOLETO":      enums.PaymentMethodBoleto,
	"CREDIT_CARD": enums.PaymentMethodCreditCard,
	"UNDEFINED":   enums.PaymentMethodUndefined,
}

// Client implements the Asaas gateway over its REST API.
type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	webhookToken string
	maxRetries   uint64
	logger       *logger.Logger
}

// NewClient validates credentials and builds the Asaas client. httpClient may be nil.
func NewClient(cfg config.AsaasConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	token := strings.TrimSpace(cfg.WebhookToken)
	if token == "" {
		return nil, errWebhookTokenRequired
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       apiKey,
		webhookToken: token,
		maxRetries:   cfg.MaxRetries,
		logger:       logg,
	}, nil
}

func (c *Client) Name() enums.PaymentProvider { return enums.ProviderAsaas }

type webhookPayload struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment *struct {
		ID                string          `json:"id"`
		ExternalReference string          `json:"externalReference"`
		BillingType       string          `json:"billingType"`
		Value             decimal.Decimal `json:"value"`
		Customer          string          `json:"customer"`
	} `json:"payment"`
}

// ParseWebhook checks the shared access token header and normalizes the body.
func (c *Client) ParseWebhook(headers http.Header, body []byte) (gateways.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return gateways.WebhookEvent{}, fmt.Errorf("%w: %v", gateways.ErrMalformedPayload, err)
	}
	got := headers.Get(tokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.webhookToken)) != 1 {
		return gateways.WebhookEvent{}, gateways.ErrUnauthorized
	}

	event := gateways.WebhookEvent{
		Provider:  enums.ProviderAsaas,
		EventID:   strings.TrimSpace(payload.ID),
		EventType: strings.TrimSpace(payload.Event),
		Confirmed: confirmedEvents[strings.TrimSpace(payload.Event)],
	}
	if payload.Payment != nil {
		event.Payment = gateways.PaymentInfo{
			ID:          payload.Payment.ID,
			Reference:   strings.TrimSpace(payload.Payment.ExternalReference),
			BillingType: billingType(payload.Payment.BillingType),
			AmountCents: toCents(payload.Payment.Value),
			Customer:    payload.Payment.Customer,
		}
	}
	if event.EventID == "" && event.Payment.ID != "" {
		// older webhook versions carry no event id
		event.EventID = event.EventType + ":" + event.Payment.ID
	}
	if event.EventID == "" || event.EventType == "" {
		return gateways.WebhookEvent{}, fmt.Errorf("%w: missing event id or type", gateways.ErrMalformedPayload)
	}
	return event, nil
}

type paymentResponse struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Value             decimal.Decimal `json:"value"`
	ExternalReference string          `json:"externalReference"`
	InvoiceURL        string          `json:"invoiceUrl"`
}

// QueryPayment fetches a payment, retrying transient failures.
func (c *Client) QueryPayment(ctx context.Context, paymentID string) (gateways.PaymentStatus, error) {
	var resp paymentResponse
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &resp)
		if err == nil {
			return nil
		}
		if status == http.StatusNotFound {
			return gateways.ErrPaymentNotFound
		}
		if status == 0 || status >= 500 || status == http.StatusTooManyRequests {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, gateways.ErrPaymentNotFound) {
			return gateways.PaymentStatus{}, err
		}
		return gateways.PaymentStatus{}, c.mapError(err, "get payment")
	}
	return gateways.PaymentStatus{
		ID:          resp.ID,
		Status:      resp.Status,
		AmountCents: toCents(resp.Value),
		Reference:   resp.ExternalReference,
	}, nil
}

// CreateCharge creates a payment for the customer with billing type chosen by the payer.
func (c *Client) CreateCharge(ctx context.Context, req gateways.ChargeRequest) (gateways.ChargeResult, error) {
	body := map[string]any{
		"customer":          req.CustomerID,
		"billingType":       "UNDEFINED",
		"value":             fromCents(req.AmountCents),
		"dueDate":           req.DueDate,
		"description":       req.Description,
		"externalReference": firstNonEmpty(req.Reference, req.IdempotencyKey),
	}
	var resp paymentResponse
	if _, err := c.do(ctx, http.MethodPost, "/payments", body, &resp); err != nil {
		return gateways.ChargeResult{}, c.mapError(err, "create payment")
	}
	return gateways.ChargeResult{ChargeID: resp.ID, Status: resp.Status, URL: resp.InvoiceURL}, nil
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Transfer sends a payout to the partner wallet. The idempotency key travels as
// the external reference.
func (c *Client) Transfer(ctx context.Context, req gateways.TransferRequest) (gateways.TransferResult, error) {
	if strings.TrimSpace(req.WalletID) == "" {
		return gateways.TransferResult{}, pkgerrors.New(pkgerrors.CodeValidation, "partner payout wallet is not configured")
	}
	body := map[string]any{
		"value":             fromCents(req.AmountCents),
		"walletId":          req.WalletID,
		"description":       req.Description,
		"externalReference": req.IdempotencyKey,
	}
	var resp transferResponse
	if _, err := c.do(ctx, http.MethodPost, "/transfers", body, &resp); err != nil {
		return gateways.TransferResult{}, c.mapError(err, "create transfer")
	}
	return gateways.TransferResult{Provider: enums.ProviderAsaas, TransferID: resp.ID, Status: resp.Status}, nil
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("asaas responded %d: %s", e.Status, e.Body)
}

// do performs one request and returns the HTTP status (0 when no response arrived).
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug(c.logger.WithFields(ctx, map[string]any{"method": method, "path": path}), "asaas request")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode asaas response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) mapError(err error, op string) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		code := pkgerrors.CodeDependency
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			code = pkgerrors.CodeUnauthorized
		case apiErr.Status == http.StatusNotFound:
			code = pkgerrors.CodeNotFound
		case apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests:
			code = pkgerrors.CodeValidation
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("asaas %s failed", op))
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("asaas %s failed", op))
}

func billingType(raw string) enums.PaymentMethod {
	if m, ok := billingTypes[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return m
	}
	return enums.PaymentMethodUndefined
}

func toCents(v decimal.Decimal) int64 {
	return v.Shift(2).Round(0).IntPart()
}

// fromCents renders cents as a JSON number with two decimals.
func fromCents(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
