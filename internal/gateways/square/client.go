package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	signatureHeader = "Square-Signature"
	paymentUpdated  = "payment.updated"
	statusCompleted = "COMPLETED"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// paymentsAPI is the slice of the Square SDK the gateway calls.
type paymentsAPI interface {
	Get(ctx context.Context, request *sq.GetPaymentsRequest, opts ...sqoption.RequestOption) (*sq.GetPaymentResponse, error)
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

// Client is the Square card gateway. Square has no partner transfer API, so
// payouts are never routed here.
type Client struct {
	payments      paymentsAPI
	environment   string
	webhookSecret string
	locationID    string
	currency      string
	logger        *logger.Logger
}

// NewClient initializes the Square gateway and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
	)

	c := &Client{
		payments:      sdk.Payments,
		environment:   env,
		webhookSecret: webhookSecret,
		locationID:    strings.TrimSpace(cfg.LocationID),
		currency:      cfg.Currency,
		logger:        logg,
	}
	logg.Info(logg.WithField(ctx, "environment", env), "square gateway initialized")
	return c, nil
}

func (c *Client) Name() enums.PaymentProvider { return enums.ProviderSquare }

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		ID     string `json:"id"`
		Object struct {
			Payment *webhookPayment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

type webhookPayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	CustomerID  string `json:"customer_id"`
	SourceType  string `json:"source_type"`
	AmountMoney struct {
		Amount int64 `json:"amount"`
	} `json:"amount_money"`
}

// ParseWebhook verifies the hex HMAC-SHA256 body signature and normalizes payment events.
func (c *Client) ParseWebhook(headers http.Header, body []byte) (gateways.WebhookEvent, error) {
	if !validSignature(body, c.webhookSecret, headers.Get(signatureHeader)) {
		return gateways.WebhookEvent{}, gateways.ErrUnauthorized
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return gateways.WebhookEvent{}, fmt.Errorf("%w: %v", gateways.ErrMalformedPayload, err)
	}
	eventID := strings.TrimSpace(env.EventID)
	if eventID == "" {
		eventID = env.Data.ID
	}
	if eventID == "" || strings.TrimSpace(env.Type) == "" {
		return gateways.WebhookEvent{}, fmt.Errorf("%w: missing event id or type", gateways.ErrMalformedPayload)
	}

	event := gateways.WebhookEvent{
		Provider:  enums.ProviderSquare,
		EventID:   eventID,
		EventType: env.Type,
	}
	if p := env.Data.Object.Payment; p != nil {
		event.Confirmed = env.Type == paymentUpdated && strings.EqualFold(p.Status, statusCompleted)
		event.Payment = gateways.PaymentInfo{
			ID:          p.ID,
			Reference:   strings.TrimSpace(p.ReferenceID),
			BillingType: enums.PaymentMethodCard,
			AmountCents: p.AmountMoney.Amount,
			Customer:    p.CustomerID,
		}
	}
	return event, nil
}

// QueryPayment looks a payment up by id.
func (c *Client) QueryPayment(ctx context.Context, paymentID string) (gateways.PaymentStatus, error) {
	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})
	resp, err := c.payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"error": err.Error()})
		mapped := c.mapSquareError(err, "get payment")
		if pkgerrors.IsCode(mapped, pkgerrors.CodeNotFound) {
			return gateways.PaymentStatus{}, gateways.ErrPaymentNotFound
		}
		return gateways.PaymentStatus{}, mapped
	}
	payment := resp.GetPayment()
	if payment == nil {
		return gateways.PaymentStatus{}, gateways.ErrPaymentNotFound
	}
	status := gateways.PaymentStatus{
		ID:        stringValue(payment.GetID()),
		Status:    stringValue(payment.GetStatus()),
		Reference: stringValue(payment.GetReferenceID()),
	}
	if money := payment.GetAmountMoney(); money != nil && money.GetAmount() != nil {
		status.AmountCents = *money.GetAmount()
	}
	c.log(ctx, "response", "get_payment", map[string]any{"payment_id": status.ID, "status": status.Status})
	return status, nil
}

// CreateCharge charges a stored card. SourceID must reference the card on file.
func (c *Client) CreateCharge(ctx context.Context, req gateways.ChargeRequest) (gateways.ChargeResult, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return gateways.ChargeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "square charges require a card on file")
	}
	params := paymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       c.currency,
		LocationID:     c.locationID,
		CustomerID:     req.CustomerID,
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Description,
		ReferenceID:    req.Reference,
	}
	c.log(ctx, "request", "create_payment", map[string]any{
		"location_id": params.LocationID,
		"customer_id": params.CustomerID,
		"amount":      params.AmountCents,
	})
	resp, err := c.payments.Create(ctx, params.toSquareRequest(c.ensureIdempotencyKey("payment.create", params.IdempotencyKey)))
	if err != nil {
		c.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
		return gateways.ChargeResult{}, c.mapSquareError(err, "create payment")
	}
	payment := resp.GetPayment()
	result := gateways.ChargeResult{
		ChargeID: stringValue(payment.GetID()),
		Status:   stringValue(payment.GetStatus()),
		URL:      stringValue(payment.GetReceiptURL()),
	}
	c.log(ctx, "response", "create_payment", map[string]any{"payment_id": result.ChargeID, "status": result.Status})
	return result, nil
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(c.logger.WithProvider(ctx, string(enums.ProviderSquare)), logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("square %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "source", "nonce", "token", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeUnauthorized
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func validSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(strings.TrimSpace(header)))
}

// Sign returns the hex HMAC-SHA256 Square sends in the signature header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
