package gateways

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

var (
	// ErrPaymentNotFound is returned by QueryPayment when the gateway has no such payment.
	ErrPaymentNotFound = errors.New("payment not found at gateway")
	// ErrUnauthorized is returned by ParseWebhook when the request fails the provider's authentication check.
	ErrUnauthorized = errors.New("webhook authentication failed")
	// ErrMalformedPayload is returned by ParseWebhook when the body is not the provider's JSON shape.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// PaymentInfo is the payment portion of a normalized webhook.
type PaymentInfo struct {
	ID          string
	Reference   string
	BillingType enums.PaymentMethod
	AmountCents int64
	Customer    string
}

// WebhookEvent is a provider notification reduced to the fields the pipeline acts on.
type WebhookEvent struct {
	Provider  enums.PaymentProvider
	EventID   string
	EventType string
	// Confirmed is true for the provider's "payment settled" variants.
	Confirmed bool
	Payment   PaymentInfo
}

// PaymentStatus is what a gateway reports for a payment on query.
type PaymentStatus struct {
	ID          string
	Status      string
	AmountCents int64
	Reference   string
}

// ChargeRequest asks a gateway to bill a customer.
type ChargeRequest struct {
	IdempotencyKey string
	CustomerID     string
	// SourceID is a stored card, required by card-only gateways.
	SourceID    string
	AmountCents int64
	Description string
	Reference   string
	DueDate     string
}

// ChargeResult identifies the created charge.
type ChargeResult struct {
	ChargeID string
	Status   string
	URL      string
}

// TransferRequest moves money from the platform to a partner wallet.
type TransferRequest struct {
	IdempotencyKey string
	PartnerID      uuid.UUID
	WalletID       string
	AmountCents    int64
	Description    string
}

// TransferResult identifies the created transfer.
type TransferResult struct {
	Provider   enums.PaymentProvider
	TransferID string
	Status     string
}

// Gateway is one payment provider strategy.
type Gateway interface {
	Name() enums.PaymentProvider
	ParseWebhook(headers http.Header, body []byte) (WebhookEvent, error)
	QueryPayment(ctx context.Context, paymentID string) (PaymentStatus, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Transferer is implemented by gateways that can pay out to partners.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

// Registry resolves gateways by provider name.
type Registry struct {
	mtx      sync.RWMutex
	gateways map[enums.PaymentProvider]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[enums.PaymentProvider]Gateway)}
	for _, gw := range gws {
		r.Register(gw)
	}
	return r
}

func (r *Registry) Register(gw Gateway) {
	if gw == nil {
		return
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.gateways[gw.Name()] = gw
}

// Get returns the gateway for a provider string such as "asaas".
func (r *Registry) Get(provider string) (Gateway, bool) {
	p, err := enums.ParsePaymentProvider(strings.ToLower(strings.TrimSpace(provider)))
	if err != nil {
		return nil, false
	}
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	gw, ok := r.gateways[p]
	return gw, ok
}

// Transferer returns the payout-capable gateway for provider.
func (r *Registry) Transferer(provider string) (Transferer, error) {
	gw, ok := r.Get(provider)
	if !ok {
		return nil, fmt.Errorf("gateway %q not registered", provider)
	}
	t, ok := gw.(Transferer)
	if !ok {
		return nil, fmt.Errorf("gateway %q does not support transfers", provider)
	}
	return t, nil
}

// Providers lists the registered providers.
func (r *Registry) Providers() []enums.PaymentProvider {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]enums.PaymentProvider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	return out
}
