// Package gatewaytest provides an in-memory gateway for service tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

// Fake records calls and serves canned payments. Webhook bodies are the JSON
// encoding of gateways.WebhookEvent.
type Fake struct {
	provider enums.PaymentProvider

	mu        sync.Mutex
	payments  map[string]gateways.PaymentStatus
	Charges   []gateways.ChargeRequest
	Transfers []gateways.TransferRequest
	QueryErr  error
	ChargeErr error
	// TransferErr, when set, fails every transfer.
	TransferErr error
	// TransferErrs is consumed one per call before TransferErr applies.
	TransferErrs []error
}

// FakeNoTransfer hides Transfer so it does not satisfy gateways.Transferer.
type FakeNoTransfer struct {
	gateways.Gateway
}

func New(provider enums.PaymentProvider) *Fake {
	return &Fake{provider: provider, payments: map[string]gateways.PaymentStatus{}}
}

func NewWithoutTransfers(provider enums.PaymentProvider) FakeNoTransfer {
	return FakeNoTransfer{Gateway: New(provider)}
}

func (f *Fake) Name() enums.PaymentProvider { return f.provider }

// SetPayment stores what QueryPayment returns for status.ID.
func (f *Fake) SetPayment(status gateways.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[status.ID] = status
}

func (f *Fake) ParseWebhook(headers http.Header, body []byte) (gateways.WebhookEvent, error) {
	if headers.Get("X-Fake-Auth") == "deny" {
		return gateways.WebhookEvent{}, gateways.ErrUnauthorized
	}
	var event gateways.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return gateways.WebhookEvent{}, fmt.Errorf("%w: %v", gateways.ErrMalformedPayload, err)
	}
	event.Provider = f.provider
	return event, nil
}

func (f *Fake) QueryPayment(_ context.Context, paymentID string) (gateways.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueryErr != nil {
		return gateways.PaymentStatus{}, f.QueryErr
	}
	status, ok := f.payments[paymentID]
	if !ok {
		return gateways.PaymentStatus{}, gateways.ErrPaymentNotFound
	}
	return status, nil
}

func (f *Fake) CreateCharge(_ context.Context, req gateways.ChargeRequest) (gateways.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChargeErr != nil {
		return gateways.ChargeResult{}, f.ChargeErr
	}
	f.Charges = append(f.Charges, req)
	return gateways.ChargeResult{ChargeID: fmt.Sprintf("chg_%d", len(f.Charges)), Status: "PENDING"}, nil
}

func (f *Fake) Transfer(_ context.Context, req gateways.TransferRequest) (gateways.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.TransferErrs) > 0 {
		err := f.TransferErrs[0]
		f.TransferErrs = f.TransferErrs[1:]
		if err != nil {
			return gateways.TransferResult{}, err
		}
	} else if f.TransferErr != nil {
		return gateways.TransferResult{}, f.TransferErr
	}
	f.Transfers = append(f.Transfers, req)
	return gateways.TransferResult{
		Provider:   f.provider,
		TransferID: fmt.Sprintf("trf_%d", len(f.Transfers)),
		Status:     "DONE",
	}, nil
}

// TransferCount reports how many transfers succeeded.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}
