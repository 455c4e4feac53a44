package reconciliation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/internal/gateways/gatewaytest"
	"github.com/angelmondragon/backoffice-payments/internal/ledger"
	"github.com/angelmondragon/backoffice-payments/pkg/db/dbtest"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	dbtypes "github.com/angelmondragon/backoffice-payments/pkg/db/types"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

func int64p(v int64) *int64 { return &v }

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		provider *int64
		expected *int64
		status   enums.ReconciliationStatus
		diff     int64
		ok       bool
	}{
		{"matched", int64p(4900), int64p(4900), enums.ReconciliationMatched, 0, true},
		{"provider higher", int64p(5000), int64p(4900), enums.ReconciliationMismatch, 100, true},
		{"provider lower", int64p(4000), int64p(4900), enums.ReconciliationMismatch, -900, true},
		{"missing internal", int64p(700), nil, enums.ReconciliationMissingInternal, 700, true},
		{"missing provider", nil, int64p(300), enums.ReconciliationMissingProvider, -300, true},
		{"unknown", nil, nil, "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, diff, ok := Classify(tc.provider, tc.expected)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.diff, diff)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

type reconFixture struct {
	conn    *gorm.DB
	svc     *Service
	ledger  ledger.Service
	gateway *gatewaytest.Fake
	now     time.Time
}

func newRecon(t *testing.T) *reconFixture {
	t.Helper()
	conn := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	f := &reconFixture{
		conn:    conn,
		ledger:  ledgerSvc,
		gateway: gatewaytest.New(enums.ProviderAsaas),
		now:     time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC),
	}
	f.svc, err = NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Ledger:   ledgerSvc,
		Gateways: gateways.NewRegistry(f.gateway),
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Lookback: 30 * 24 * time.Hour,
		Workers:  2,
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *reconFixture) book(t *testing.T, paymentID string, cents int64, at time.Time) {
	t.Helper()
	provider := enums.ProviderAsaas
	ref := paymentID
	_, err := f.ledger.Record(context.Background(), ledger.RecordEffectInput{
		SourceType:       "payment_event",
		SourceID:         uuid.New(),
		TargetType:       enums.EffectTargetTenantBalance,
		TargetID:         uuid.New(),
		Direction:        enums.EffectDirectionCredit,
		Kind:             enums.EffectKindPayment,
		AmountCents:      cents,
		ExternalProvider: &provider,
		ExternalRef:      &ref,
		IdempotencyKey:   ledger.PaymentKey(provider, paymentID, enums.EffectKindPayment),
		OccurredAt:       at,
	})
	require.NoError(t, err)
}

func (f *reconFixture) record(t *testing.T, paymentID string) models.ReconciliationRecord {
	t.Helper()
	var rec models.ReconciliationRecord
	require.NoError(t, f.conn.Where("provider = ? AND provider_payment_id = ?", enums.ProviderAsaas, paymentID).First(&rec).Error)
	return rec
}

func TestRunClassifiesLookbackCandidates(t *testing.T) {
	f := newRecon(t)
	recent := f.now.Add(-48 * time.Hour)
	f.book(t, "pay_a", 4900, recent)
	f.book(t, "pay_b", 1000, recent)
	f.book(t, "pay_c", 500, recent)
	f.book(t, "pay_old", 100, f.now.Add(-60*24*time.Hour))

	processedAt := recent
	paymentID := "pay_d"
	require.NoError(t, f.conn.Create(&models.PaymentEvent{
		Provider:          enums.ProviderAsaas,
		ProviderEventID:   "evt_d",
		EventType:         "PAYMENT_RECEIVED",
		ProviderPaymentID: &paymentID,
		AmountCents:       800,
		RawPayload:        dbtypes.JSONB(`{}`),
		ReceivedAt:        recent,
		ProcessedAt:       &processedAt,
	}).Error)

	f.gateway.SetPayment(gateways.PaymentStatus{ID: "pay_a", AmountCents: 4900})
	f.gateway.SetPayment(gateways.PaymentStatus{ID: "pay_b", AmountCents: 1200})
	f.gateway.SetPayment(gateways.PaymentStatus{ID: "pay_d", AmountCents: 800})

	report, err := f.svc.Run(context.Background(), "asaas", nil)
	require.NoError(t, err)
	assert.Equal(t, Report{
		Provider:        enums.ProviderAsaas,
		Total:           4,
		Matched:         1,
		Mismatch:        1,
		MissingInternal: 1,
		MissingProvider: 1,
	}, report)

	b := f.record(t, "pay_b")
	assert.Equal(t, enums.ReconciliationMismatch, b.Status)
	assert.Equal(t, int64(200), b.DifferenceCents)
	assert.Equal(t, int64(1200), *b.ProviderAmountCents)
	assert.Equal(t, int64(1000), *b.ExpectedAmountCents)
	assert.True(t, b.CheckedAt.Equal(f.now))

	assert.Equal(t, enums.ReconciliationMissingInternal, f.record(t, "pay_d").Status)
	c := f.record(t, "pay_c")
	assert.Equal(t, enums.ReconciliationMissingProvider, c.Status)
	assert.Nil(t, c.ProviderAmountCents)

	var effects int64
	require.NoError(t, f.conn.Model(&models.TransactionEffect{}).Count(&effects).Error)
	assert.Equal(t, int64(4), effects)
}

func TestRunUpdatesExistingRecord(t *testing.T) {
	f := newRecon(t)
	f.book(t, "pay_a", 4900, f.now.Add(-time.Hour))
	f.gateway.SetPayment(gateways.PaymentStatus{ID: "pay_a", AmountCents: 4000})

	_, err := f.svc.Run(context.Background(), "asaas", []string{"pay_a"})
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationMismatch, f.record(t, "pay_a").Status)

	f.gateway.SetPayment(gateways.PaymentStatus{ID: "pay_a", AmountCents: 4900})
	f.now = f.now.Add(time.Hour)
	report, err := f.svc.Run(context.Background(), "asaas", []string{"pay_a", " pay_a ", "pay_ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Skipped)

	rec := f.record(t, "pay_a")
	assert.Equal(t, enums.ReconciliationMatched, rec.Status)
	assert.True(t, rec.CheckedAt.Equal(f.now))

	var rows int64
	require.NoError(t, f.conn.Model(&models.ReconciliationRecord{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestLookupStoredRecord(t *testing.T) {
	f := newRecon(t)
	ctx := context.Background()
	f.book(t, "pay_a", 4900, f.now.Add(-time.Hour))
	f.gateway.SetPayment(gateways.PaymentStatus{ID: "pay_a", AmountCents: 4000})

	_, err := f.svc.Lookup(ctx, "asaas", "pay_a")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Run(ctx, "asaas", []string{"pay_a"})
	require.NoError(t, err)
	rec, err := f.svc.Lookup(ctx, " Asaas ", "pay_a")
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationMismatch, rec.Status)
	assert.Equal(t, int64(-900), rec.DifferenceCents)

	_, err = f.svc.Lookup(ctx, "paypal", "pay_a")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.Lookup(ctx, "asaas", " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRunGatewayErrors(t *testing.T) {
	f := newRecon(t)
	f.book(t, "pay_a", 4900, f.now.Add(-time.Hour))
	f.gateway.QueryErr = errors.New("gateway down")

	report, err := f.svc.Run(context.Background(), "asaas", nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 1, report.Errors)

	_, err = f.svc.Run(context.Background(), "unknown", nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
