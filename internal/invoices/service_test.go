package invoices

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
	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/db/dbtest"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
)

type invoiceFixture struct {
	conn    *gorm.DB
	svc     *Service
	gateway *gatewaytest.Fake
	clock   time.Time
}

func newInvoices(t *testing.T) *invoiceFixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	f := &invoiceFixture{
		conn:    conn,
		gateway: gatewaytest.New(enums.ProviderAsaas),
		clock:   time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(conn),
		Gateways:          gateways.NewRegistry(f.gateway),
		Outbox:            outbox.NewService(outbox.NewRepository(conn), logg),
		TransactionRunner: db.NewFromConn(conn),
		Logger:            logg,
		Now:               func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

// partner creates a partner whose tenants subscribe to the given plan prices
// with the given statuses.
func (f *invoiceFixture) partner(t *testing.T, customer string, subs map[int64]enums.SubscriptionStatus) models.Partner {
	t.Helper()
	p := models.Partner{Name: "Partner " + customer}
	if customer != "" {
		p.GatewayCustomerID = &customer
	}
	require.NoError(t, f.conn.Create(&p).Error)
	for price, status := range subs {
		plan := models.Plan{Name: "plan", PriceCents: price}
		require.NoError(t, f.conn.Create(&plan).Error)
		tenant := models.Tenant{OwnerID: uuid.New(), PartnerID: &p.ID, Name: "tenant"}
		require.NoError(t, f.conn.Create(&tenant).Error)
		require.NoError(t, f.conn.Create(&models.TenantSubscription{
			ID:          uuid.New(),
			TenantID:    tenant.ID,
			PlanID:      plan.ID,
			Status:      status,
			PeriodStart: f.clock,
			PeriodEnd:   f.clock.AddDate(0, 0, 30),
		}).Error)
	}
	return p
}

func TestGenerateSumsBillablePlans(t *testing.T) {
	f := newInvoices(t)
	p := f.partner(t, "cus_1", map[int64]enums.SubscriptionStatus{
		9900: enums.SubscriptionStatusActive,
		4900: enums.SubscriptionStatusPastDue,
		1900: enums.SubscriptionStatusCancelled,
		2900: enums.SubscriptionStatusTrial,
	})

	invoice, err := f.svc.Generate(context.Background(), p.ID, "2026-05")
	require.NoError(t, err)
	assert.Equal(t, int64(14800), invoice.AmountCents)
	assert.Equal(t, enums.InvoiceStatusOpen, invoice.Status)

	again, err := f.svc.Generate(context.Background(), p.ID, "2026-05")
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, again.ID)

	_, err = f.svc.Generate(context.Background(), p.ID, "May 2026")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.Generate(context.Background(), uuid.New(), "2026-05")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestChargeAndMarkPaid(t *testing.T) {
	f := newInvoices(t)
	p := f.partner(t, "cus_1", map[int64]enums.SubscriptionStatus{9900: enums.SubscriptionStatusActive})
	invoice, err := f.svc.Generate(context.Background(), p.ID, "2026-05")
	require.NoError(t, err)

	charged, err := f.svc.Charge(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusCharged, charged.Status)
	require.NotNil(t, charged.GatewayChargeID)
	assert.Equal(t, "chg_1", *charged.GatewayChargeID)
	require.Len(t, f.gateway.Charges, 1)
	assert.Equal(t, "invoice:"+invoice.ID.String(), f.gateway.Charges[0].IdempotencyKey)
	assert.Equal(t, "cus_1", f.gateway.Charges[0].CustomerID)
	assert.Equal(t, "2026-06-10", f.gateway.Charges[0].DueDate)

	_, err = f.svc.Charge(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Len(t, f.gateway.Charges, 1, "charging twice is a no-op")

	paid, err := f.svc.MarkPaid(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(f.clock))

	_, err = f.svc.MarkPaid(context.Background(), invoice.ID)
	require.NoError(t, err)
	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventInvoicePaid).Count(&events).Error)
	assert.Equal(t, int64(1), events)

	_, err = f.svc.Charge(context.Background(), invoice.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestChargeRequiresCustomer(t *testing.T) {
	f := newInvoices(t)
	p := f.partner(t, "", map[int64]enums.SubscriptionStatus{9900: enums.SubscriptionStatusActive})
	invoice, err := f.svc.Generate(context.Background(), p.ID, "2026-05")
	require.NoError(t, err)

	_, err = f.svc.Charge(context.Background(), invoice.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRunMonthlyBilling(t *testing.T) {
	f := newInvoices(t)
	f.partner(t, "cus_1", map[int64]enums.SubscriptionStatus{9900: enums.SubscriptionStatusActive})
	f.partner(t, "", map[int64]enums.SubscriptionStatus{4900: enums.SubscriptionStatusActive})
	f.partner(t, "cus_3", nil)

	report, err := f.svc.RunMonthlyBilling(context.Background(), PreviousPeriod(f.clock))
	require.NoError(t, err)
	assert.Equal(t, BillingReport{Period: "2026-05", Generated: 3, Charged: 1, Skipped: 2}, report)

	f.gateway.ChargeErr = errors.New("gateway down")
	f.partner(t, "cus_4", map[int64]enums.SubscriptionStatus{100: enums.SubscriptionStatusActive})
	report, err = f.svc.RunMonthlyBilling(context.Background(), "2026-05")
	require.Error(t, err)
	assert.Equal(t, 4, report.Generated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Skipped)
}

func TestPreviousPeriod(t *testing.T) {
	assert.Equal(t, "2025-12", PreviousPeriod(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-02", PreviousPeriod(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)))
}
