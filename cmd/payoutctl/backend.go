package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/backoffice-payments/internal/app"
	"github.com/angelmondragon/backoffice-payments/internal/devices"
	"github.com/angelmondragon/backoffice-payments/internal/invoices"
	"github.com/angelmondragon/backoffice-payments/internal/payouts"
	"github.com/angelmondragon/backoffice-payments/internal/reconciliation"
	"github.com/angelmondragon/backoffice-payments/internal/settlements"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
)

type invoiceOps interface {
	Generate(ctx context.Context, partnerID uuid.UUID, period string) (*models.Invoice, error)
	Charge(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	MarkPaid(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	RunMonthlyBilling(ctx context.Context, period string) (invoices.BillingReport, error)
}

type settlementOps interface {
	Finalize(ctx context.Context, partnerID uuid.UUID, periodStart, periodEnd time.Time) (*settlements.Finalized, error)
}

type payoutOps interface {
	Process(ctx context.Context, jobID uuid.UUID) (*models.PayoutJob, error)
	DispatchDue(ctx context.Context, limit int) (payouts.DispatchReport, error)
	CheckSettlement(ctx context.Context, settlementID uuid.UUID) (payouts.IntegrityResult, error)
}

type reconcileOps interface {
	Run(ctx context.Context, provider string, paymentIDs []string) (reconciliation.Report, error)
	Lookup(ctx context.Context, provider, paymentID string) (*models.ReconciliationRecord, error)
}

type ledgerOps interface {
	Entries(ctx context.Context, targetType enums.EffectTargetType, targetID uuid.UUID) ([]models.TransactionEffect, error)
}

type tenantOps interface {
	StartModuleTrial(ctx context.Context, tenantID, moduleID uuid.UUID, now time.Time) (*models.AddonSubscription, error)
	CancelPlan(ctx context.Context, tenantID uuid.UUID) error
	CancelModule(ctx context.Context, tenantID, moduleID uuid.UUID) error
}

type deviceOps interface {
	RegisterDevice(ctx context.Context, tenantID uuid.UUID, name string) (*devices.Registration, error)
}

type printJobOps interface {
	Enqueue(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage, maxAttempts int) (*models.PrintJob, error)
}

type deadLetterOps interface {
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

// backend is what the commands act on. Close releases the database pool.
type backend struct {
	Invoices    invoiceOps
	Settlements settlementOps
	Payouts     payoutOps
	Reconciler  reconcileOps
	Ledger      ledgerOps
	Tenants     tenantOps
	Devices     deviceOps
	PrintJobs   printJobOps
	DeadLetters deadLetterOps
	Now         func() time.Time
	Close       func() error
}

type bootstrapFunc func(ctx context.Context, stderr io.Writer) (*backend, error)

// bootstrapFromEnv connects to the configured database and builds the domain
// services without a redis store, so no webhook intake is available.
func bootstrapFromEnv(ctx context.Context, stderr io.Writer) (*backend, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = "payoutctl"

	logg := logger.New(logger.Options{
		ServiceName: "payoutctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, err
	}
	registry, err := app.BuildGateways(ctx, cfg, logg)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	svc, err := app.Build(app.Deps{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Gateways: registry,
	})
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	return &backend{
		Invoices:    svc.Invoices,
		Settlements: svc.Settlements,
		Payouts:     svc.Payouts,
		Reconciler:  svc.Reconciliation,
		Ledger:      svc.Ledger,
		Tenants:     svc.Activation,
		Devices:     svc.Devices,
		PrintJobs:   svc.PrintJobs,
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Now:         time.Now,
		Close:       dbClient.Close,
	}, nil
}

func main() {
	if err := newRootCmd(bootstrapFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}
