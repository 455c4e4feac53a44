// Package app assembles the domain services shared by the api, the cron worker
// and payoutctl.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/backoffice-payments/internal/activation"
	"github.com/angelmondragon/backoffice-payments/internal/devices"
	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/internal/gateways/asaas"
	"github.com/angelmondragon/backoffice-payments/internal/gateways/square"
	"github.com/angelmondragon/backoffice-payments/internal/invoices"
	"github.com/angelmondragon/backoffice-payments/internal/ledger"
	"github.com/angelmondragon/backoffice-payments/internal/payouts"
	"github.com/angelmondragon/backoffice-payments/internal/printjobs"
	"github.com/angelmondragon/backoffice-payments/internal/reconciliation"
	"github.com/angelmondragon/backoffice-payments/internal/reference"
	"github.com/angelmondragon/backoffice-payments/internal/settlements"
	"github.com/angelmondragon/backoffice-payments/internal/webhooks"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/idempotency"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/metrics"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
	pkgredis "github.com/angelmondragon/backoffice-payments/pkg/redis"
)

// Deps are the process-level resources the services are built on.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Gateways *gateways.Registry
	// Store backs the webhook idempotency guard. Without it the webhook
	// service is not built.
	Store      pkgredis.IdempotencyStore
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Services holds every domain service of the pipeline.
type Services struct {
	Gateways       *gateways.Registry
	Metrics        *metrics.PipelineMetrics
	Outbox         *outbox.Service
	Ledger         ledger.Service
	Activation     *activation.Service
	Webhooks       *webhooks.Service
	DeviceAuth     *devices.Authenticator
	Devices        *devices.Service
	PrintJobs      *printjobs.Service
	Payouts        *payouts.Service
	Settlements    *settlements.Service
	Reconciliation *reconciliation.Service
	Invoices       *invoices.Service
}

// Build wires the services in dependency order.
func Build(deps Deps) (*Services, error) {
	if deps.Config == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "config required")
	}
	if deps.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if deps.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database client required")
	}
	if deps.Gateways == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	cfg, logg, conn := deps.Config, deps.Logger, deps.DB.DB()
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	out := &Services{
		Gateways: deps.Gateways,
		Metrics:  metrics.NewPipelineMetrics(deps.Registerer),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
	}

	var err error
	if out.Ledger, err = ledger.NewService(ledger.NewRepository(conn)); err != nil {
		return nil, err
	}
	if out.Activation, err = activation.NewService(activation.ServiceParams{
		Repo:              activation.NewRepository(conn),
		Ledger:            out.Ledger,
		TransactionRunner: deps.DB,
		Logger:            logg,
	}); err != nil {
		return nil, err
	}

	if deps.Store != nil {
		guard, err := idempotency.NewManager(deps.Store, cfg.Webhooks.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		if out.Webhooks, err = webhooks.NewService(webhooks.ServiceParams{
			Repo:              webhooks.NewRepository(conn),
			Gateways:          deps.Gateways,
			Guard:             guard,
			Resolver:          reference.NewResolver(conn),
			Activator:         out.Activation,
			Outbox:            out.Outbox,
			TransactionRunner: deps.DB,
			Metrics:           out.Metrics,
			Logger:            logg,
			Timeout:           cfg.Webhooks.ProcessTimeout,
			Now:               now,
		}); err != nil {
			return nil, err
		}
	}

	deviceRepo := devices.NewRepository(conn)
	if out.DeviceAuth, err = devices.NewAuthenticator(deviceRepo, cfg.Devices.TokenSecret, logg); err != nil {
		return nil, err
	}
	if out.Devices, err = devices.NewService(deviceRepo, cfg.Devices.TokenSecret); err != nil {
		return nil, err
	}
	if out.PrintJobs, err = printjobs.NewService(printjobs.ServiceParams{
		Repo:               printjobs.NewRepository(conn),
		TransactionRunner:  deps.DB,
		Metrics:            out.Metrics,
		Logger:             logg,
		RetryBase:          cfg.PrintJobs.RetryBase,
		DefaultMaxAttempts: cfg.PrintJobs.DefaultMaxAttempts,
		LeaseTTL:           cfg.PrintJobs.LeaseTTL,
		Now:                now,
	}); err != nil {
		return nil, err
	}

	if out.Payouts, err = payouts.NewService(payouts.ServiceParams{
		Repo:              payouts.NewRepository(conn),
		Ledger:            out.Ledger,
		Gateways:          deps.Gateways,
		Provider:          cfg.Payouts.Provider,
		Outbox:            out.Outbox,
		TransactionRunner: deps.DB,
		Metrics:           out.Metrics,
		Logger:            logg,
		ChargebackWindow:  cfg.Payouts.ChargebackWindow,
		MaxAttempts:       cfg.Payouts.MaxAttempts,
		RetryBase:         cfg.Payouts.RetryBase,
		DispatchBatch:     cfg.Payouts.DispatchBatch,
		Now:               now,
	}); err != nil {
		return nil, err
	}
	if out.Settlements, err = settlements.NewService(settlements.ServiceParams{
		Repo:             settlements.NewRepository(conn),
		Payouts:          out.Payouts,
		Logger:           logg,
		ChargebackWindow: cfg.Payouts.ChargebackWindow,
		Now:              now,
	}); err != nil {
		return nil, err
	}

	if out.Reconciliation, err = reconciliation.NewService(reconciliation.ServiceParams{
		Repo:     reconciliation.NewRepository(conn),
		Ledger:   out.Ledger,
		Gateways: deps.Gateways,
		Metrics:  out.Metrics,
		Logger:   logg,
		Lookback: cfg.Reconciliation.Lookback,
		Workers:  cfg.Reconciliation.Workers,
		Now:      now,
	}); err != nil {
		return nil, err
	}
	if out.Invoices, err = invoices.NewService(invoices.ServiceParams{
		Repo:              invoices.NewRepository(conn),
		Gateways:          deps.Gateways,
		Provider:          cfg.Payouts.Provider,
		Outbox:            out.Outbox,
		TransactionRunner: deps.DB,
		Logger:            logg,
		Now:               now,
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildGateways registers the providers listed in the enabled gateways flag.
func BuildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*gateways.Registry, error) {
	registry := gateways.NewRegistry()
	for _, raw := range cfg.FeatureFlags.EnabledGateways {
		name := enums.PaymentProvider(strings.ToLower(strings.TrimSpace(raw)))
		switch name {
		case "":
			continue
		case enums.ProviderAsaas:
			client, err := asaas.NewClient(cfg.Asaas, nil, logg)
			if err != nil {
				return nil, err
			}
			registry.Register(client)
		case enums.ProviderSquare:
			client, err := square.NewClient(ctx, cfg.Square, logg)
			if err != nil {
				return nil, err
			}
			registry.Register(client)
		default:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported gateway "+string(name))
		}
	}
	if len(registry.Providers()) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no payment gateway enabled")
	}
	return registry, nil
}
