package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/backoffice-payments/internal/app"
	"github.com/angelmondragon/backoffice-payments/internal/cron"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/instance"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/metrics"
	"github.com/angelmondragon/backoffice-payments/pkg/migrate"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
	"github.com/angelmondragon/backoffice-payments/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateways, err := app.BuildGateways(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to build payment gateways", err)
		os.Exit(1)
	}
	svc, err := app.Build(app.Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Gateways:   gateways,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to build services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, svc)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        len(registry.Entries()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svc *app.Services) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	leaseSweep, err := cron.NewLeaseSweepJob(cron.LeaseSweepJobParams{
		Logger:       logg,
		PrintJobs:    svc.PrintJobs,
		Devices:      svc.Devices,
		OfflineAfter: cfg.Devices.OfflineAfter,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(leaseSweep, cfg.Cron.LeaseSweepInterval)

	expiry, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger:     logg,
		Activation: svc.Activation,
		Grace:      cfg.Cron.SubscriptionGracePeriod,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(expiry, cfg.Cron.ExpiryInterval)

	dispatch, err := cron.NewPayoutDispatchJob(cron.PayoutDispatchJobParams{
		Logger:  logg,
		Payouts: svc.Payouts,
		Batch:   cfg.Payouts.DispatchBatch,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(dispatch, cfg.Cron.PayoutDispatchInterval)

	providers := make([]string, 0, len(svc.Gateways.Providers()))
	for _, p := range svc.Gateways.Providers() {
		providers = append(providers, string(p))
	}
	reconcile, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:     logg,
		Reconciler: svc.Reconciliation,
		Providers:  providers,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(reconcile, cfg.Cron.ReconciliationInterval)

	billing, err := cron.NewMonthlyBillingJob(cron.MonthlyBillingJobParams{
		Logger:   logg,
		Invoices: svc.Invoices,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(billing, cfg.Cron.MonthlyBillingInterval)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(retention, cfg.Cron.OutboxRetentionInterval)

	return registry, nil
}

func lockKey(client *redis.Client, cfg *config.Config) string {
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	return client.LockKey(fmt.Sprintf("%s:%s", cfg.Cron.LockKey, env))
}
