package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/backoffice-payments/api/controllers"
	"github.com/angelmondragon/backoffice-payments/api/routes"
	"github.com/angelmondragon/backoffice-payments/internal/app"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/instance"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/migrate"
	"github.com/angelmondragon/backoffice-payments/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry, err := app.BuildGateways(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to build payment gateways", err)
		os.Exit(1)
	}

	svc, err := app.Build(app.Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Gateways:   registry,
		Store:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to build services", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(cfg, logg,
		map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
		redisClient,
		routes.Services{
			Webhooks:      svc.Webhooks,
			DeviceAuth:    svc.DeviceAuth,
			PrintQueue:    svc.PrintJobs,
			PrintJobs:     svc.PrintJobs,
			Devices:       svc.Devices,
			Invoices:      svc.Invoices,
			Settlements:   svc.Settlements,
			Integrity:     svc.Payouts,
			Payouts:       svc.Payouts,
			Reconciler:    svc.Reconciliation,
			Trials:        svc.Activation,
			MetricsSource: prometheus.DefaultGatherer,
		},
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
