package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/backoffice-payments/api/controllers"
	devicecontrollers "github.com/angelmondragon/backoffice-payments/api/controllers/devices"
	opscontrollers "github.com/angelmondragon/backoffice-payments/api/controllers/ops"
	webhookcontrollers "github.com/angelmondragon/backoffice-payments/api/controllers/webhooks"
	"github.com/angelmondragon/backoffice-payments/api/middleware"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	pkgredis "github.com/angelmondragon/backoffice-payments/pkg/redis"
)

// Store is the redis surface used by rate limiting and idempotency.
type Store interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// DeviceAuthenticator resolves a device bearer token.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Device, error)
}

// Services is every domain service reachable over HTTP.
type Services struct {
	Webhooks      webhookcontrollers.PaymentWebhookService
	DeviceAuth    DeviceAuthenticator
	PrintQueue    devicecontrollers.PrintQueue
	PrintJobs     opscontrollers.PrintJobProducer
	Devices       opscontrollers.DeviceRegistrar
	Invoices      opscontrollers.InvoiceService
	Settlements   opscontrollers.SettlementService
	Integrity     opscontrollers.IntegrityChecker
	Payouts       opscontrollers.PayoutProcessor
	Reconciler    opscontrollers.Reconciler
	Trials        opscontrollers.TrialStarter
	Now           func() time.Time
	MetricsSource prometheus.Gatherer
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	health map[string]controllers.Pinger,
	store Store,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, health, logg))
	})

	gatherer := svc.MetricsSource
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{provider}", webhookcontrollers.PaymentWebhook(svc.Webhooks, logg))
	})

	r.Route("/api/v1/devices", func(r chi.Router) {
		r.Use(middleware.DeviceAuth(svc.DeviceAuth, logg))
		r.Use(middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "devices",
			Limit:  cfg.Devices.RateLimit,
			Window: cfg.Devices.RateWindow,
		}, store, logg))
		r.Post("/claim", devicecontrollers.Claim(svc.PrintQueue, logg))
		r.Post("/jobs/{id}/ack", devicecontrollers.Ack(svc.PrintQueue, logg))
		r.Get("/diagnostic", devicecontrollers.Diagnostic(svc.PrintQueue, logg))
	})

	r.Route("/api/v1/ops", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.OperatorAuth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(store, logg))

		r.Post("/invoices", opscontrollers.GenerateInvoice(svc.Invoices, logg))
		r.Post("/invoices/{id}/charge", opscontrollers.ChargeInvoice(svc.Invoices, logg))
		r.Post("/invoices/{id}/mark-paid", opscontrollers.MarkInvoicePaid(svc.Invoices, logg))
		r.Post("/billing/run", opscontrollers.RunBilling(svc.Invoices, logg))

		r.Post("/settlements", opscontrollers.FinalizeSettlement(svc.Settlements, logg))
		r.Get("/settlements/{id}/integrity", opscontrollers.SettlementIntegrity(svc.Integrity, logg))
		r.Post("/payouts/{id}/process", opscontrollers.ProcessPayout(svc.Payouts, logg))

		r.Post("/reconciliation/run", opscontrollers.RunReconciliation(svc.Reconciler, logg))
		r.Post("/tenants/{tenantID}/modules/{moduleID}/trial", opscontrollers.StartModuleTrial(svc.Trials, svc.Now, logg))
		r.Post("/print-jobs", opscontrollers.EnqueuePrintJob(svc.PrintJobs, logg))
		r.Post("/devices", opscontrollers.RegisterDevice(svc.Devices, logg))
	})

	return r
}
