package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	FeatureFlags   FeatureFlagsConfig
	Webhooks       WebhooksConfig
	Asaas          AsaasConfig
	Square         SquareConfig
	Devices        DevicesConfig
	PrintJobs      PrintJobsConfig
	Payouts        PayoutsConfig
	Reconciliation ReconciliationConfig
	Cron           CronConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	Outbox         OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BACKOFFICE_APP_ENV" required:"true"`
	Port         string `envconfig:"BACKOFFICE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BACKOFFICE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BACKOFFICE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists the operator console origins allowed on the ops routes.
	CORSOrigins []string `envconfig:"BACKOFFICE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BACKOFFICE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BACKOFFICE_DB_DSN"`
	Driver string `envconfig:"BACKOFFICE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BACKOFFICE_DB_HOST"`
	LegacyPort     int    `envconfig:"BACKOFFICE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BACKOFFICE_DB_USER"`
	LegacyPassword string `envconfig:"BACKOFFICE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BACKOFFICE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BACKOFFICE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BACKOFFICE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BACKOFFICE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BACKOFFICE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BACKOFFICE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BACKOFFICE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BACKOFFICE_REDIS_ADDR"`
	Password     string        `envconfig:"BACKOFFICE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BACKOFFICE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BACKOFFICE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BACKOFFICE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BACKOFFICE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BACKOFFICE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BACKOFFICE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers the operator tokens accepted by the ops routes.
type JWTConfig struct {
	Secret            string `envconfig:"BACKOFFICE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BACKOFFICE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BACKOFFICE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BACKOFFICE_AUTO_MIGRATE" default:"false"`
	// EnabledGateways lists the providers registered at boot.
	EnabledGateways []string `envconfig:"BACKOFFICE_ENABLED_GATEWAYS" default:"asaas"`
}

type WebhooksConfig struct {
	ProcessTimeout time.Duration `envconfig:"BACKOFFICE_WEBHOOK_PROCESS_TIMEOUT" default:"8s"`
	IdempotencyTTL time.Duration `envconfig:"BACKOFFICE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type AsaasConfig struct {
	APIKey       string        `envconfig:"BACKOFFICE_ASAAS_API_KEY"`
	BaseURL      string        `envconfig:"BACKOFFICE_ASAAS_BASE_URL" default:"https://sandbox.asaas.com/api/v3"`
	WebhookToken string        `envconfig:"BACKOFFICE_ASAAS_WEBHOOK_TOKEN"`
	Timeout      time.Duration `envconfig:"BACKOFFICE_ASAAS_TIMEOUT" default:"10s"`
	MaxRetries   uint64        `envconfig:"BACKOFFICE_ASAAS_MAX_RETRIES" default:"3"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"BACKOFFICE_SQUARE_ACCESS_TOKEN"`
	Env           string `envconfig:"BACKOFFICE_SQUARE_ENV" default:"sandbox"`
	WebhookSecret string `envconfig:"BACKOFFICE_SQUARE_WEBHOOK_SECRET"`
	LocationID    string `envconfig:"BACKOFFICE_SQUARE_LOCATION_ID"`
	Currency      string `envconfig:"BACKOFFICE_SQUARE_CURRENCY" default:"USD"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type DevicesConfig struct {
	TokenSecret  string        `envconfig:"BACKOFFICE_DEVICE_TOKEN_SECRET" required:"true"`
	OfflineAfter time.Duration `envconfig:"BACKOFFICE_DEVICE_OFFLINE_AFTER" default:"5m"`
	RateLimit    int           `envconfig:"BACKOFFICE_DEVICE_RATE_LIMIT" default:"120"`
	RateWindow   time.Duration `envconfig:"BACKOFFICE_DEVICE_RATE_WINDOW" default:"1m"`
}

type PrintJobsConfig struct {
	LeaseTTL           time.Duration `envconfig:"BACKOFFICE_PRINT_JOB_LEASE_TTL" default:"10m"`
	DefaultMaxAttempts int           `envconfig:"BACKOFFICE_PRINT_JOB_MAX_ATTEMPTS" default:"3"`
	RetryBase          time.Duration `envconfig:"BACKOFFICE_PRINT_JOB_RETRY_BASE" default:"5s"`
}

type PayoutsConfig struct {
	ChargebackWindow time.Duration `envconfig:"BACKOFFICE_PAYOUT_CHARGEBACK_WINDOW" default:"336h"`
	MaxAttempts      int           `envconfig:"BACKOFFICE_PAYOUT_MAX_ATTEMPTS" default:"5"`
	RetryBase        time.Duration `envconfig:"BACKOFFICE_PAYOUT_RETRY_BASE" default:"1m"`
	DispatchBatch    int           `envconfig:"BACKOFFICE_PAYOUT_DISPATCH_BATCH" default:"20"`
	Provider         string        `envconfig:"BACKOFFICE_PAYOUT_PROVIDER" default:"asaas"`
}

type ReconciliationConfig struct {
	Lookback time.Duration `envconfig:"BACKOFFICE_RECONCILIATION_LOOKBACK" default:"720h"`
	Workers  int           `envconfig:"BACKOFFICE_RECONCILIATION_WORKERS" default:"4"`
}

type CronConfig struct {
	LockKey                 string        `envconfig:"BACKOFFICE_CRON_LOCK_KEY" default:"cron-worker"`
	LockTTL                 time.Duration `envconfig:"BACKOFFICE_CRON_LOCK_TTL" default:"15m"`
	Tick                    time.Duration `envconfig:"BACKOFFICE_CRON_TICK" default:"30s"`
	LeaseSweepInterval      time.Duration `envconfig:"BACKOFFICE_CRON_LEASE_SWEEP_INTERVAL" default:"1m"`
	ExpiryInterval          time.Duration `envconfig:"BACKOFFICE_CRON_EXPIRY_INTERVAL" default:"1h"`
	PayoutDispatchInterval  time.Duration `envconfig:"BACKOFFICE_CRON_PAYOUT_DISPATCH_INTERVAL" default:"5m"`
	ReconciliationInterval  time.Duration `envconfig:"BACKOFFICE_CRON_RECONCILIATION_INTERVAL" default:"6h"`
	MonthlyBillingInterval  time.Duration `envconfig:"BACKOFFICE_CRON_MONTHLY_BILLING_INTERVAL" default:"24h"`
	OutboxRetentionInterval time.Duration `envconfig:"BACKOFFICE_CRON_OUTBOX_RETENTION_INTERVAL" default:"24h"`
	OutboxRetention         time.Duration `envconfig:"BACKOFFICE_OUTBOX_RETENTION" default:"720h"`
	SubscriptionGracePeriod time.Duration `envconfig:"BACKOFFICE_SUBSCRIPTION_GRACE_PERIOD" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BACKOFFICE_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"BACKOFFICE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"BACKOFFICE_PUBSUB_DOMAIN_TOPIC" default:"backoffice-domain-events"`
	DomainSubscription string `envconfig:"BACKOFFICE_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BACKOFFICE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
