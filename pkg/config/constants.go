package config

const (
	EnvPrefix = "BACKOFFICE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv          = "BACKOFFICE_APP_ENV"
	EnvPort            = "BACKOFFICE_APP_PORT"
	EnvDBDSN           = "BACKOFFICE_DB_DSN"
	EnvDBHost          = "BACKOFFICE_DB_HOST"
	EnvDBUser          = "BACKOFFICE_DB_USER"
	EnvDBName          = "BACKOFFICE_DB_NAME"
	EnvDBPassword      = "BACKOFFICE_DB_PASSWORD"
	EnvRedisURL        = "BACKOFFICE_REDIS_URL"
	EnvJWTSecret       = "BACKOFFICE_JWT_SECRET"
	EnvJWTIssuer       = "BACKOFFICE_JWT_ISSUER"
	EnvDeviceSecret    = "BACKOFFICE_DEVICE_TOKEN_SECRET"
	EnvLeaseTTL        = "BACKOFFICE_PRINT_JOB_LEASE_TTL"
	EnvChargeback      = "BACKOFFICE_PAYOUT_CHARGEBACK_WINDOW"
	EnvEnabledGateways = "BACKOFFICE_ENABLED_GATEWAYS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
