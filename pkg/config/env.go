package config

const (
	EnvPrefix = "CHECKOUT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv       = "CHECKOUT_APP_ENV"
	EnvPort         = "CHECKOUT_APP_PORT"
	EnvLogLevel     = "CHECKOUT_LOG_LEVEL"
	EnvDBDSN        = "CHECKOUT_DB_DSN"
	EnvDBDriver     = "CHECKOUT_DB_DRIVER"
	EnvDBHost       = "CHECKOUT_DB_HOST"
	EnvDBPort       = "CHECKOUT_DB_PORT"
	EnvDBUser       = "CHECKOUT_DB_USER"
	EnvDBPassword   = "CHECKOUT_DB_PASSWORD"
	EnvDBName       = "CHECKOUT_DB_NAME"
	EnvRedisURL     = "CHECKOUT_REDIS_URL"
	EnvJWTSecret    = "CHECKOUT_JWT_SECRET"
	EnvJWTIssuer    = "CHECKOUT_JWT_ISSUER"
	EnvTaxHomeState = "CHECKOUT_TAX_HOME_STATE"
	EnvTaxDefault   = "CHECKOUT_TAX_DEFAULT_GST_PERCENT"
	EnvTaxRules     = "CHECKOUT_TAX_RULES_FILE"
	EnvDupWindow    = "CHECKOUT_DUPLICATE_WINDOW"
	EnvConcurrency  = "CHECKOUT_FULFILLMENT_CONCURRENCY"
	EnvCarrierURL   = "CHECKOUT_CARRIER_BASE_URL"
	EnvGCPProjectID = "CHECKOUT_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
