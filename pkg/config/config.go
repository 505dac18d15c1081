package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Tax          TaxConfig
	Checkout     CheckoutConfig
	Fulfillment  FulfillmentConfig
	Carrier      CarrierConfig
	Payments     PaymentsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
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
	Env          string   `envconfig:"CHECKOUT_APP_ENV" required:"true"`
	Port         string   `envconfig:"CHECKOUT_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CHECKOUT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CHECKOUT_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CHECKOUT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"CHECKOUT_SERVICE_KIND" default:"api"`
	// Workers expose /metrics here; empty disables the listener.
	MetricsAddr string `envconfig:"CHECKOUT_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHECKOUT_DB_DSN"`
	Driver string `envconfig:"CHECKOUT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CHECKOUT_DB_HOST"`
	LegacyPort     int    `envconfig:"CHECKOUT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHECKOUT_DB_USER"`
	LegacyPassword string `envconfig:"CHECKOUT_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHECKOUT_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHECKOUT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHECKOUT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHECKOUT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHECKOUT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHECKOUT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHECKOUT_REDIS_URL"`
	Address      string        `envconfig:"CHECKOUT_REDIS_ADDR"`
	Password     string        `envconfig:"CHECKOUT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHECKOUT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHECKOUT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHECKOUT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHECKOUT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHECKOUT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHECKOUT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"CHECKOUT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CHECKOUT_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CHECKOUT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CHECKOUT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"CHECKOUT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// TaxConfig drives GST resolution. HomeState is the platform's registered
// state and stands in for admin-owned stock.
type TaxConfig struct {
	HomeState         string  `envconfig:"CHECKOUT_TAX_HOME_STATE" required:"true"`
	DefaultGSTPercent float64 `envconfig:"CHECKOUT_TAX_DEFAULT_GST_PERCENT" default:"18"`
	RulesFile         string  `envconfig:"CHECKOUT_TAX_RULES_FILE"`
}

type CheckoutConfig struct {
	DuplicateWindow time.Duration `envconfig:"CHECKOUT_DUPLICATE_WINDOW" default:"5m"`
	DeliveryFee     float64       `envconfig:"CHECKOUT_DELIVERY_FEE" default:"0"`
}

type FulfillmentConfig struct {
	PlatformPickupLocation string  `envconfig:"CHECKOUT_FULFILLMENT_PLATFORM_PICKUP" default:"Primary"`
	Concurrency            int     `envconfig:"CHECKOUT_FULFILLMENT_CONCURRENCY" default:"4"`
	MinWeightKg            float64 `envconfig:"CHECKOUT_FULFILLMENT_MIN_WEIGHT_KG" default:"0.5"`
	MinLengthCm            float64 `envconfig:"CHECKOUT_FULFILLMENT_MIN_LENGTH_CM" default:"10"`
	MinBreadthCm           float64 `envconfig:"CHECKOUT_FULFILLMENT_MIN_BREADTH_CM" default:"10"`
	MinHeightCm            float64 `envconfig:"CHECKOUT_FULFILLMENT_MIN_HEIGHT_CM" default:"10"`
}

type CarrierConfig struct {
	BaseURL            string        `envconfig:"CHECKOUT_CARRIER_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external"`
	Email              string        `envconfig:"CHECKOUT_CARRIER_EMAIL"`
	Password           string        `envconfig:"CHECKOUT_CARRIER_PASSWORD"`
	Timeout            time.Duration `envconfig:"CHECKOUT_CARRIER_TIMEOUT" default:"15s"`
	TokenTTL           time.Duration `envconfig:"CHECKOUT_CARRIER_TOKEN_TTL" default:"216h"`
	BreakerMaxRequests uint32        `envconfig:"CHECKOUT_CARRIER_BREAKER_MAX_REQUESTS" default:"3"`
	BreakerInterval    time.Duration `envconfig:"CHECKOUT_CARRIER_BREAKER_INTERVAL" default:"15s"`
	BreakerTimeout     time.Duration `envconfig:"CHECKOUT_CARRIER_BREAKER_TIMEOUT" default:"30s"`
}

type PaymentsConfig struct {
	WebhookSecret string `envconfig:"CHECKOUT_PAYMENTS_WEBHOOK_SECRET"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CHECKOUT_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"CHECKOUT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic             string `envconfig:"CHECKOUT_PUBSUB_ORDERS_TOPIC" default:"checkout-order-events"`
	FulfillmentSubscription string `envconfig:"CHECKOUT_PUBSUB_FULFILLMENT_SUBSCRIPTION" default:"checkout-fulfillment"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CHECKOUT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CHECKOUT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CHECKOUT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// MaintenanceConfig drives the scheduled cleanup worker.
type MaintenanceConfig struct {
	Interval        time.Duration `envconfig:"CHECKOUT_MAINTENANCE_INTERVAL" default:"1h"`
	OutboxRetention time.Duration `envconfig:"CHECKOUT_MAINTENANCE_OUTBOX_RETENTION" default:"720h"`
	PaymentWindow   time.Duration `envconfig:"CHECKOUT_MAINTENANCE_PAYMENT_WINDOW" default:"48h"`
	ExpiryBatchSize int           `envconfig:"CHECKOUT_MAINTENANCE_EXPIRY_BATCH_SIZE" default:"200"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" || strings.EqualFold(db.Driver, DriverSQLite) {
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
