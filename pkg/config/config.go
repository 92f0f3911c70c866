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
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
	VNPay        VNPayConfig
	Settlement   SettlementConfig
	RateLimit    RateLimitConfig
	Cron         CronConfig
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
	Env          string `envconfig:"TABLESERVE_APP_ENV" required:"true"`
	Port         string `envconfig:"TABLESERVE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TABLESERVE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TABLESERVE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TABLESERVE_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"TABLESERVE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"TABLESERVE_SERVICE_KIND" default:"api"`
	MetricsPort string `envconfig:"TABLESERVE_METRICS_PORT" default:"9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"TABLESERVE_DB_DSN"`
	Driver string `envconfig:"TABLESERVE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TABLESERVE_DB_HOST"`
	LegacyPort     int    `envconfig:"TABLESERVE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TABLESERVE_DB_USER"`
	LegacyPassword string `envconfig:"TABLESERVE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TABLESERVE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TABLESERVE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TABLESERVE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TABLESERVE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TABLESERVE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TABLESERVE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TABLESERVE_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TABLESERVE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TABLESERVE_REDIS_ADDR"`
	Password     string        `envconfig:"TABLESERVE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TABLESERVE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TABLESERVE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TABLESERVE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TABLESERVE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TABLESERVE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TABLESERVE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig carries the verification settings for tokens issued by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"TABLESERVE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TABLESERVE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TABLESERVE_JWT_EXPIRATION_MINUTES" default:"240"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TABLESERVE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TABLESERVE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"TABLESERVE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	OutboxIdempotencyTTL  time.Duration `envconfig:"TABLESERVE_EVENTING_OUTBOX_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TABLESERVE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TABLESERVE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"TABLESERVE_PUBSUB_SETTLEMENT_TOPIC" default:"ts-settlement-events"`
	SettlementSubscription string `envconfig:"TABLESERVE_PUBSUB_SETTLEMENT_SUBSCRIPTION" default:"ts-settlement-analytics"`
	MaxOutstandingMessages int    `envconfig:"TABLESERVE_PUBSUB_MAX_OUTSTANDING_MESSAGES" default:"100"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"TABLESERVE_BIGQUERY_DATASET" default:"tableserve"`
	SettlementsTable string `envconfig:"TABLESERVE_BIGQUERY_SETTLEMENTS_TABLE" default:"payment_settlements"`
	AutoCreateTables bool   `envconfig:"TABLESERVE_BIGQUERY_AUTO_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"TABLESERVE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"TABLESERVE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts     int           `envconfig:"TABLESERVE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionPeriod time.Duration `envconfig:"TABLESERVE_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"TABLESERVE_STRIPE_API_KEY"`
	Secret string `envconfig:"TABLESERVE_STRIPE_SECRET"`
	Env    string `envconfig:"TABLESERVE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Enabled reports whether hosted checkout credentials were supplied.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type SquareConfig struct {
	AccessToken     string `envconfig:"TABLESERVE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"TABLESERVE_SQUARE_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"TABLESERVE_SQUARE_NOTIFICATION_URL"`
	LocationID      string `envconfig:"TABLESERVE_SQUARE_LOCATION_ID"`
	Env             string `envconfig:"TABLESERVE_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// VNPayConfig configures the card-network redirect gateway. The return and
// IPN secrets are distinct so a leaked browser URL cannot forge an IPN.
type VNPayConfig struct {
	TmnCode      string `envconfig:"TABLESERVE_VNPAY_TMN_CODE"`
	ReturnSecret string `envconfig:"TABLESERVE_VNPAY_RETURN_SECRET"`
	IPNSecret    string `envconfig:"TABLESERVE_VNPAY_IPN_SECRET"`
	PaymentURL   string `envconfig:"TABLESERVE_VNPAY_PAYMENT_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	Locale       string `envconfig:"TABLESERVE_VNPAY_LOCALE" default:"vn"`
	Version      string `envconfig:"TABLESERVE_VNPAY_VERSION" default:"2.1.0"`
}

func (v VNPayConfig) Enabled() bool {
	return strings.TrimSpace(v.TmnCode) != "" && strings.TrimSpace(v.ReturnSecret) != ""
}

type SettlementConfig struct {
	DefaultCurrency   string        `envconfig:"TABLESERVE_SETTLEMENT_DEFAULT_CURRENCY" default:"VND"`
	ClientRedirectURL string        `envconfig:"TABLESERVE_SETTLEMENT_CLIENT_REDIRECT_URL" default:"http://localhost:3000/payment-result"`
	ReturnBaseURL     string        `envconfig:"TABLESERVE_SETTLEMENT_RETURN_BASE_URL" default:"http://localhost:8080/api/v1/payments"`
	ReturnSecret      string        `envconfig:"TABLESERVE_SETTLEMENT_RETURN_SECRET"`
	StaffRoom         string        `envconfig:"TABLESERVE_SETTLEMENT_STAFF_ROOM" default:"staff"`
	StalePendingAfter time.Duration `envconfig:"TABLESERVE_SETTLEMENT_STALE_PENDING_AFTER" default:"2h"`
}

type RateLimitConfig struct {
	PaymentsWindow   time.Duration `envconfig:"TABLESERVE_RATE_LIMIT_PAYMENTS_WINDOW" default:"1m"`
	PaymentsPerGuest int           `envconfig:"TABLESERVE_RATE_LIMIT_PAYMENTS_PER_GUEST" default:"10"`
}

// CronConfig drives the cron worker. Interval is the scheduler tick and the
// lock TTL; each job runs when its own period has elapsed.
type CronConfig struct {
	Interval          time.Duration `envconfig:"TABLESERVE_CRON_INTERVAL" default:"5m"`
	StalePendingEvery time.Duration `envconfig:"TABLESERVE_CRON_STALE_PENDING_EVERY" default:"15m"`
	RetentionEvery    time.Duration `envconfig:"TABLESERVE_CRON_RETENTION_EVERY" default:"24h"`
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
