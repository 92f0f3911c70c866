package config

const (
	EnvPrefix = "TABLESERVE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "TABLESERVE_APP_ENV"
	EnvPort      = "TABLESERVE_APP_PORT"
	EnvLogLevel  = "TABLESERVE_LOG_LEVEL"
	EnvDBDSN     = "TABLESERVE_DB_DSN"
	EnvDBHost    = "TABLESERVE_DB_HOST"
	EnvDBUser    = "TABLESERVE_DB_USER"
	EnvDBName    = "TABLESERVE_DB_NAME"
	EnvRedisURL  = "TABLESERVE_REDIS_URL"
	EnvJWTSecret = "TABLESERVE_JWT_SECRET"
	EnvJWTIssuer = "TABLESERVE_JWT_ISSUER"

	EnvUseSQLite   = "TABLESERVE_USE_SQLITE"
	EnvAutoMigrate = "TABLESERVE_AUTO_MIGRATE"

	EnvVNPayTmnCode      = "TABLESERVE_VNPAY_TMN_CODE"
	EnvVNPayReturnSecret = "TABLESERVE_VNPAY_RETURN_SECRET"
	EnvVNPayIPNSecret    = "TABLESERVE_VNPAY_IPN_SECRET"

	EnvSettlementCurrency     = "TABLESERVE_SETTLEMENT_DEFAULT_CURRENCY"
	EnvSettlementStaleAfter   = "TABLESERVE_SETTLEMENT_STALE_PENDING_AFTER"
	EnvSettlementReturnSecret = "TABLESERVE_SETTLEMENT_RETURN_SECRET"
	EnvPubSubSettlementTopic  = "TABLESERVE_PUBSUB_SETTLEMENT_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
