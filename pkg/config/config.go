package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "RETAILPOS_DB_DSN"
	EnvDBHost = "RETAILPOS_DB_HOST"
	EnvDBUser = "RETAILPOS_DB_USER"
	EnvDBName = "RETAILPOS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	Webhook      WebhookConfig
	Refunds      RefundsConfig
	Reconcile    ReconcileConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string   `envconfig:"RETAILPOS_APP_ENV" required:"true"`
	Port         string   `envconfig:"RETAILPOS_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"RETAILPOS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"RETAILPOS_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"RETAILPOS_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"RETAILPOS_DB_DSN"`
	Driver string `envconfig:"RETAILPOS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RETAILPOS_DB_HOST"`
	LegacyPort     int    `envconfig:"RETAILPOS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RETAILPOS_DB_USER"`
	LegacyPassword string `envconfig:"RETAILPOS_DB_PASSWORD"`
	LegacyName     string `envconfig:"RETAILPOS_DB_NAME"`
	LegacySSLMode  string `envconfig:"RETAILPOS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RETAILPOS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RETAILPOS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RETAILPOS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RETAILPOS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RETAILPOS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RETAILPOS_REDIS_ADDR"`
	Password     string        `envconfig:"RETAILPOS_REDIS_PASSWORD"`
	DB           int           `envconfig:"RETAILPOS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RETAILPOS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RETAILPOS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RETAILPOS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RETAILPOS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RETAILPOS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RETAILPOS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RETAILPOS_JWT_ISSUER" default:"retailpos"`
	ExpirationMinutes int    `envconfig:"RETAILPOS_JWT_EXPIRATION_MINUTES" default:"720"`
}

// GatewayConfig drives the payment-provider client. BaseURL is overridable
// for stub servers in tests. Retry policy is a tunable, not a constant: the
// provider publishes no contractual values.
type GatewayConfig struct {
	BaseURL          string        `envconfig:"RETAILPOS_GATEWAY_BASE_URL" default:"https://api.stripe.com"`
	SecretKey        string        `envconfig:"RETAILPOS_GATEWAY_SECRET_KEY" required:"true"`
	RequestTimeout   time.Duration `envconfig:"RETAILPOS_GATEWAY_REQUEST_TIMEOUT" default:"30s"`
	RetryMaxAttempts uint          `envconfig:"RETAILPOS_GATEWAY_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialWait time.Duration `envconfig:"RETAILPOS_GATEWAY_RETRY_INITIAL_WAIT" default:"250ms"`
	RetryMaxWait     time.Duration `envconfig:"RETAILPOS_GATEWAY_RETRY_MAX_WAIT" default:"5s"`
	TerminalLocation string        `envconfig:"RETAILPOS_GATEWAY_TERMINAL_LOCATION"`
}

type WebhookConfig struct {
	SigningSecret  string        `envconfig:"RETAILPOS_WEBHOOK_SIGNING_SECRET" required:"true"`
	Tolerance      time.Duration `envconfig:"RETAILPOS_WEBHOOK_TOLERANCE" default:"5m"`
	GuardTTL       time.Duration `envconfig:"RETAILPOS_WEBHOOK_GUARD_TTL" default:"24h"`
	MaxPayloadSize int64         `envconfig:"RETAILPOS_WEBHOOK_MAX_PAYLOAD_BYTES" default:"262144"`
}

type RefundsConfig struct {
	AuthorizationThreshold string `envconfig:"RETAILPOS_REFUND_AUTHORIZATION_THRESHOLD" default:"100.00"`
}

// Threshold parses the configured refund-authorization threshold.
func (r RefundsConfig) Threshold() (decimal.Decimal, error) {
	threshold, err := decimal.NewFromString(strings.TrimSpace(r.AuthorizationThreshold))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid refund authorization threshold %q: %w", r.AuthorizationThreshold, err)
	}
	if threshold.IsNegative() {
		return decimal.Zero, fmt.Errorf("refund authorization threshold must not be negative")
	}
	return threshold, nil
}

type ReconcileConfig struct {
	PollInterval time.Duration `envconfig:"RETAILPOS_RECONCILE_POLL_INTERVAL" default:"1m"`
	StaleAfter   time.Duration `envconfig:"RETAILPOS_RECONCILE_STALE_AFTER" default:"15m"`
	BatchSize    int           `envconfig:"RETAILPOS_RECONCILE_BATCH_SIZE" default:"50"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RETAILPOS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RETAILPOS_AUTO_MIGRATE" default:"false"`
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
