package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the platform reads.
	EnvPrefix = "HARBORLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Idempotency  IdempotencyConfig
	Cron         CronConfig
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
	Env          string `envconfig:"HARBORLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"HARBORLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HARBORLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HARBORLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"HARBORLINE_DB_DSN"`

	Host     string `envconfig:"HARBORLINE_DB_HOST"`
	Port     int    `envconfig:"HARBORLINE_DB_PORT" default:"5432"`
	User     string `envconfig:"HARBORLINE_DB_USER"`
	Password string `envconfig:"HARBORLINE_DB_PASSWORD"`
	Name     string `envconfig:"HARBORLINE_DB_NAME"`
	SSLMode  string `envconfig:"HARBORLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HARBORLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HARBORLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HARBORLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HARBORLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HARBORLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"HARBORLINE_REDIS_ADDR"`
	Password     string        `envconfig:"HARBORLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"HARBORLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HARBORLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HARBORLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HARBORLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HARBORLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HARBORLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"HARBORLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"HARBORLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"HARBORLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey string `envconfig:"HARBORLINE_STRIPE_API_KEY"`
	Secret string `envconfig:"HARBORLINE_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"HARBORLINE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID string `envconfig:"HARBORLINE_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	ProvisioningTopic        string `envconfig:"HARBORLINE_PUBSUB_PROVISIONING_TOPIC" required:"true"`
	ProvisioningSubscription string `envconfig:"HARBORLINE_PUBSUB_PROVISIONING_SUBSCRIPTION"`
}

type IdempotencyConfig struct {
	TTL           time.Duration `envconfig:"HARBORLINE_IDEMPOTENCY_TTL" default:"24h"`
	WebhookTTL    time.Duration `envconfig:"HARBORLINE_IDEMPOTENCY_WEBHOOK_TTL" default:"72h"`
	RetryAfter    time.Duration `envconfig:"HARBORLINE_IDEMPOTENCY_RETRY_AFTER" default:"5s"`
	CacheTTL      time.Duration `envconfig:"HARBORLINE_IDEMPOTENCY_CACHE_TTL" default:"10m"`
	SweepInterval time.Duration `envconfig:"HARBORLINE_IDEMPOTENCY_SWEEP_INTERVAL" default:"1h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"HARBORLINE_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"HARBORLINE_CRON_LOCK_TTL" default:"30m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"HARBORLINE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		"HARBORLINE_DB_HOST": db.Host,
		"HARBORLINE_DB_USER": db.User,
		"HARBORLINE_DB_NAME": db.Name,
	}
	for _, env := range []string{"HARBORLINE_DB_HOST", "HARBORLINE_DB_USER", "HARBORLINE_DB_NAME"} {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either HARBORLINE_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
