package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Payout    PayoutConfig
	RateLimit RateLimitConfig
	Eventing  EventingConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Payout.MinAmountDecimal(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CASHLOOP_APP_ENV" required:"true"`
	Port         string `envconfig:"CASHLOOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CASHLOOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CASHLOOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CASHLOOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CASHLOOP_DB_DSN"`
	Driver string `envconfig:"CASHLOOP_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CASHLOOP_DB_HOST"`
	Port     int    `envconfig:"CASHLOOP_DB_PORT" default:"5432"`
	User     string `envconfig:"CASHLOOP_DB_USER"`
	Password string `envconfig:"CASHLOOP_DB_PASSWORD"`
	Name     string `envconfig:"CASHLOOP_DB_NAME"`
	SSLMode  string `envconfig:"CASHLOOP_DB_SSLMODE" default:"disable"`

	AutoMigrate bool `envconfig:"CASHLOOP_DB_AUTO_MIGRATE" default:"false"`

	MaxOpenConns    int           `envconfig:"CASHLOOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CASHLOOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CASHLOOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CASHLOOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CASHLOOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CASHLOOP_REDIS_ADDR"`
	Password     string        `envconfig:"CASHLOOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"CASHLOOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CASHLOOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CASHLOOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CASHLOOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CASHLOOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CASHLOOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CASHLOOP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CASHLOOP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CASHLOOP_JWT_EXPIRATION_MINUTES" default:"60"`
}

// PayoutConfig tunes the payout commit coordinator.
type PayoutConfig struct {
	MinAmount         string        `envconfig:"CASHLOOP_PAYOUT_MIN_AMOUNT" default:"10.00"`
	CommitMaxAttempts int           `envconfig:"CASHLOOP_PAYOUT_COMMIT_MAX_ATTEMPTS" default:"3"`
	CommitBackoffBase time.Duration `envconfig:"CASHLOOP_PAYOUT_COMMIT_BACKOFF_BASE" default:"50ms"`
	CommitBackoffMax  time.Duration `envconfig:"CASHLOOP_PAYOUT_COMMIT_BACKOFF_MAX" default:"1s"`
}

// MinAmountDecimal parses the configured minimum payout amount.
func (p PayoutConfig) MinAmountDecimal() (decimal.Decimal, error) {
	min, err := decimal.NewFromString(strings.TrimSpace(p.MinAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid payout minimum %q: %w", p.MinAmount, err)
	}
	if min.IsNegative() {
		return decimal.Zero, fmt.Errorf("payout minimum must not be negative, got %s", min)
	}
	return min, nil
}

type RateLimitConfig struct {
	PayoutWindow    time.Duration `envconfig:"CASHLOOP_RATE_LIMIT_PAYOUT_WINDOW" default:"1m"`
	PayoutUserLimit int           `envconfig:"CASHLOOP_RATE_LIMIT_PAYOUT_USER_LIMIT" default:"5"`
}

type EventingConfig struct {
	PayoutIdempotencyTTL time.Duration `envconfig:"CASHLOOP_EVENTING_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CASHLOOP_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"CASHLOOP_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	PayoutTopic        string `envconfig:"CASHLOOP_PUBSUB_PAYOUT_TOPIC" default:"cl-payout-events"`
	PayoutSubscription string `envconfig:"CASHLOOP_PUBSUB_PAYOUT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CASHLOOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CASHLOOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CASHLOOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
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
