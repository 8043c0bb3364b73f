package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `envconfig:"APP_NAME" default:"FundsCore"`
	AppEnv         string        `envconfig:"APP_ENV" default:"development"`
	Port           string        `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"json"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	NATSURL        string        `envconfig:"NATS_URL"`
	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	MigrateOnStart bool          `envconfig:"MIGRATE_ON_START" default:"true"`
	CacheMirrorTTL time.Duration `envconfig:"CACHE_MIRROR_TTL" default:"0s"`

	Gateway Gateway
}

// Gateway holds settlement provider credentials and call policy.
type Gateway struct {
	BaseURL            string        `envconfig:"GATEWAY_BASE_URL"`
	APIKey             string        `envconfig:"GATEWAY_API_KEY"`
	Secret             string        `envconfig:"GATEWAY_SECRET"`
	CallbackURL        string        `envconfig:"GATEWAY_CALLBACK_URL"`
	Timeout            time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
	SettleUnderpayment bool          `envconfig:"GATEWAY_SETTLE_UNDERPAYMENT" default:"true"`
}

// Load reads an optional .env file, then populates a Config from the environment.
func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the settings required outside development.
func (c Config) Validate() error {
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.Gateway.Secret == "" {
		return fmt.Errorf("GATEWAY_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDev reports whether the process runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
