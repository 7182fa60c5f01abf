package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from PARLEY_* environment variables.
type Config struct {
	Addr       string        `envconfig:"ADDR" default:":8787"`
	CORSOrigin string        `envconfig:"CORS_ORIGIN" default:"*"`
	JWTSecret  string        `envconfig:"JWT_SECRET" default:"parley-dev-secret"`
	TokenTTL   time.Duration `envconfig:"TOKEN_TTL" default:"15m"`

	// Tenant descriptors live in TenantConfigDir as <code>.yaml. When
	// TenantRedisURL is set, Redis is consulted after the directory.
	TenantConfigDir   string        `envconfig:"TENANT_CONFIG_DIR" default:"./data/tenants"`
	TenantRedisURL    string        `envconfig:"TENANT_REDIS_URL"`
	TenantOpenTimeout time.Duration `envconfig:"TENANT_OPEN_TIMEOUT" default:"5s"`
	WatchTenants      bool          `envconfig:"WATCH_TENANTS" default:"true"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`

	DBMaxOpenConns int `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns int `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`

	FanoutBuffer int `envconfig:"FANOUT_BUFFER" default:"32"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Dev      bool   `envconfig:"DEV"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("parley", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TenantConfigDir == "" && c.TenantRedisURL == "" {
		return fmt.Errorf("config: one of PARLEY_TENANT_CONFIG_DIR or PARLEY_TENANT_REDIS_URL is required")
	}
	if c.TenantOpenTimeout <= 0 {
		return fmt.Errorf("config: PARLEY_TENANT_OPEN_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: PARLEY_REQUEST_TIMEOUT must be positive")
	}
	if c.FanoutBuffer <= 0 {
		return fmt.Errorf("config: PARLEY_FANOUT_BUFFER must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: PARLEY_JWT_SECRET is required")
	}
	return nil
}
