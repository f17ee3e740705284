// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DevJWTSecret is used when JWT_SECRET is empty outside production.
const DevJWTSecret = "scanpulse-development-secret-do-not-deploy"

const minProductionSecretLength = 32

// Supported values for enum-like settings.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	DispatchInline = "inline"
	DispatchStream = "stream"

	PendingAllow = "allow"
	PendingBlock = "block"

	GeoMaxMind = "maxmind"
	GeoHTTP    = "http"
	GeoNone    = "none"
)

// Configuration errors.
var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET must be set in production")
	ErrWeakJWTSecret    = errors.New("JWT_SECRET is too short or uses the development default")
	ErrInvalidSetting   = errors.New("invalid configuration value")
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Base URL used for relative destinations and QR images (e.g., https://qr.example)
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisURL      string `env:"REDIS_URL"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile   string `env:"LOG_FILE"`

	// Log file rotation, used only when LOG_FILE is set
	LogMaxSizeMB  int `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Auth
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"scanpulse"`

	// Redirect resolution
	PendingPolicy string `env:"PENDING_POLICY" envDefault:"allow"`

	// Scan recording
	ScanDispatch      string        `env:"SCAN_DISPATCH" envDefault:"inline"`
	ScanRecordTimeout time.Duration `env:"SCAN_RECORD_TIMEOUT" envDefault:"5s"`
	ScanMaxInflight   int           `env:"SCAN_MAX_INFLIGHT" envDefault:"256"`
	ScanWorkerEnabled bool          `env:"SCAN_WORKER_ENABLED" envDefault:"true"`

	// Geolocation
	GeoProvider     string        `env:"GEO_PROVIDER" envDefault:"none"`
	GeoIPDBPath     string        `env:"GEOIP_DB_PATH" envDefault:"GeoLite2-City.mmdb"`
	GeoIPReloadCron string        `env:"GEOIP_RELOAD_CRON"`
	GeoHTTPURL      string        `env:"GEO_HTTP_URL" envDefault:"http://ip-api.com/json/"`
	GeoTimeout      time.Duration `env:"GEO_TIMEOUT" envDefault:"1500ms"`

	// Rate limiting
	RateLimitRedirectEnabled bool `env:"RATE_LIMIT_REDIRECT_ENABLED" envDefault:"true"`
	RateLimitRedirectRPS     int  `env:"RATE_LIMIT_REDIRECT_RPS" envDefault:"100"`
	RateLimitRedirectBurst   int  `env:"RATE_LIMIT_REDIRECT_BURST" envDefault:"20"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Browser dashboards allowed to call the API, comma separated
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Expose Prometheus metrics on /metrics
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesRedis reports whether any configured component needs Redis.
func (c *Config) UsesRedis() bool {
	return c.RedisURL != "" || c.ScanDispatch == DispatchStream
}

// Validate checks cross-field rules that env tags cannot express.
// Production must carry an explicit, non-default signing secret.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return ErrMissingJWTSecret
		}
		if len(c.JWTSecret) < minProductionSecretLength || c.JWTSecret == DevJWTSecret {
			return ErrWeakJWTSecret
		}
	}

	if err := oneOf("STORAGE_DRIVER", c.StorageDriver, StorageMemory, StoragePostgres); err != nil {
		return err
	}
	if err := oneOf("SCAN_DISPATCH", c.ScanDispatch, DispatchInline, DispatchStream); err != nil {
		return err
	}
	if err := oneOf("PENDING_POLICY", c.PendingPolicy, PendingAllow, PendingBlock); err != nil {
		return err
	}
	if err := oneOf("GEO_PROVIDER", c.GeoProvider, GeoMaxMind, GeoHTTP, GeoNone); err != nil {
		return err
	}

	if c.StorageDriver == StoragePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required for postgres storage", ErrInvalidSetting)
	}
	if c.ScanDispatch == DispatchStream && c.RedisURL == "" {
		return fmt.Errorf("%w: REDIS_URL is required for stream dispatch", ErrInvalidSetting)
	}
	if c.ScanMaxInflight <= 0 {
		return fmt.Errorf("%w: SCAN_MAX_INFLIGHT must be positive", ErrInvalidSetting)
	}
	if c.GeoTimeout <= 0 {
		return fmt.Errorf("%w: GEO_TIMEOUT must be positive", ErrInvalidSetting)
	}

	return nil
}

// SigningSecret returns the JWT secret, substituting the development default when allowed.
func (c *Config) SigningSecret() string {
	if c.JWTSecret == "" && !c.IsProduction() {
		return DevJWTSecret
	}
	return c.JWTSecret
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q (allowed: %s)", ErrInvalidSetting, name, value, strings.Join(allowed, ", "))
}

// Load reads an optional .env file, parses environment variables and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
