// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	SourceHTTP = "http"
	SourceSQL  = "sql"
)

// Config is read from the environment by both services.
type Config struct {
	Port                string `env:"PORT" envDefault:"8080"`
	Source              string `env:"GOSTOCK_SOURCE" envDefault:"http"`
	InventoryServiceURL string `env:"INVENTORY_SERVICE_URL" envDefault:"http://localhost:8081"`
	DatabaseDriver      string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL         string `env:"DATABASE_URL" envDefault:"gostock.db"`

	RefreshInterval       time.Duration `env:"REFRESH_INTERVAL" envDefault:"30s"`
	InvalidateDelay       time.Duration `env:"INVALIDATE_DELAY" envDefault:"500ms"`
	DueSoonWindow         time.Duration `env:"DUE_SOON_WINDOW" envDefault:"72h"`
	StaleMaintenanceAfter time.Duration `env:"STALE_MAINTENANCE_AFTER" envDefault:"720h"`
	FetchMaxTries         uint          `env:"FETCH_MAX_TRIES" envDefault:"3"`

	ExplicitRefreshRPS   float64 `env:"EXPLICIT_REFRESH_RPS" envDefault:"1"`
	ExplicitRefreshBurst int     `env:"EXPLICIT_REFRESH_BURST" envDefault:"3"`

	ChangefeedEnabled  bool          `env:"CHANGEFEED_ENABLED" envDefault:"false"`
	ChangefeedInterval time.Duration `env:"CHANGEFEED_INTERVAL" envDefault:"5s"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	ChangefeedChannel  string        `env:"CHANGEFEED_CHANNEL" envDefault:"gostock:changes"`

	ChaosFailureRate float64       `env:"CHAOS_FAILURE_RATE" envDefault:"0"`
	ChaosLatency     time.Duration `env:"CHAOS_LATENCY" envDefault:"0s"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Source {
	case SourceHTTP:
		if c.InventoryServiceURL == "" {
			errs = append(errs, errors.New("INVENTORY_SERVICE_URL is required when GOSTOCK_SOURCE=http"))
		}
	case SourceSQL:
	default:
		errs = append(errs, fmt.Errorf("GOSTOCK_SOURCE must be http or sql, got %q", c.Source))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres, sqlite or mysql, got %q", c.DatabaseDriver))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must be positive"))
	}
	if c.InvalidateDelay < 0 {
		errs = append(errs, errors.New("INVALIDATE_DELAY must not be negative"))
	}
	if c.DueSoonWindow <= 0 {
		errs = append(errs, errors.New("DUE_SOON_WINDOW must be positive"))
	}
	if c.StaleMaintenanceAfter <= 0 {
		errs = append(errs, errors.New("STALE_MAINTENANCE_AFTER must be positive"))
	}
	if c.FetchMaxTries == 0 {
		errs = append(errs, errors.New("FETCH_MAX_TRIES must be at least 1"))
	}
	if c.ExplicitRefreshRPS < 0 || c.ExplicitRefreshBurst < 0 {
		errs = append(errs, errors.New("EXPLICIT_REFRESH_RPS and EXPLICIT_REFRESH_BURST must not be negative"))
	}
	if c.ChaosFailureRate < 0 || c.ChaosFailureRate > 1 {
		errs = append(errs, fmt.Errorf("CHAOS_FAILURE_RATE must be within [0, 1], got %v", c.ChaosFailureRate))
	}
	if c.ChangefeedEnabled && c.ChangefeedInterval <= 0 {
		errs = append(errs, errors.New("CHANGEFEED_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// ChaosEnabled reports whether any fault injection is configured.
func (c Config) ChaosEnabled() bool {
	return c.ChaosFailureRate > 0 || c.ChaosLatency > 0
}
