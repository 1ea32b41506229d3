package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/franklinbaldo/baliza-sub001/internal/source"
)

const dateFormat = "2006-01-02"

// Config is everything a run needs. A config file is required because the
// source list is structured; every scalar can still be overridden through
// BALIZA_* environment variables.
type Config struct {
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	UserAgent string `mapstructure:"user_agent" validate:"required"`
	DBPath    string `mapstructure:"db_path" validate:"required"`

	// PayloadBackend selects where response bodies live: the ledger database
	// itself, or a separate bbolt file.
	PayloadBackend string `mapstructure:"payload_backend" validate:"oneof=sqlite bbolt"`
	PayloadPath    string `mapstructure:"payload_path" validate:"required_if=PayloadBackend bbolt"`

	DateStart string          `mapstructure:"date_start" validate:"required,datetime=2006-01-02"`
	DateEnd   string          `mapstructure:"date_end" validate:"required,datetime=2006-01-02"`
	Sources   []source.Source `mapstructure:"sources" validate:"required,min=1,dive"`

	DiscoveryWorkers int `mapstructure:"discovery_workers" validate:"min=1"`
	MaxInFlight      int `mapstructure:"max_in_flight" validate:"min=1"`

	Retry   Retry   `mapstructure:"retry"`
	Breaker Breaker `mapstructure:"breaker"`

	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"nonzero_duration"`
	StallThreshold    int           `mapstructure:"stall_threshold" validate:"min=1"`

	// StatusAddr enables the read-only status listener when non-empty.
	StatusAddr string `mapstructure:"status_addr"`
}

type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"nonzero_duration"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"nonzero_duration"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

type Breaker struct {
	Threshold   int           `mapstructure:"threshold" validate:"min=1"`
	Cooldown    time.Duration `mapstructure:"cooldown" validate:"nonzero_duration"`
	MaxCooldown time.Duration `mapstructure:"max_cooldown" validate:"nonzero_duration"`
}

// Load reads the config file at path, or searches the default locations when
// path is empty. Configuration errors are the only process-fatal failures,
// so callers are expected to exit on a non-nil error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("baliza")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("baliza")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_url", "https://pncp.gov.br/api/consulta")
	v.SetDefault("user_agent", "baliza/1.0 (+https://github.com/franklinbaldo/baliza-sub001)")
	v.SetDefault("db_path", "baliza.db")
	v.SetDefault("payload_backend", "sqlite")
	v.SetDefault("discovery_workers", 2)
	v.SetDefault("max_in_flight", 8)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", 30*time.Second)
	v.SetDefault("breaker.max_cooldown", 5*time.Minute)
	v.SetDefault("reconcile_interval", 30*time.Second)
	v.SetDefault("stall_threshold", 3)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	_ = v.RegisterValidation("nonzero_duration", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(time.Duration)
		return ok && d > 0
	})
	if err := v.Struct(c); err != nil {
		return err
	}

	from, to := c.Window()
	if from.After(to) {
		return fmt.Errorf("date_start %s is after date_end %s", c.DateStart, c.DateEnd)
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
	}
	return nil
}

// Window returns the configured date range. Only valid after Validate.
func (c *Config) Window() (from, to time.Time) {
	from, _ = time.Parse(dateFormat, c.DateStart)
	to, _ = time.Parse(dateFormat, c.DateEnd)
	return from, to
}

// SourceMap indexes the configured sources by name for task lookups.
func (c *Config) SourceMap() map[string]source.Source {
	m := make(map[string]source.Source, len(c.Sources))
	for _, src := range c.Sources {
		m[src.Name] = src
	}
	return m
}
