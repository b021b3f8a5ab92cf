// Package config provides configuration management for chart-patterns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"chart-patterns/internal/analysis"
	"chart-patterns/internal/chart"
	apperrors "chart-patterns/internal/errors"
	"chart-patterns/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Reversal    chart.ReversalConfig `mapstructure:"reversal"`
	Chart       ChartConfig          `mapstructure:"chart"`
	Data        DataConfig           `mapstructure:"data"`
	Store       StoreConfig          `mapstructure:"store"`
	Log         logging.LogConfig    `mapstructure:"log"`
	Credentials Credentials          `mapstructure:"-" json:"-"` // Loaded separately
}

// ChartConfig holds image output options.
type ChartConfig struct {
	Width  int    `mapstructure:"width" default:"1600" validate:"gte=200"`
	Height int    `mapstructure:"height" default:"900" validate:"gte=150"`
	Format string `mapstructure:"format" default:"png" validate:"oneof=png svg"`
}

// DataConfig holds defaults for candle fetches.
type DataConfig struct {
	Exchange     string `mapstructure:"exchange" default:"NSE" validate:"oneof=NSE BSE NFO MCX"`
	Timeframe    string `mapstructure:"timeframe" default:"day"`
	LookbackDays int    `mapstructure:"lookback_days" default:"365" validate:"gt=0"`
}

// StoreConfig holds the SQLite cache location and freshness window.
type StoreConfig struct {
	Path       string        `mapstructure:"path"`
	StaleAfter time.Duration `mapstructure:"stale_after" default:"12h" validate:"gt=0"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/chart-patterns"
	}
	return filepath.Join(home, ".config", "chart-patterns")
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	cfg := &Config{
		Reversal: chart.DefaultReversalConfig(),
		Log:      logging.DefaultLogConfig(),
	}
	_ = defaults.Set(&cfg.Chart)
	_ = defaults.Set(&cfg.Data)
	_ = defaults.Set(&cfg.Store)
	cfg.Store.Path = filepath.Join(DefaultConfigDir(), "data.db")
	return cfg
}

// Load loads configuration from the specified directory, writing templates
// for any missing file. If configDir is empty, uses the default directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	if err := loadFile(configDir, "config", configTemplate, 0o644, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadFile(configDir, "credentials", credentialsTemplate, 0o600, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFile decodes name.toml over target, leaving unset keys alone.
func loadFile(configDir, name, template string, perm os.FileMode, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return writeTemplate(configDir, name+".toml", template, perm)
		}
		return err
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("KITE_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("CHART_PATTERNS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := analysis.Validate(c.Chart); err != nil {
		return err
	}
	if err := analysis.Validate(c.Data); err != nil {
		return err
	}
	if err := analysis.Validate(c.Store); err != nil {
		return err
	}
	if _, err := chart.NewReversal(c.Reversal, zerolog.Nop()); err != nil {
		return err
	}
	return nil
}

// RequireKite reports whether Kite credentials are present.
func (c *Config) RequireKite() error {
	z := c.Credentials.Zerodha
	if z.APIKey == "" || z.APISecret == "" {
		verr := apperrors.NewValidationError("zerodha.api_key", z.APIKey,
			"Kite credentials are missing; set them in credentials.toml or KITE_API_KEY/KITE_API_SECRET")
		verr.Err = apperrors.ErrConfigInvalid
		return verr
	}
	return nil
}
