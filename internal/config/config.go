package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for a magnetar invocation.
// Values are populated from .magnetar.yaml, MAGNETAR_* env vars, and CLI
// flags.
type Config struct {
	// StorePath is the SQLite database holding the project/package graph.
	StorePath string `mapstructure:"store_path"`
	// FixturePath, when set, is a TOML world description loaded into the
	// store and the local backend before every command.
	FixturePath string `mapstructure:"fixture_path"`
	// TelemetryPath is the JSONL event log; empty disables telemetry.
	TelemetryPath string `mapstructure:"telemetry_path"`
	// Principal is the acting user for branch operations.
	Principal string `mapstructure:"principal"`
	// AutoCleanupDays sets the expiry on new branch projects.
	AutoCleanupDays int  `mapstructure:"auto_cleanup_days"`
	Verbose         bool `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for
// any values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("store_path", "magnetar.db")
	viper.SetDefault("fixture_path", "")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("principal", defaultPrincipal())
	viper.SetDefault("auto_cleanup_days", 14)
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultPrincipal() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
