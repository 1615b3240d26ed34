package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"StorePath", cfg.StorePath, "magnetar.db"},
		{"FixturePath", cfg.FixturePath, ""},
		{"TelemetryPath", cfg.TelemetryPath, ""},
		{"AutoCleanupDays", cfg.AutoCleanupDays, 14},
		{"Verbose", cfg.Verbose, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_PrincipalFallsBackToUser(t *testing.T) {
	resetViper()

	old, had := os.LookupEnv("USER")
	os.Setenv("USER", "maintbot")
	defer func() {
		if had {
			os.Setenv("USER", old)
		} else {
			os.Unsetenv("USER")
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Principal != "maintbot" {
		t.Errorf("Principal = %q, want %q", cfg.Principal, "maintbot")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetViper()

	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "store_path",
			envKey: "MAGNETAR_STORE_PATH",
			envVal: "/var/lib/magnetar/graph.db",
			field:  func(c Config) any { return c.StorePath },
			want:   "/var/lib/magnetar/graph.db",
		},
		{
			name:   "fixture_path",
			envKey: "MAGNETAR_FIXTURE_PATH",
			envVal: "world.toml",
			field:  func(c Config) any { return c.FixturePath },
			want:   "world.toml",
		},
		{
			name:   "telemetry_path",
			envKey: "MAGNETAR_TELEMETRY_PATH",
			envVal: "/tmp/magnetar.jsonl",
			field:  func(c Config) any { return c.TelemetryPath },
			want:   "/tmp/magnetar.jsonl",
		},
		{
			name:   "principal",
			envKey: "MAGNETAR_PRINCIPAL",
			envVal: "releasemgr",
			field:  func(c Config) any { return c.Principal },
			want:   "releasemgr",
		},
		{
			name:   "auto_cleanup_days",
			envKey: "MAGNETAR_AUTO_CLEANUP_DAYS",
			envVal: "30",
			field:  func(c Config) any { return c.AutoCleanupDays },
			want:   30,
		},
		{
			name:   "verbose",
			envKey: "MAGNETAR_VERBOSE",
			envVal: "true",
			field:  func(c Config) any { return c.Verbose },
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			// Set env prefix so MAGNETAR_* env vars map to config keys.
			viper.SetEnvPrefix("MAGNETAR")
			viper.AutomaticEnv()

			os.Setenv(tt.envKey, tt.envVal)
			defer os.Unsetenv(tt.envKey)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			got := tt.field(cfg)
			if got != tt.want {
				t.Errorf("%s: got %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestLoad_DefaultsAreNotZero(t *testing.T) {
	resetViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.StorePath == "" {
		t.Error("StorePath should not be empty")
	}
	if cfg.Principal == "" {
		t.Error("Principal should not be empty")
	}
	if cfg.AutoCleanupDays == 0 {
		t.Error("AutoCleanupDays should not be zero")
	}
}
