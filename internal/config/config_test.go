package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	home := t.TempDir()
	viper.Set("home", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Home", cfg.Home, home},
		{"RuntimeFile", cfg.RuntimeFile, filepath.Join(home, "clash-runtime.yaml")},
		{"HistoryDB", cfg.HistoryDB, filepath.Join(home, "history.db")},
		{"TelemetryFile", cfg.TelemetryFile, filepath.Join(home, "telemetry.jsonl")},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"ScriptTimeout", cfg.ScriptTimeout, time.Duration(0)},
		{"HistoryKeep", cfg.HistoryKeep, 500},
		{"Backup.Driver", cfg.Backup.Driver, "fs"},
		{"Backup.Dir", cfg.Backup.Dir, filepath.Join(home, "backups")},
		{"ProfilesDir", cfg.ProfilesDir(), filepath.Join(home, "profiles")},
		{"ClashFile", cfg.ClashFile(), filepath.Join(home, "clash.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "runtime_file absolute",
			envKey: "CORONA_RUNTIME_FILE",
			envVal: "/etc/clash/config.yaml",
			field:  func(c Config) any { return c.RuntimeFile },
			want:   "/etc/clash/config.yaml",
		},
		{
			name:   "log_level",
			envKey: "CORONA_LOG_LEVEL",
			envVal: "DEBUG",
			field:  func(c Config) any { return c.LogLevel },
			want:   "debug",
		},
		{
			name:   "script_timeout",
			envKey: "CORONA_SCRIPT_TIMEOUT",
			envVal: "3s",
			field:  func(c Config) any { return c.ScriptTimeout },
			want:   3 * time.Second,
		},
		{
			name:   "history_keep",
			envKey: "CORONA_HISTORY_KEEP",
			envVal: "10",
			field:  func(c Config) any { return c.HistoryKeep },
			want:   10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.SetEnvPrefix("CORONA")
			viper.AutomaticEnv()
			viper.Set("home", t.TempDir())
			t.Setenv(tt.envKey, tt.envVal)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			if got := tt.field(cfg); got != tt.want {
				t.Errorf("%s: got %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"log level", "log_level", "loud"},
		{"log format", "log_format", "xml"},
		{"backup driver", "backup.driver", "ftp"},
		{"s3 without bucket", "backup.driver", "s3"},
		{"negative timeout", "script_timeout", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.Set("home", t.TempDir())
			viper.Set(tt.key, tt.val)

			if _, err := Load(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}
