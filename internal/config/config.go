// Package config loads corona's bootstrap configuration: where state lives,
// logging and backup settings. Values come from .corona.yaml, CORONA_* env
// vars and CLI flags bound by the cmd package.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid indicates a config value outside its allowed set.
var ErrInvalid = errors.New("invalid config")

// BackupConfig selects where backups are stored.
type BackupConfig struct {
	Driver    string `mapstructure:"driver"`
	Dir       string `mapstructure:"dir"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// Config holds the bootstrap configuration. Relative paths are resolved
// against Home by Load. A positive ScriptTimeout overrides the timeout kept in
// the app settings.
type Config struct {
	Home          string        `mapstructure:"home"`
	RuntimeFile   string        `mapstructure:"runtime_file"`
	HistoryDB     string        `mapstructure:"history_db"`
	TelemetryFile string        `mapstructure:"telemetry_file"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
	HistoryKeep   int           `mapstructure:"history_keep"`
	Backup        BackupConfig  `mapstructure:"backup"`
}

// ProfilesDir is where profile item files live.
func (c Config) ProfilesDir() string { return filepath.Join(c.Home, "profiles") }

// SettingsFile is the persisted app settings.
func (c Config) SettingsFile() string { return filepath.Join(c.Home, "settings.yaml") }

// ClashFile is the persisted clash runtime config.
func (c Config) ClashFile() string { return filepath.Join(c.Home, "clash.yaml") }

// ProfilesFile is the persisted profile list.
func (c Config) ProfilesFile() string { return filepath.Join(c.Home, "profiles.yaml") }

// defaultHome is $XDG_CONFIG_HOME/corona, falling back to ./.corona.
func defaultHome() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "corona")
	}
	return ".corona"
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("home", defaultHome())
	viper.SetDefault("runtime_file", "clash-runtime.yaml")
	viper.SetDefault("history_db", "history.db")
	viper.SetDefault("telemetry_file", "telemetry.jsonl")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("script_timeout", 0)
	viper.SetDefault("history_keep", 500)
	viper.SetDefault("backup.driver", "fs")
	viper.SetDefault("backup.dir", "backups")
	viper.SetDefault("backup.bucket", "")
	viper.SetDefault("backup.prefix", "corona")
	viper.SetDefault("backup.region", "")
	viper.SetDefault("backup.endpoint", "")
	viper.SetDefault("backup.path_style", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.Backup.Driver = strings.ToLower(cfg.Backup.Driver)
	switch {
	case !oneOf(cfg.LogLevel, "debug", "info", "warn", "error"):
		return Config{}, fmt.Errorf("config: log_level %q: %w", cfg.LogLevel, ErrInvalid)
	case !oneOf(cfg.LogFormat, "text", "json"):
		return Config{}, fmt.Errorf("config: log_format %q: %w", cfg.LogFormat, ErrInvalid)
	case !oneOf(cfg.Backup.Driver, "fs", "s3"):
		return Config{}, fmt.Errorf("config: backup.driver %q: %w", cfg.Backup.Driver, ErrInvalid)
	case cfg.Backup.Driver == "s3" && cfg.Backup.Bucket == "":
		return Config{}, fmt.Errorf("config: backup.bucket required for the s3 driver: %w", ErrInvalid)
	case cfg.ScriptTimeout < 0:
		return Config{}, fmt.Errorf("config: script_timeout %s: %w", cfg.ScriptTimeout, ErrInvalid)
	}

	cfg.RuntimeFile = resolve(cfg.Home, cfg.RuntimeFile)
	cfg.HistoryDB = resolve(cfg.Home, cfg.HistoryDB)
	cfg.TelemetryFile = resolve(cfg.Home, cfg.TelemetryFile)
	cfg.Backup.Dir = resolve(cfg.Home, cfg.Backup.Dir)
	return cfg, nil
}

func resolve(home, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
