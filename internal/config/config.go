// Package config loads jot configuration from the vault's .jot directory.
//
// Precedence: environment variables (JOT_*) over .jot/config.yaml over
// built-in defaults. The file is watched so the sync engine can be
// reconfigured in place when the user edits it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jotkit/jot/internal/autosync"
)

// MetaDir is the vault metadata directory name.
const MetaDir = ".jot"

var v *viper.Viper

// Initialize sets up the viper configuration singleton for the vault.
// Should be called once at application startup.
func Initialize(vault string) error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(vault, MetaDir))

	// User-level fallback (~/.config/jot/).
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "jot"))
	}

	// JOT_SYNC_ENABLED maps to "sync.enabled", and so on.
	v.SetEnvPrefix("JOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.debounce", "2s")
	v.SetDefault("sync.pull-interval", "5m")
	v.SetDefault("sync.max-retries", 3)
	v.SetDefault("sync.retry-delay", "1s")
	v.SetDefault("sync.max-retry-delay", "30s")
	v.SetDefault("sync.commit-template", "vault sync {date}")
	v.SetDefault("sync.notify-cooldown", "5m")

	v.SetDefault("index.enabled", true)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8383)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age", 7)
	v.SetDefault("log.compress", true)
}

// Watch registers fn to run whenever the config file changes on disk.
// Initialize must have been called first.
func Watch(fn func()) {
	if v == nil {
		return
	}
	v.OnConfigChange(func(fsnotify.Event) { fn() })
	v.WatchConfig()
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value (used by flag overrides).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// EngineConfig builds the sync engine configuration for the vault from
// the current settings.
func EngineConfig(vault string) autosync.Config {
	cfg := autosync.DefaultConfig(vault)
	if v == nil {
		return cfg
	}

	cfg.Enabled = v.GetBool("sync.enabled")
	if d := v.GetDuration("sync.debounce"); d > 0 {
		cfg.Debounce = d
	}
	cfg.PullInterval = v.GetDuration("sync.pull-interval")
	cfg.Retry = autosync.RetryPolicy{
		MaxRetries:   v.GetInt("sync.max-retries"),
		InitialDelay: v.GetDuration("sync.retry-delay"),
		MaxDelay:     v.GetDuration("sync.max-retry-delay"),
	}
	if t := v.GetString("sync.commit-template"); t != "" {
		cfg.CommitTemplate = t
	}
	cfg.NotifyCooldown = v.GetDuration("sync.notify-cooldown")

	return cfg
}

// IndexPath returns the note index database path for the vault.
func IndexPath(vault string) string {
	return filepath.Join(vault, MetaDir, "index.db")
}

// LogPath returns the daemon log file path for the vault, honoring an
// explicit log.file override.
func LogPath(vault string) string {
	if v != nil {
		if f := v.GetString("log.file"); f != "" {
			return f
		}
	}
	return filepath.Join(vault, MetaDir, "jot.log")
}

// defaultFile mirrors the defaults into a commented starting config.
type defaultFile struct {
	Sync struct {
		Enabled        bool   `yaml:"enabled"`
		Debounce       string `yaml:"debounce"`
		PullInterval   string `yaml:"pull-interval"`
		MaxRetries     int    `yaml:"max-retries"`
		RetryDelay     string `yaml:"retry-delay"`
		MaxRetryDelay  string `yaml:"max-retry-delay"`
		CommitTemplate string `yaml:"commit-template"`
		NotifyCooldown string `yaml:"notify-cooldown"`
	} `yaml:"sync"`
	Index struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"index"`
	Dashboard struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"dashboard"`
}

// WriteDefault writes a default config.yaml at path. Fails if the file
// already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	var d defaultFile
	d.Sync.Enabled = true
	d.Sync.Debounce = "2s"
	d.Sync.PullInterval = "5m"
	d.Sync.MaxRetries = 3
	d.Sync.RetryDelay = "1s"
	d.Sync.MaxRetryDelay = "30s"
	d.Sync.CommitTemplate = "vault sync {date}"
	d.Sync.NotifyCooldown = "5m"
	d.Index.Enabled = true
	d.Dashboard.Enabled = false
	d.Dashboard.Port = 8383

	data, err := yaml.Marshal(&d)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
