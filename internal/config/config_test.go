package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupVault creates a vault directory with an optional .jot/config.yaml
// and initializes the configuration against it.
func setupVault(t *testing.T, configYAML string) string {
	t.Helper()

	vault := t.TempDir()
	if configYAML != "" {
		dir := filepath.Join(vault, MetaDir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatalf("write config failed: %v", err)
		}
	}

	if err := Initialize(vault); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	t.Cleanup(func() { v = nil })

	return vault
}

func TestDefaults(t *testing.T) {
	setupVault(t, "")

	if !GetBool("sync.enabled") {
		t.Error("sync.enabled default = false, want true")
	}
	if got := GetDuration("sync.debounce"); got != 2*time.Second {
		t.Errorf("sync.debounce default = %v, want 2s", got)
	}
	if got := GetDuration("sync.pull-interval"); got != 5*time.Minute {
		t.Errorf("sync.pull-interval default = %v, want 5m", got)
	}
	if got := GetInt("sync.max-retries"); got != 3 {
		t.Errorf("sync.max-retries default = %d, want 3", got)
	}
	if GetBool("dashboard.enabled") {
		t.Error("dashboard.enabled default = true, want false")
	}
	if got := GetInt("dashboard.port"); got != 8383 {
		t.Errorf("dashboard.port default = %d, want 8383", got)
	}
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	setupVault(t, `
sync:
  enabled: false
  debounce: 10s
  commit-template: "notes {date}"
dashboard:
  port: 9999
`)

	if GetBool("sync.enabled") {
		t.Error("sync.enabled = true, want file override false")
	}
	if got := GetDuration("sync.debounce"); got != 10*time.Second {
		t.Errorf("sync.debounce = %v, want 10s", got)
	}
	if got := GetString("sync.commit-template"); got != "notes {date}" {
		t.Errorf("sync.commit-template = %q, want notes {date}", got)
	}
	if got := GetInt("dashboard.port"); got != 9999 {
		t.Errorf("dashboard.port = %d, want 9999", got)
	}

	// Untouched keys keep their defaults.
	if got := GetInt("sync.max-retries"); got != 3 {
		t.Errorf("sync.max-retries = %d, want default 3", got)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("JOT_SYNC_MAX_RETRIES", "7")
	t.Setenv("JOT_SYNC_DEBOUNCE", "500ms")

	setupVault(t, "sync:\n  max-retries: 5\n")

	if got := GetInt("sync.max-retries"); got != 7 {
		t.Errorf("sync.max-retries = %d, want env override 7", got)
	}
	if got := GetDuration("sync.debounce"); got != 500*time.Millisecond {
		t.Errorf("sync.debounce = %v, want env override 500ms", got)
	}
}

func TestEngineConfig(t *testing.T) {
	vault := setupVault(t, `
sync:
  debounce: 3s
  pull-interval: 1m
  max-retries: 5
  retry-delay: 2s
  max-retry-delay: 1m
`)

	cfg := EngineConfig(vault)

	if cfg.Root != vault {
		t.Errorf("Root = %s, want %s", cfg.Root, vault)
	}
	if !cfg.Enabled {
		t.Error("Enabled = false, want default true")
	}
	if cfg.Debounce != 3*time.Second {
		t.Errorf("Debounce = %v, want 3s", cfg.Debounce)
	}
	if cfg.PullInterval != time.Minute {
		t.Errorf("PullInterval = %v, want 1m", cfg.PullInterval)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("Retry.MaxRetries = %d, want 5", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialDelay != 2*time.Second {
		t.Errorf("Retry.InitialDelay = %v, want 2s", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxDelay != time.Minute {
		t.Errorf("Retry.MaxDelay = %v, want 1m", cfg.Retry.MaxDelay)
	}
}

func TestPaths(t *testing.T) {
	vault := setupVault(t, "")

	if got, want := IndexPath(vault), filepath.Join(vault, MetaDir, "index.db"); got != want {
		t.Errorf("IndexPath() = %s, want %s", got, want)
	}
	if got, want := LogPath(vault), filepath.Join(vault, MetaDir, "jot.log"); got != want {
		t.Errorf("LogPath() = %s, want %s", got, want)
	}

	Set("log.file", "/var/log/jot.log")
	if got := LogPath(vault); got != "/var/log/jot.log" {
		t.Errorf("LogPath() = %s, want the log.file override", got)
	}
}

func TestWriteDefault(t *testing.T) {
	vault := t.TempDir()
	path := filepath.Join(vault, MetaDir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}

	// The written file must round-trip through Initialize.
	if err := Initialize(vault); err != nil {
		t.Fatalf("Initialize() on the written config failed: %v", err)
	}
	t.Cleanup(func() { v = nil })

	if !GetBool("sync.enabled") {
		t.Error("written config disabled sync")
	}
	if got := GetString("sync.commit-template"); got != "vault sync {date}" {
		t.Errorf("sync.commit-template = %q, want the default template", got)
	}

	// A second write must refuse to clobber.
	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() overwrote an existing config")
	}
}
