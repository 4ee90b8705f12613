package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	if cfg.Hub.Addr != "127.0.0.1:7621" {
		t.Errorf("hub.addr = %q", cfg.Hub.Addr)
	}
	if cfg.Sync.DirectoryRefreshInterval != 30*time.Second {
		t.Errorf("directory_refresh_interval = %v", cfg.Sync.DirectoryRefreshInterval)
	}
	if cfg.Sync.PollInterval != 3*time.Second {
		t.Errorf("poll_interval = %v", cfg.Sync.PollInterval)
	}
	if cfg.Sync.FailureThreshold != 3 {
		t.Errorf("failure_threshold = %d", cfg.Sync.FailureThreshold)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
hub:
  addr: "10.0.0.5:9000"
sync:
  poll_interval: 5s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Hub.Addr != "10.0.0.5:9000" {
		t.Errorf("hub.addr = %q", cfg.Hub.Addr)
	}
	if cfg.Sync.PollInterval != 5*time.Second {
		t.Errorf("poll_interval = %v", cfg.Sync.PollInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Sync.DirectoryRefreshInterval != 30*time.Second {
		t.Errorf("directory_refresh_interval = %v", cfg.Sync.DirectoryRefreshInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRADETALK_HUB_ADDR", "192.168.1.9:7621")
	t.Setenv("TRADETALK_LOGGING_LEVEL", "warn")

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	if cfg.Hub.Addr != "192.168.1.9:7621" {
		t.Errorf("hub.addr = %q", cfg.Hub.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
sync:
  poll_interval: 1ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected validation error for sub-100ms poll interval")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicitly specified missing file")
	}
}

func TestExpandTilde(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"/abs/path", "/abs/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		if got := expandTilde(tt.in); got != tt.want {
			t.Errorf("expandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
