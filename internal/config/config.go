// Package config handles tradetalk configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for tradetalk.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Hub connection settings
	Hub HubConfig `yaml:"hub" mapstructure:"hub"`

	// Sync settings
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`

	// Daemon settings (tradetalkd only)
	Daemon DaemonConfig `yaml:"daemon" mapstructure:"daemon"`
}

// GlobalConfig contains global tradetalk settings.
type GlobalConfig struct {
	// DataDir is where tradetalk stores its data (default: ~/.local/share/tradetalk).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/tradetalk).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// HubConfig contains hub connection settings.
type HubConfig struct {
	// Addr is the hub address (host:port).
	Addr string `yaml:"addr" mapstructure:"addr"`

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// RequestTimeout is the per-request deadline.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// SyncConfig contains conversation sync settings.
type SyncConfig struct {
	// DirectoryRefreshInterval is how often the conversation list is re-fetched.
	DirectoryRefreshInterval time.Duration `yaml:"directory_refresh_interval" mapstructure:"directory_refresh_interval"`

	// PollInterval is how often the open conversation is polled.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// FailureThreshold is the consecutive poll failures before the
	// degraded indicator shows.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, dark, light).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowTimestamps shows message timestamps in the UI.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`

	// CompactMode uses a more compact layout.
	CompactMode bool `yaml:"compact_mode" mapstructure:"compact_mode"`
}

// DaemonConfig contains settings for the tradetalkd dev hub.
type DaemonConfig struct {
	// ListenAddr is the TCP listen address.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// DatabasePath is the SQLite database file path.
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "tradetalk"),
			ConfigDir: filepath.Join(homeDir, ".config", "tradetalk"),
		},
		Hub: HubConfig{
			Addr:           "127.0.0.1:7621",
			DialTimeout:    2 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			DirectoryRefreshInterval: 30 * time.Second,
			PollInterval:             3 * time.Second,
			FailureThreshold:         3,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		TUI: TUIConfig{
			Theme:          "default",
			ShowTimestamps: true,
			CompactMode:    false,
		},
		Daemon: DaemonConfig{
			ListenAddr:    "127.0.0.1:7621",
			DatabasePath:  "", // Will be set to DataDir/tradetalk.db
			BusyTimeoutMs: 5000,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Hub.Addr == "" {
		return fmt.Errorf("hub.addr is required")
	}

	if c.Sync.DirectoryRefreshInterval < time.Second {
		return fmt.Errorf("sync.directory_refresh_interval must be at least 1s")
	}

	if c.Sync.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("sync.poll_interval must be at least 100ms")
	}

	if c.Sync.FailureThreshold < 1 {
		return fmt.Errorf("sync.failure_threshold must be at least 1")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full daemon database path.
func (c *Config) DatabasePath() string {
	if c.Daemon.DatabasePath != "" {
		return c.Daemon.DatabasePath
	}
	return filepath.Join(c.Global.DataDir, "tradetalk.db")
}
