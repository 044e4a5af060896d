package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the chatfeed configuration
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Polling  PollingConfig  `yaml:"polling"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SourceConfig locates the live Messages database
type SourceConfig struct {
	ChatDBPath string `yaml:"chat_db"`
}

// PollingConfig controls the extraction loop
type PollingConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
}

// SnapshotConfig controls source copy caching
type SnapshotConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Defaults applied when the config file is absent or a field is zero.
const (
	DefaultPollIntervalSeconds = 5
	DefaultBatchSize           = 100
	DefaultSnapshotTTLSeconds  = 60
)

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("CHATFEED_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "chatfeed"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("CHATFEED_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Chatfeed"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatfeed"), nil
	}

	return filepath.Join(home, ".local", "share", "chatfeed"), nil
}

// DefaultChatDBPath returns the standard location of the live Messages
// database, honoring the CHATFEED_SOURCE_DB override.
func DefaultChatDBPath() string {
	if override := os.Getenv("CHATFEED_SOURCE_DB"); override != "" {
		return os.ExpandEnv(override)
	}
	return os.ExpandEnv("$HOME/Library/Messages/chat.db")
}

// Load loads config from the config file, applying defaults for anything
// missing. A missing file is not an error.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	var cfg Config
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.ChatDBPath == "" {
		c.Source.ChatDBPath = DefaultChatDBPath()
	}
	if c.Polling.IntervalSeconds <= 0 {
		c.Polling.IntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.Polling.BatchSize <= 0 {
		c.Polling.BatchSize = DefaultBatchSize
	}
	if c.Snapshot.CacheTTLSeconds <= 0 {
		c.Snapshot.CacheTTLSeconds = DefaultSnapshotTTLSeconds
	}
}

// PollInterval returns the poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// SnapshotTTL returns the snapshot cache TTL as a duration
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Snapshot.CacheTTLSeconds) * time.Second
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
