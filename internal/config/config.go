package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all nomo configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Persistence of the ledgers and the sync queue
	Storage StorageConfig `yaml:"storage"`

	// Remote authority and connectivity
	Remote  RemoteConfig  `yaml:"remote"`
	Network NetworkConfig `yaml:"network"`

	// Offline sync queue
	Sync SyncConfig `yaml:"sync"`

	// Gameplay tuning
	Economy      EconomyConfig       `yaml:"economy"`
	Streak       StreakConfig        `yaml:"streak"`
	Progression  ProgressionConfig   `yaml:"progression"`
	Shop         ShopConfig          `yaml:"shop"`
	Achievements []AchievementConfig `yaml:"achievements"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend   string `yaml:"backend" env:"NOMO_STORAGE_BACKEND"` // file, sqlite, memory
	Driver    string `yaml:"driver" env:"NOMO_SQLITE_DRIVER"`    // sqlite3 (cgo) or sqlite (pure Go)
	Path      string `yaml:"path" env:"NOMO_STORAGE_PATH"`       // directory (file) or database file (sqlite)
	Namespace string `yaml:"namespace"`                          // versioned key prefix
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "nomo",
		Version: "1.0.0",

		Storage: StorageConfig{
			Backend:   "file",
			Driver:    "sqlite3",
			Path:      ".nomo/state",
			Namespace: "nomo.v1",
		},

		Remote:  DefaultRemoteConfig(),
		Network: DefaultNetworkConfig(),
		Sync:    DefaultSyncConfig(),

		Economy:     DefaultEconomyConfig(),
		Streak:      DefaultStreakConfig(),
		Progression: DefaultProgressionConfig(),
		Achievements: []AchievementConfig{
			{ID: "first-purchase", Name: "Window Shopper", Metric: "purchases", Threshold: 1},
			{ID: "collector", Name: "Collector", Metric: "purchases", Threshold: 10},
			{ID: "streak-7", Name: "One Week Strong", Metric: "streak", Threshold: 7},
			{ID: "streak-30", Name: "Habit Formed", Metric: "streak", Threshold: 30},
			{ID: "level-10", Name: "Seasoned", Metric: "level", Threshold: 10},
			{ID: "level-25", Name: "Veteran", Metric: "level", Threshold: 25},
			{ID: "earned-1000", Name: "Coin Hoarder", Metric: "earned", Threshold: 1000},
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// DefaultConfigPath returns the path of .nomo/config.yaml under workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".nomo", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies NOMO_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ValidBackends lists all supported storage backends.
var ValidBackends = []string{"file", "sqlite", "memory"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validBackend := false
	for _, b := range ValidBackends {
		if c.Storage.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, ValidBackends)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Driver != "sqlite3" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("invalid sqlite driver: %s (valid: sqlite3, sqlite)", c.Storage.Driver)
	}
	if c.Storage.Namespace == "" {
		return fmt.Errorf("storage namespace must not be empty")
	}
	if c.Remote.Enabled && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote enabled but base_url is empty (set NOMO_REMOTE_URL)")
	}
	if err := c.ValidateSync(); err != nil {
		return err
	}
	if err := c.ValidateEconomy(); err != nil {
		return err
	}
	if _, err := c.Streak.Location(); err != nil {
		return fmt.Errorf("invalid streak timezone %q: %w", c.Streak.Timezone, err)
	}
	return nil
}

// parseDuration parses s, falling back to def on error or empty input.
func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
