package config

import (
	"fmt"
	"time"
)

// SyncConfig tunes the offline sync queue.
type SyncConfig struct {
	MaxRetry      int            `yaml:"max_retry" env:"NOMO_SYNC_MAX_RETRY"`
	BaseDelay     string         `yaml:"base_delay"`     // backoff after the first failure
	MaxDelay      string         `yaml:"max_delay"`      // backoff ceiling
	DrainInterval string         `yaml:"drain_interval"` // periodic drain while online
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	Priorities    map[string]int `yaml:"priorities"` // operation kind -> priority
}

// DefaultSyncConfig returns the default queue tuning.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxRetry:      5,
		BaseDelay:     "2s",
		MaxDelay:      "5m",
		DrainInterval: "30s",
		RatePerSecond: 5,
		Burst:         5,
		Priorities: map[string]int{
			"purchase": 30,
			"debit":    30,
			"credit":   20,
			"xp":       10,
			"streak":   10,
		},
	}
}

// ValidateSync checks that the queue tuning is usable.
func (c *Config) ValidateSync() error {
	if c.Sync.MaxRetry < 1 {
		return fmt.Errorf("sync.max_retry must be >= 1")
	}
	if c.Sync.RatePerSecond <= 0 {
		return fmt.Errorf("sync.rate_per_second must be > 0")
	}
	if c.Sync.Burst < 1 {
		return fmt.Errorf("sync.burst must be >= 1")
	}
	return nil
}

// GetSyncBaseDelay returns the first retry delay as a duration.
func (c *Config) GetSyncBaseDelay() time.Duration {
	return parseDuration(c.Sync.BaseDelay, 2*time.Second)
}

// GetSyncMaxDelay returns the retry delay ceiling as a duration.
func (c *Config) GetSyncMaxDelay() time.Duration {
	return parseDuration(c.Sync.MaxDelay, 5*time.Minute)
}

// GetDrainInterval returns the periodic drain interval as a duration.
func (c *Config) GetDrainInterval() time.Duration {
	return parseDuration(c.Sync.DrainInterval, 30*time.Second)
}
