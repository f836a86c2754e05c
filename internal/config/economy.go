package config

import (
	"fmt"
	"time"
)

// EconomyConfig tunes coin and XP rewards for focus sessions.
type EconomyConfig struct {
	StartingBalance   int64 `yaml:"starting_balance"`
	CoinsPerMinute    int64 `yaml:"coins_per_minute"`
	XPPerMinute       int64 `yaml:"xp_per_minute"`
	MinSessionMinutes int64 `yaml:"min_session_minutes"`
	MaxSessionMinutes int64 `yaml:"max_session_minutes"` // longer samples are clamped
}

// MilestoneConfig is one streak milestone and its one-time reward.
type MilestoneConfig struct {
	Days    int   `yaml:"days"`
	Coins   int64 `yaml:"coins"`
	XP      int64 `yaml:"xp"`
	Freezes int   `yaml:"freezes"`
}

// StreakConfig configures calendar handling and milestones.
type StreakConfig struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone   string            `yaml:"timezone" env:"NOMO_TIMEZONE"`
	Milestones []MilestoneConfig `yaml:"milestones"`
}

// LevelRewardConfig unlocks entities and zones when a level is reached.
type LevelRewardConfig struct {
	Level    int      `yaml:"level"`
	Entities []string `yaml:"entities"`
	Zones    []string `yaml:"zones"`
}

// ProgressionConfig configures the experience ledger's starting content.
type ProgressionConfig struct {
	DefaultZone      string              `yaml:"default_zone"`
	StartingEntities []string            `yaml:"starting_entities"`
	LevelRewards     []LevelRewardConfig `yaml:"level_rewards"`
}

// ShopItemConfig describes one catalog entry.
type ShopItemConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"` // character, cosmetic, bundle, consumable
	Price     int64    `yaml:"price"`
	Exclusive bool     `yaml:"exclusive"`
	OneTime   bool     `yaml:"one_time"`
	Contents  []string `yaml:"contents"` // bundle contents: item ids
	Effect    string   `yaml:"effect"`   // consumable effect, e.g. streak-freeze
	Quantity  int      `yaml:"quantity"`
}

// ShopConfig holds the catalog. Empty means the built-in catalog.
type ShopConfig struct {
	Items []ShopItemConfig `yaml:"items"`
}

// AchievementConfig is a threshold achievement over one observed metric.
type AchievementConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Metric    string `yaml:"metric"` // purchases, streak, level, earned, sessions
	Threshold int64  `yaml:"threshold"`
}

// DefaultEconomyConfig returns the default reward tuning.
func DefaultEconomyConfig() EconomyConfig {
	return EconomyConfig{
		StartingBalance:   0,
		CoinsPerMinute:    1,
		XPPerMinute:       2,
		MinSessionMinutes: 5,
		MaxSessionMinutes: 240,
	}
}

// DefaultStreakConfig returns the 3/7/14/30/60/100 milestone table.
func DefaultStreakConfig() StreakConfig {
	return StreakConfig{
		Milestones: []MilestoneConfig{
			{Days: 3, Coins: 25},
			{Days: 7, Coins: 75, Freezes: 1},
			{Days: 14, Coins: 150, XP: 50},
			{Days: 30, Coins: 400, XP: 150, Freezes: 1},
			{Days: 60, Coins: 800, XP: 300, Freezes: 2},
			{Days: 100, Coins: 1500, XP: 600, Freezes: 3},
		},
	}
}

// DefaultProgressionConfig returns the starting pets and biome unlocks.
func DefaultProgressionConfig() ProgressionConfig {
	return ProgressionConfig{
		DefaultZone:      "meadow",
		StartingEntities: []string{"bunny"},
		LevelRewards: []LevelRewardConfig{
			{Level: 3, Entities: []string{"fox"}},
			{Level: 5, Entities: []string{"owl"}, Zones: []string{"forest"}},
			{Level: 10, Entities: []string{"deer"}, Zones: []string{"beach"}},
			{Level: 15, Entities: []string{"penguin"}, Zones: []string{"mountain"}},
			{Level: 20, Entities: []string{"bear"}},
			{Level: 25, Zones: []string{"tundra"}},
			{Level: 40, Zones: []string{"volcano"}},
		},
	}
}

// Location resolves the streak timezone.
func (c StreakConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ValidateEconomy checks reward tuning, milestones and catalog entries.
func (c *Config) ValidateEconomy() error {
	if c.Economy.StartingBalance < 0 {
		return fmt.Errorf("economy.starting_balance must be >= 0")
	}
	if c.Economy.CoinsPerMinute < 0 || c.Economy.XPPerMinute < 0 {
		return fmt.Errorf("economy rewards per minute must be >= 0")
	}
	prev := 0
	for _, m := range c.Streak.Milestones {
		if m.Days <= prev {
			return fmt.Errorf("streak milestones must be strictly increasing (got %d after %d)", m.Days, prev)
		}
		if m.Coins < 0 || m.XP < 0 || m.Freezes < 0 {
			return fmt.Errorf("streak milestone %d has a negative reward", m.Days)
		}
		prev = m.Days
	}
	if c.Progression.DefaultZone == "" {
		return fmt.Errorf("progression.default_zone must not be empty")
	}
	seen := make(map[string]bool, len(c.Shop.Items))
	for _, item := range c.Shop.Items {
		if item.ID == "" {
			return fmt.Errorf("shop item without id")
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate shop item %q", item.ID)
		}
		seen[item.ID] = true
		if item.Price < 0 {
			return fmt.Errorf("shop item %q has a negative price", item.ID)
		}
	}
	return nil
}
