package engine

import (
	"fmt"

	"nomo/internal/achievement"
	"nomo/internal/config"
	"nomo/internal/experience"
	"nomo/internal/logging"
	"nomo/internal/shop"
	"nomo/internal/streak"
	"nomo/internal/syncqueue"
)

// LoggingSettings converts the config section into logging settings.
func LoggingSettings(c config.LoggingConfig) logging.Settings {
	return logging.Settings{
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		Level:      c.Level,
		JSONFormat: c.JSONFormat(),
	}
}

func queueConfig(cfg *config.Config) syncqueue.Config {
	qc := syncqueue.Config{
		MaxRetry:       cfg.Sync.MaxRetry,
		BaseDelay:      cfg.GetSyncBaseDelay(),
		MaxDelay:       cfg.GetSyncMaxDelay(),
		AttemptTimeout: cfg.GetRemoteTimeout(),
		RatePerSecond:  cfg.Sync.RatePerSecond,
		Burst:          cfg.Sync.Burst,
	}
	if len(cfg.Sync.Priorities) > 0 {
		qc.Priorities = make(map[syncqueue.Kind]int, len(cfg.Sync.Priorities))
		for kind, p := range cfg.Sync.Priorities {
			qc.Priorities[syncqueue.Kind(kind)] = p
		}
	}
	return qc
}

func levelRewards(in []config.LevelRewardConfig) []experience.Reward {
	out := make([]experience.Reward, 0, len(in))
	for _, r := range in {
		out = append(out, experience.Reward{Level: r.Level, Entities: r.Entities, Zones: r.Zones})
	}
	return out
}

func milestones(in []config.MilestoneConfig) []streak.Milestone {
	if len(in) == 0 {
		return nil
	}
	out := make([]streak.Milestone, 0, len(in))
	for _, m := range in {
		out = append(out, streak.Milestone{Days: m.Days, Coins: m.Coins, XP: m.XP, Freezes: m.Freezes})
	}
	return out
}

func buildCatalog(items []config.ShopItemConfig) (*shop.Catalog, error) {
	if len(items) == 0 {
		return shop.DefaultCatalog(), nil
	}
	out := make([]shop.Item, 0, len(items))
	for _, it := range items {
		out = append(out, shop.Item{
			ID:        it.ID,
			Name:      it.Name,
			Category:  shop.Category(it.Category),
			Price:     it.Price,
			Exclusive: it.Exclusive,
			OneTime:   it.OneTime,
			Contents:  it.Contents,
			Effect:    it.Effect,
			Quantity:  it.Quantity,
		})
	}
	c, err := shop.NewCatalog(out)
	if err != nil {
		return nil, fmt.Errorf("invalid shop catalog: %w", err)
	}
	return c, nil
}

func definitions(in []config.AchievementConfig) []achievement.Definition {
	out := make([]achievement.Definition, 0, len(in))
	for _, a := range in {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		out = append(out, achievement.Definition{
			ID:        a.ID,
			Name:      name,
			Metric:    achievement.Metric(a.Metric),
			Threshold: a.Threshold,
		})
	}
	return out
}
