package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "nomo" {
		t.Errorf("expected Name=nomo, got %s", cfg.Name)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("expected Backend=file, got %s", cfg.Storage.Backend)
	}
	if cfg.Sync.MaxRetry != 5 {
		t.Errorf("expected MaxRetry=5, got %d", cfg.Sync.MaxRetry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ".nomo", "config.yaml")

	cfg := DefaultConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Sync.MaxRetry = 7

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Storage.Backend != "sqlite" {
		t.Errorf("expected Backend=sqlite, got %s", loaded.Storage.Backend)
	}
	if loaded.Sync.MaxRetry != 7 {
		t.Errorf("expected MaxRetry=7, got %d", loaded.Sync.MaxRetry)
	}
	if len(loaded.Streak.Milestones) != 6 {
		t.Errorf("expected 6 milestones, got %d", len(loaded.Streak.Milestones))
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Progression.DefaultZone != "meadow" {
		t.Errorf("expected default zone meadow, got %s", cfg.Progression.DefaultZone)
	}
}

func TestConfig_LoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for invalid YAML")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown backend")
	}

	cfg = DefaultConfig()
	cfg.Remote.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for remote without base_url")
	}

	cfg = DefaultConfig()
	cfg.Streak.Milestones = []MilestoneConfig{{Days: 7}, {Days: 3}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unsorted milestones")
	}

	cfg = DefaultConfig()
	cfg.Shop.Items = []ShopItemConfig{{ID: "a", Price: 1}, {ID: "a", Price: 2}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for duplicate shop items")
	}

	cfg = DefaultConfig()
	cfg.Sync.MaxRetry = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for max_retry=0")
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetRemoteTimeout() != 10*time.Second {
		t.Errorf("GetRemoteTimeout = %v", cfg.GetRemoteTimeout())
	}
	if cfg.GetDrainInterval() != 30*time.Second {
		t.Errorf("GetDrainInterval = %v", cfg.GetDrainInterval())
	}

	cfg.Sync.BaseDelay = "garbage"
	if cfg.GetSyncBaseDelay() != 2*time.Second {
		t.Error("GetSyncBaseDelay should fall back on parse errors")
	}
}

// =============================================================================
// LOGGING CONFIG TESTS
// =============================================================================

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{DebugMode: false}
	if lc.IsCategoryEnabled("sync") {
		t.Error("production mode must disable every category")
	}

	lc = LoggingConfig{DebugMode: true, Categories: map[string]bool{"shop": false}}
	if lc.IsCategoryEnabled("shop") {
		t.Error("shop explicitly disabled")
	}
	if !lc.IsCategoryEnabled("sync") {
		t.Error("unlisted categories default to enabled")
	}
}
