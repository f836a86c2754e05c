package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("remote url and enable flag", func(t *testing.T) {
		t.Setenv("NOMO_REMOTE_URL", "https://api.example.test")
		t.Setenv("NOMO_REMOTE_ENABLED", "true")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "https://api.example.test", cfg.Remote.BaseURL)
		assert.True(t, cfg.Remote.Enabled)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("storage backend and path", func(t *testing.T) {
		t.Setenv("NOMO_STORAGE_BACKEND", "sqlite")
		t.Setenv("NOMO_STORAGE_PATH", "/tmp/nomo.db")
		t.Setenv("NOMO_SQLITE_DRIVER", "sqlite")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "sqlite", cfg.Storage.Backend)
		assert.Equal(t, "/tmp/nomo.db", cfg.Storage.Path)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
	})

	t.Run("unset variables keep file values", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sync.MaxRetry = 9
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, 9, cfg.Sync.MaxRetry)
		assert.Equal(t, "meadow", cfg.Progression.DefaultZone)
	})

	t.Run("numeric override", func(t *testing.T) {
		t.Setenv("NOMO_SYNC_MAX_RETRY", "3")
		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, 3, cfg.Sync.MaxRetry)
	})

	t.Run("malformed numeric override fails", func(t *testing.T) {
		t.Setenv("NOMO_SYNC_MAX_RETRY", "many")
		cfg := DefaultConfig()
		assert.Error(t, cfg.applyEnvOverrides())
	})

	t.Run("debug toggle", func(t *testing.T) {
		t.Setenv("NOMO_DEBUG", "true")
		t.Setenv("NOMO_LOG_LEVEL", "debug")
		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())
		assert.True(t, cfg.Logging.DebugMode)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}
