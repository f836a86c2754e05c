package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"NOMO_LOG_LEVEL"`
	// Format is json or text.
	Format string `yaml:"format"`
	// DebugMode is the master toggle - false = no logging (production).
	DebugMode  bool            `yaml:"debug_mode" env:"NOMO_DEBUG"`
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// JSONFormat reports whether structured JSON lines were requested.
func (c *LoggingConfig) JSONFormat() bool {
	return c.Format == "json"
}
