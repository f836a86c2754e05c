package config

import "time"

// RemoteConfig configures the remote settlement authority.
type RemoteConfig struct {
	Enabled    bool   `yaml:"enabled" env:"NOMO_REMOTE_ENABLED"`
	BaseURL    string `yaml:"base_url" env:"NOMO_REMOTE_URL"`
	Token      string `yaml:"token" env:"NOMO_REMOTE_TOKEN"`
	Timeout    string `yaml:"timeout"`     // per submission, e.g. "10s"
	HealthPath string `yaml:"health_path"` // probed by the network monitor
}

// NetworkConfig configures connectivity detection.
type NetworkConfig struct {
	// ProbeEnabled turns on active probing of the remote health URL.
	// Without it the platform is expected to report transitions.
	ProbeEnabled    bool   `yaml:"probe_enabled" env:"NOMO_NETWORK_PROBE"`
	ProbeInterval   string `yaml:"probe_interval"`    // while online
	ProbeMaxBackoff string `yaml:"probe_max_backoff"` // ceiling while offline
	ProbeTimeout    string `yaml:"probe_timeout"`
}

// DefaultRemoteConfig returns the default remote settings (disabled).
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Enabled:    false,
		Timeout:    "10s",
		HealthPath: "/healthz",
	}
}

// DefaultNetworkConfig returns the default connectivity settings.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ProbeEnabled:    true,
		ProbeInterval:   "30s",
		ProbeMaxBackoff: "5m",
		ProbeTimeout:    "5s",
	}
}

// GetRemoteTimeout returns the per-submission timeout as a duration.
func (c *Config) GetRemoteTimeout() time.Duration {
	return parseDuration(c.Remote.Timeout, 10*time.Second)
}

// GetProbeInterval returns the online probe interval as a duration.
func (c *Config) GetProbeInterval() time.Duration {
	return parseDuration(c.Network.ProbeInterval, 30*time.Second)
}

// GetProbeMaxBackoff returns the offline probe backoff ceiling.
func (c *Config) GetProbeMaxBackoff() time.Duration {
	return parseDuration(c.Network.ProbeMaxBackoff, 5*time.Minute)
}

// GetProbeTimeout returns the timeout of a single probe request.
func (c *Config) GetProbeTimeout() time.Duration {
	return parseDuration(c.Network.ProbeTimeout, 5*time.Second)
}
