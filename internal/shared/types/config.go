package types

import "time"

// CommonConf contains the forwarding listener's behavior configuration.
type CommonConf struct {
	ListenPort            int `ini:"listen_port"`
	RequestTimeoutSeconds int `ini:"request_timeout"`
	RequestDelayMs        int `ini:"request_delay_ms"`
	TunnelIdleSeconds     int `ini:"tunnel_idle_timeout"`
}

// PoolConf controls the upstream proxy pool lifecycle.
type PoolConf struct {
	RefreshIntervalMinutes int    `ini:"refresh_interval_minutes"`
	MaxSize                int    `ini:"max_size"`
	QuarantineThreshold    int    `ini:"quarantine_threshold"`
	ListSourceURL          string `ini:"list_source_url"`
	TableSourceURL         string `ini:"table_source_url"`
	ScrapeSourceURL        string `ini:"scrape_source_url"`
	SourceTimeoutSeconds   int    `ini:"source_timeout"`
	ProbeURL               string `ini:"probe_url"`
	ProbeTimeoutSeconds    int    `ini:"probe_timeout"`
	ValidateConcurrency    int    `ini:"validate_concurrency"`
}

// WebConf configures the read-only status endpoint consumed by the dashboard.
type WebConf struct {
	WebPort             int    `ini:"web_port"`
	WebUser             string `ini:"web_user"`
	WebPassword         string `ini:"web_password"`
	PushIntervalSeconds int    `ini:"push_interval"`
}

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// Config is the unified configuration structure for the relay.
type Config struct {
	CommonConf `ini:"common"`
	PoolConf   `ini:"pool"`
	WebConf    `ini:"web"`
	LogConf    `ini:"log"`
}

// RequestTimeout returns the per-attempt timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RefreshInterval returns the pool refresh interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// TunnelIdleTimeout returns the tunnel idle timeout; zero disables it.
func (c *Config) TunnelIdleTimeout() time.Duration {
	return time.Duration(c.TunnelIdleSeconds) * time.Second
}
