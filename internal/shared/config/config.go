package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"rotaproxy/internal/shared/types"
)

// Defaults applied for any value the ini file leaves unset or non-positive.
const (
	DefaultListenPort          = 8080
	DefaultRequestTimeout      = 30   // seconds
	DefaultTunnelIdleTimeout   = 300  // seconds
	DefaultRefreshInterval     = 30   // minutes
	DefaultMaxPoolSize         = 500
	DefaultQuarantineThreshold = 3
	DefaultSourceTimeout       = 30 // seconds
	DefaultProbeTimeout        = 10 // seconds
	DefaultValidateConcurrency = 20
	DefaultPushInterval        = 5 // seconds
)

// LoadIni loads the behavior configuration file and applies defaults and
// environment overrides.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	// MapTo leaves fields untouched when the key is absent, so the idle
	// default is seeded first; an explicit 0 still disables the timeout.
	cfg.CommonConf.TunnelIdleSeconds = DefaultTunnelIdleTimeout
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvInt(&cfg.CommonConf.ListenPort, "ROTAPROXY_PORT")
	overrideFromEnvString(&cfg.PoolConf.ListSourceURL, "ROTAPROXY_SOURCE_URL")
	applyDefaults(cfg)
	return nil
}

// ApplyDefaults fills in defaults without reading a file. Used when running
// with no config file and by tests.
func ApplyDefaults(cfg *types.Config) {
	if cfg.CommonConf.TunnelIdleSeconds == 0 {
		cfg.CommonConf.TunnelIdleSeconds = DefaultTunnelIdleTimeout
	}
	applyDefaults(cfg)
}

func applyDefaults(cfg *types.Config) {
	if cfg.CommonConf.ListenPort <= 0 {
		cfg.CommonConf.ListenPort = DefaultListenPort
	}
	if cfg.CommonConf.RequestTimeoutSeconds <= 0 {
		cfg.CommonConf.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	// tunnel_idle_timeout = 0 keeps tunnels open until a side closes.
	if cfg.CommonConf.TunnelIdleSeconds < 0 {
		cfg.CommonConf.TunnelIdleSeconds = 0
	}
	if cfg.PoolConf.RefreshIntervalMinutes <= 0 {
		cfg.PoolConf.RefreshIntervalMinutes = DefaultRefreshInterval
	}
	if cfg.PoolConf.MaxSize <= 0 {
		cfg.PoolConf.MaxSize = DefaultMaxPoolSize
	}
	if cfg.PoolConf.QuarantineThreshold <= 0 {
		cfg.PoolConf.QuarantineThreshold = DefaultQuarantineThreshold
	}
	if cfg.PoolConf.SourceTimeoutSeconds <= 0 {
		cfg.PoolConf.SourceTimeoutSeconds = DefaultSourceTimeout
	}
	if cfg.PoolConf.ProbeTimeoutSeconds <= 0 {
		cfg.PoolConf.ProbeTimeoutSeconds = DefaultProbeTimeout
	}
	if cfg.PoolConf.ValidateConcurrency <= 0 {
		cfg.PoolConf.ValidateConcurrency = DefaultValidateConcurrency
	}
	if cfg.WebConf.PushIntervalSeconds <= 0 {
		cfg.WebConf.PushIntervalSeconds = DefaultPushInterval
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
