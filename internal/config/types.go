// Package config loads and persists the engine configuration file.
package config

import "time"

// Config is the on-disk engine configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Foreground ForegroundConfig `yaml:"foreground"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Calls      CallsConfig      `yaml:"calls"`
	Tunnel     TunnelConfig     `yaml:"tunnel"`
	Protection ProtectionConfig `yaml:"protection"`
	Daemon     DaemonConfig     `yaml:"daemon"`
}

// ForegroundConfig controls usage sampling.
type ForegroundConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	UsageWindow    time.Duration `yaml:"usage_window"`
	Recency        time.Duration `yaml:"recency"`
	ErrorThreshold int           `yaml:"error_threshold"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
}

// SchedulerConfig controls reconciliation timing.
type SchedulerConfig struct {
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	MinReconfigInterval time.Duration `yaml:"min_reconfig_interval"`
	RetryBase           time.Duration `yaml:"retry_base"`
	RetryCap            time.Duration `yaml:"retry_cap"`
	InitialDelay        time.Duration `yaml:"initial_delay"`
}

// CallsConfig controls call handling.
type CallsConfig struct {
	Settle       time.Duration `yaml:"settle"`
	RestoreGrace time.Duration `yaml:"restore_grace"`
}

// TunnelConfig describes the interception device.
type TunnelConfig struct {
	Session           string        `yaml:"session"`
	Address           string        `yaml:"address"`
	DNS               []string      `yaml:"dns"`
	MTU               int           `yaml:"mtu"`
	BufferSize        int           `yaml:"buffer_size"`
	DrainJoinTimeout  time.Duration `yaml:"drain_join_timeout"`
	EmergencyCooldown time.Duration `yaml:"emergency_cooldown"`
}

// ProtectionConfig tunes the protection registry.
type ProtectionConfig struct {
	Self               string        `yaml:"self"`
	SystemUIDThreshold int           `yaml:"system_uid_threshold"`
	LookupTTL          time.Duration `yaml:"lookup_ttl"`
}

// DaemonConfig holds process level settings.
type DaemonConfig struct {
	StopGrace      time.Duration `yaml:"stop_grace"`
	StatusInterval time.Duration `yaml:"status_interval"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"` // empty disables the endpoint
	LogLevel       string        `yaml:"log_level"`
	LogRotation    LogRotation   `yaml:"log_rotation"`
}

// LogRotation bounds the daemon log file. Sizes in megabytes, age in days.
type LogRotation struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Foreground: ForegroundConfig{
			SampleInterval: time.Second,
			UsageWindow:    60 * time.Second,
			Recency:        30 * time.Second,
			ErrorThreshold: 5,
			ErrorBackoff:   5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			RefreshInterval:     30 * time.Second,
			MinReconfigInterval: 2 * time.Second,
			RetryBase:           3 * time.Second,
			RetryCap:            30 * time.Second,
			InitialDelay:        2 * time.Second,
		},
		Calls: CallsConfig{
			Settle:       2 * time.Second,
			RestoreGrace: 3 * time.Second,
		},
		Tunnel: TunnelConfig{
			Session:           "netgate",
			Address:           "10.0.0.2/24",
			DNS:               []string{"1.1.1.1", "8.8.4.4"},
			MTU:               1500,
			BufferSize:        32767,
			DrainJoinTimeout:  time.Second,
			EmergencyCooldown: 5 * time.Second,
		},
		Protection: ProtectionConfig{
			Self:               "netgate",
			SystemUIDThreshold: 10000,
			LookupTTL:          5 * time.Minute,
		},
		Daemon: DaemonConfig{
			StopGrace:      2 * time.Second,
			StatusInterval: time.Second,
			LogLevel:       "info",
			LogRotation: LogRotation{
				MaxSize:    10,
				MaxAge:     14,
				MaxBackups: 3,
				Compress:   true,
			},
		},
	}
}
