package config

import (
	"fmt"
	"net/netip"
	"time"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("invalid config version")
	}
	if err := c.Foreground.Validate(); err != nil {
		return fmt.Errorf("foreground config: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	if err := c.Calls.Validate(); err != nil {
		return fmt.Errorf("calls config: %w", err)
	}
	if err := c.Tunnel.Validate(); err != nil {
		return fmt.Errorf("tunnel config: %w", err)
	}
	if err := c.Protection.Validate(); err != nil {
		return fmt.Errorf("protection config: %w", err)
	}
	if err := c.Daemon.Validate(); err != nil {
		return fmt.Errorf("daemon config: %w", err)
	}
	return nil
}

// Validate validates foreground sampling configuration.
func (f *ForegroundConfig) Validate() error {
	if err := positive(
		field{"sample_interval", f.SampleInterval},
		field{"usage_window", f.UsageWindow},
		field{"recency", f.Recency},
		field{"error_backoff", f.ErrorBackoff},
	); err != nil {
		return err
	}
	if f.Recency > f.UsageWindow {
		return fmt.Errorf("recency must not exceed usage_window")
	}
	if f.ErrorThreshold < 1 {
		return fmt.Errorf("error_threshold must be at least 1")
	}
	return nil
}

// Validate validates scheduler configuration.
func (s *SchedulerConfig) Validate() error {
	if err := positive(
		field{"refresh_interval", s.RefreshInterval},
		field{"min_reconfig_interval", s.MinReconfigInterval},
		field{"retry_base", s.RetryBase},
		field{"retry_cap", s.RetryCap},
		field{"initial_delay", s.InitialDelay},
	); err != nil {
		return err
	}
	if s.RetryCap < s.RetryBase {
		return fmt.Errorf("retry_cap must not be below retry_base")
	}
	return nil
}

// Validate validates call handling configuration.
func (c *CallsConfig) Validate() error {
	return positive(
		field{"settle", c.Settle},
		field{"restore_grace", c.RestoreGrace},
	)
}

// Validate validates tunnel configuration.
func (t *TunnelConfig) Validate() error {
	if t.Session == "" {
		return fmt.Errorf("session is required")
	}
	if _, err := netip.ParsePrefix(t.Address); err != nil {
		return fmt.Errorf("invalid address %q: %w", t.Address, err)
	}
	if len(t.DNS) == 0 {
		return fmt.Errorf("at least one dns server is required")
	}
	for _, d := range t.DNS {
		if _, err := netip.ParseAddr(d); err != nil {
			return fmt.Errorf("invalid dns server %q: %w", d, err)
		}
	}
	if t.MTU < 576 || t.MTU > 65535 {
		return fmt.Errorf("mtu must be between 576 and 65535")
	}
	if t.BufferSize < t.MTU {
		return fmt.Errorf("buffer_size must be at least mtu")
	}
	return positive(
		field{"drain_join_timeout", t.DrainJoinTimeout},
		field{"emergency_cooldown", t.EmergencyCooldown},
	)
}

// Validate validates protection registry configuration.
func (p *ProtectionConfig) Validate() error {
	if p.Self == "" {
		return fmt.Errorf("self is required")
	}
	if p.SystemUIDThreshold < 1 {
		return fmt.Errorf("system_uid_threshold must be positive")
	}
	return positive(field{"lookup_ttl", p.LookupTTL})
}

// Validate validates daemon configuration.
func (d *DaemonConfig) Validate() error {
	switch d.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level: %s", d.LogLevel)
	}
	r := d.LogRotation
	if r.MaxSize < 0 || r.MaxAge < 0 || r.MaxBackups < 0 {
		return fmt.Errorf("log_rotation values must not be negative")
	}
	return positive(
		field{"stop_grace", d.StopGrace},
		field{"status_interval", d.StatusInterval},
	)
}

type field struct {
	name  string
	value time.Duration
}

func positive(fields ...field) error {
	for _, f := range fields {
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
	}
	return nil
}
