package config

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/netgate/internal/daemon"
)

// ServiceConfig converts the file configuration into engine configuration.
// Values not exposed in the file keep the engine defaults.
func (c *Config) ServiceConfig() (daemon.ServiceConfig, error) {
	sc := daemon.DefaultServiceConfig(c.Protection.Self)

	sc.Tracker.SampleInterval = c.Foreground.SampleInterval
	sc.Tracker.UsageWindow = c.Foreground.UsageWindow
	sc.Tracker.Recency = c.Foreground.Recency
	sc.Tracker.ErrorThreshold = c.Foreground.ErrorThreshold
	sc.Tracker.ErrorBackoff = c.Foreground.ErrorBackoff

	sc.Scheduler.RefreshInterval = c.Scheduler.RefreshInterval
	sc.Scheduler.MinReconfigInterval = c.Scheduler.MinReconfigInterval
	sc.Scheduler.RetryBase = c.Scheduler.RetryBase
	sc.Scheduler.RetryCap = c.Scheduler.RetryCap
	sc.Scheduler.InitialDelay = c.Scheduler.InitialDelay
	sc.Scheduler.CallSettle = c.Calls.Settle

	sc.CallMonitor.RestoreGrace = c.Calls.RestoreGrace

	addr, err := netip.ParsePrefix(c.Tunnel.Address)
	if err != nil {
		return sc, fmt.Errorf("invalid tunnel address: %w", err)
	}
	dns := make([]netip.Addr, 0, len(c.Tunnel.DNS))
	for _, d := range c.Tunnel.DNS {
		a, err := netip.ParseAddr(d)
		if err != nil {
			return sc, fmt.Errorf("invalid dns server: %w", err)
		}
		dns = append(dns, a)
	}
	sc.Controller.Session = c.Tunnel.Session
	sc.Controller.Address = addr
	sc.Controller.DNS = dns
	sc.Controller.MTU = c.Tunnel.MTU
	sc.Controller.BufferSize = c.Tunnel.BufferSize
	sc.Controller.DrainJoinTimeout = c.Tunnel.DrainJoinTimeout
	sc.Controller.EmergencyCooldown = c.Tunnel.EmergencyCooldown

	sc.Registry.SystemUIDThreshold = c.Protection.SystemUIDThreshold
	sc.Registry.LookupTTL = c.Protection.LookupTTL

	sc.StopGrace = c.Daemon.StopGrace
	sc.StatusInterval = c.Daemon.StatusInterval
	return sc, nil
}

// Level returns the configured log level.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Daemon.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
