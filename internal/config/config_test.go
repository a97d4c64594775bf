package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestManager_LoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	m := NewManager(path)

	require.NoError(t, m.Load())
	assert.Equal(t, DefaultConfig(), m.Get())
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "min_reconfig_interval: 2s")
}

func TestManager_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := "version: 1\nscheduler:\n  refresh_interval: 45s\ntunnel:\n  mtu: 1400\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	m := NewManager(path)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, 45*time.Second, cfg.Scheduler.RefreshInterval)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.MinReconfigInterval)
	assert.Equal(t, 1400, cfg.Tunnel.MTU)
	assert.Equal(t, []string{"1.1.1.1", "8.8.4.4"}, cfg.Tunnel.DNS)
}

func TestManager_UpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	m := NewManager(path)
	require.NoError(t, m.Load())

	cfg := DefaultConfig()
	cfg.Daemon.MetricsAddr = "127.0.0.1:9108"
	cfg.Calls.RestoreGrace = 5 * time.Second
	require.NoError(t, m.Update(cfg))

	reloaded := NewManager(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "127.0.0.1:9108", reloaded.Get().Daemon.MetricsAddr)
	assert.Equal(t, 5*time.Second, reloaded.Get().Calls.RestoreGrace)
}

func TestManager_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("scheduler: [not, a, map]"), 0600))
	assert.Error(t, NewManager(path).Load())

	require.NoError(t, os.WriteFile(path, []byte("version: 1\nscheduler:\n  retry_cap: 1s\n"), 0600))
	assert.ErrorContains(t, NewManager(path).Load(), "retry_cap")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero version", func(c *Config) { c.Version = 0 }, "version"},
		{"zero sample interval", func(c *Config) { c.Foreground.SampleInterval = 0 }, "sample_interval"},
		{"recency beyond window", func(c *Config) { c.Foreground.Recency = 2 * time.Minute }, "recency"},
		{"cap below base", func(c *Config) { c.Scheduler.RetryCap = time.Second }, "retry_cap"},
		{"negative settle", func(c *Config) { c.Calls.Settle = -time.Second }, "settle"},
		{"bad cidr", func(c *Config) { c.Tunnel.Address = "10.0.0.2" }, "address"},
		{"bad dns", func(c *Config) { c.Tunnel.DNS = []string{"one.one.one.one"} }, "dns"},
		{"no dns", func(c *Config) { c.Tunnel.DNS = nil }, "dns"},
		{"tiny mtu", func(c *Config) { c.Tunnel.MTU = 100 }, "mtu"},
		{"buffer below mtu", func(c *Config) { c.Tunnel.BufferSize = 1000 }, "buffer_size"},
		{"empty self", func(c *Config) { c.Protection.Self = "" }, "self"},
		{"bad log level", func(c *Config) { c.Daemon.LogLevel = "loud" }, "log_level"},
		{"negative rotation", func(c *Config) { c.Daemon.LogRotation.MaxBackups = -1 }, "log_rotation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestConfig_ServiceConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protection.Self = "com.example.netgate"
	cfg.Calls.Settle = 4 * time.Second
	cfg.Tunnel.DNS = []string{"9.9.9.9"}

	sc, err := cfg.ServiceConfig()
	require.NoError(t, err)

	assert.Equal(t, "com.example.netgate", sc.Registry.Self)
	assert.Equal(t, 4*time.Second, sc.Scheduler.CallSettle)
	assert.Equal(t, 3*time.Second, sc.CallMonitor.RestoreGrace)
	assert.Equal(t, "10.0.0.2/24", sc.Controller.Address.String())
	require.Len(t, sc.Controller.DNS, 1)
	assert.Equal(t, "9.9.9.9", sc.Controller.DNS[0].String())
	assert.Equal(t, 30*time.Second, sc.Scheduler.RetryCap)
	assert.Equal(t, 10000, sc.Registry.SystemUIDThreshold)
}

func TestConfig_Level(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, zapcore.InfoLevel, cfg.Level())
	cfg.Daemon.LogLevel = "debug"
	assert.Equal(t, zapcore.DebugLevel, cfg.Level())
}
