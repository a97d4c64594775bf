package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectExecMode_ReturnsCorrectPaths(t *testing.T) {
	config := DetectExecMode()

	if os.Geteuid() == 0 {
		if config.Mode != ExecModeSystem {
			t.Errorf("expected system mode when euid=0, got %s", config.Mode)
		}
		if config.DataDir != "/var/lib/netgate" {
			t.Errorf("expected /var/lib/netgate, got %s", config.DataDir)
		}
	} else {
		if config.Mode != ExecModeUser {
			t.Errorf("expected user mode when euid!=0, got %s", config.Mode)
		}
		home, _ := os.UserHomeDir()
		if want := filepath.Join(home, ".netgate"); config.DataDir != want {
			t.Errorf("expected %s, got %s", want, config.DataDir)
		}
	}
}

func TestExecModeConfig_PathsAreInsideDataDir(t *testing.T) {
	config := NewExecModeConfigWithDir(ExecModeUser, "/tmp/netgate-test")

	for name, path := range map[string]string{
		"store":  config.StorePath(),
		"key":    config.KeyPath(),
		"status": config.StatusPath(),
		"log":    config.LogPath(),
		"config": config.ConfigPath(),
	} {
		if filepath.Dir(path) != config.DataDir {
			t.Errorf("%s path (%s) should be inside DataDir (%s)", name, path, config.DataDir)
		}
	}
}

func TestExecModeConfig_EnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	config := NewExecModeConfigWithDir(ExecModeUser, dir)

	if err := config.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("expected 0700 permissions, got %o", info.Mode().Perm())
	}
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode     ExecMode
		expected string
	}{
		{ExecModeUser, "user (non-root, ~/.netgate)"},
		{ExecModeSystem, "system (root, /var/lib/netgate)"},
		{ExecMode("invalid"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.String(); got != tt.expected {
				t.Errorf("ExecMode.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetUserModeConfig_UsesSudoUser(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home, _ := os.UserHomeDir()

	config := GetUserModeConfig()
	if config.Mode != ExecModeUser {
		t.Errorf("expected user mode, got %s", config.Mode)
	}
	if want := filepath.Join(home, ".netgate"); config.DataDir != want {
		t.Errorf("expected %s, got %s", want, config.DataDir)
	}
}
