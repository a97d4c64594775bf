// Package infra implements host adapters (processes, storage, status file, tunnel device).
package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps state under the user's home (no root required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state under /var/lib (root required)
	ExecModeSystem ExecMode = "system"
)

const (
	storeFileName  = "netgate.db"
	keyFileName    = ".netgate.key"
	statusFileName = "status.json"
	logFileName    = "netgate.log"
	configFileName = "config.yaml"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	DataDir string // Where the encrypted store, key, status and config live
	IsRoot  bool   // Whether running as root
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:    ExecModeSystem,
			DataDir: "/var/lib/netgate",
			IsRoot:  true,
		}
	}

	home, _ := os.UserHomeDir()
	return &ExecModeConfig{
		Mode:    ExecModeUser,
		DataDir: filepath.Join(home, ".netgate"),
		IsRoot:  false,
	}
}

// GetUserModeConfig returns user mode config regardless of current euid.
// When running under sudo, uses SUDO_USER to get the invoking user's home directory.
func GetUserModeConfig() *ExecModeConfig {
	return &ExecModeConfig{
		Mode:    ExecModeUser,
		DataDir: filepath.Join(GetRealUserHome(), ".netgate"),
		IsRoot:  os.Geteuid() == 0,
	}
}

// NewExecModeConfigWithDir returns a config rooted at dir (for testing).
func NewExecModeConfigWithDir(mode ExecMode, dir string) *ExecModeConfig {
	return &ExecModeConfig{Mode: mode, DataDir: dir, IsRoot: mode == ExecModeSystem}
}

// StorePath is the encrypted selection store.
func (c *ExecModeConfig) StorePath() string { return filepath.Join(c.DataDir, storeFileName) }

// KeyPath is the store encryption key.
func (c *ExecModeConfig) KeyPath() string { return filepath.Join(c.DataDir, keyFileName) }

// StatusPath is the published engine status.
func (c *ExecModeConfig) StatusPath() string { return filepath.Join(c.DataDir, statusFileName) }

// LogPath is the daemon log file.
func (c *ExecModeConfig) LogPath() string { return filepath.Join(c.DataDir, logFileName) }

// ConfigPath is the engine configuration file.
func (c *ExecModeConfig) ConfigPath() string { return filepath.Join(c.DataDir, configFileName) }

// EnsureDataDir creates the data directory with owner-only permissions.
func (c *ExecModeConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root, /var/lib/netgate)"
	case ExecModeUser:
		return "user (non-root, ~/.netgate)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
