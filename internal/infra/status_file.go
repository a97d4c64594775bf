package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// StatusFile implements domain.StatusPublisher and domain.StatusReader with a
// JSON file. Writers serialize on an flock and replace the file atomically.
type StatusFile struct {
	path           string
	processManager domain.ProcessManager
}

// NewStatusFile creates a status file at path.
func NewStatusFile(path string, pm domain.ProcessManager) *StatusFile {
	return &StatusFile{
		path:           path,
		processManager: pm,
	}
}

// GetStatusPath returns the status file path.
func (f *StatusFile) GetStatusPath() string {
	return f.path
}

// Publish stores the engine status.
func (f *StatusFile) Publish(status domain.EngineStatus) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	lockFile, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN) }()

	return f.atomicWrite(status)
}

// Read returns the last published status, or nil when none exists.
func (f *StatusFile) Read() (*domain.EngineStatus, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var status domain.EngineStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("corrupt status file %s: %w", f.path, err)
	}
	return &status, nil
}

// Live returns the published status of a running engine. A missing file, a
// stopped engine or a dead pid yield domain.ErrNotRunning.
func (f *StatusFile) Live() (*domain.EngineStatus, error) {
	status, err := f.Read()
	if err != nil {
		return nil, err
	}
	if status == nil || !status.Running {
		return nil, domain.ErrNotRunning
	}
	if f.processManager != nil && !f.processManager.IsRunning(status.PID) {
		return nil, fmt.Errorf("pid %d is gone: %w", status.PID, domain.ErrNotRunning)
	}
	return status, nil
}

// Clear removes the status file.
func (f *StatusFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes the status atomically (write + rename).
func (f *StatusFile) atomicWrite(status domain.EngineStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}

	// unique per process to avoid a race with a second writer
	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

var (
	_ domain.StatusPublisher = (*StatusFile)(nil)
	_ domain.StatusReader    = (*StatusFile)(nil)
)
