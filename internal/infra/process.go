package infra

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// Terminate asks a process to exit with SIGTERM.
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

// Notify sends SIGUSR1, which the daemon treats as "selection changed".
func (pm *ProcessManagerImpl) Notify(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.SendSignal(unix.SIGUSR1)
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)

// ProcessCatalog implements domain.AppCatalog over running processes.
// An application is a distinct process name; its identity is the real uid of
// the first process seen with that name.
type ProcessCatalog struct {
	systemUIDThreshold int
}

// NewProcessCatalog creates a catalog that marks uids below threshold as system.
func NewProcessCatalog(systemUIDThreshold int) *ProcessCatalog {
	return &ProcessCatalog{systemUIDThreshold: systemUIDThreshold}
}

// Installed returns one identity per distinct process name, sorted by name.
func (c *ProcessCatalog) Installed(ctx context.Context) ([]domain.ApplicationIdentity, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	seen := make(map[string]domain.ApplicationIdentity)
	for _, p := range procs {
		app, ok := c.identity(ctx, p)
		if !ok {
			continue // Process may have exited
		}
		if _, dup := seen[app.PackageName]; !dup {
			seen[app.PackageName] = app
		}
	}

	apps := make([]domain.ApplicationIdentity, 0, len(seen))
	for _, a := range seen {
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].PackageName < apps[j].PackageName })
	return apps, nil
}

// Lookup resolves the first running process named packageName.
func (c *ProcessCatalog) Lookup(ctx context.Context, packageName string) (*domain.ApplicationIdentity, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}
	for _, p := range procs {
		app, ok := c.identity(ctx, p)
		if ok && app.PackageName == packageName {
			return &app, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", packageName, domain.ErrAppNotFound)
}

func (c *ProcessCatalog) identity(ctx context.Context, p *process.Process) (domain.ApplicationIdentity, bool) {
	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		return domain.ApplicationIdentity{}, false
	}
	uids, err := p.UidsWithContext(ctx)
	if err != nil || len(uids) == 0 {
		return domain.ApplicationIdentity{}, false
	}
	uid := int(uids[0])
	return domain.ApplicationIdentity{
		PackageName: name,
		UID:         uid,
		IsSystem:    uid < c.systemUIDThreshold,
	}, true
}

var _ domain.AppCatalog = (*ProcessCatalog)(nil)

// ProcessUsageSource implements domain.UsageSource from CPU time deltas.
// A process that consumed CPU since the previous sample counts as used now.
// Records are ordered newest first; names active in the same sample are
// ordered by the CPU they consumed in it, busiest first.
// Processes owned by system uids are never reported.
type ProcessUsageSource struct {
	systemUIDThreshold int
	now                func() time.Time

	mu         sync.Mutex
	cpu        map[int32]float64
	lastActive map[string]time.Time
	lastDelta  map[string]float64 // CPU seconds in the sample that set lastActive
}

// NewProcessUsageSource creates a usage source ignoring uids below threshold.
func NewProcessUsageSource(systemUIDThreshold int) *ProcessUsageSource {
	return &ProcessUsageSource{
		systemUIDThreshold: systemUIDThreshold,
		now:                time.Now,
		cpu:                make(map[int32]float64),
		lastActive:         make(map[string]time.Time),
		lastDelta:          make(map[string]float64),
	}
}

// RecentUsage samples all processes and returns names active at or after since.
func (u *ProcessUsageSource) RecentUsage(ctx context.Context, since time.Time) ([]domain.UsageRecord, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUsageUnavailable, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	alive := make(map[int32]float64, len(procs))
	delta := make(map[string]float64)
	for _, p := range procs {
		uids, err := p.UidsWithContext(ctx)
		if err != nil || len(uids) == 0 || int(uids[0]) < u.systemUIDThreshold {
			continue
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		total := times.User + times.System
		alive[p.Pid] = total

		prev, known := u.cpu[p.Pid]
		if !known || total <= prev {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		delta[name] += total - prev
	}
	u.cpu = alive
	return u.record(now, since, delta), nil
}

// record stamps the names active in this sample and returns the usage records
// still inside the window, ordered newest and then busiest first.
func (u *ProcessUsageSource) record(now, since time.Time, delta map[string]float64) []domain.UsageRecord {
	for name, d := range delta {
		u.lastActive[name] = now
		u.lastDelta[name] = d
	}

	records := make([]domain.UsageRecord, 0, len(u.lastActive))
	for name, at := range u.lastActive {
		if at.Before(since) {
			delete(u.lastActive, name)
			delete(u.lastDelta, name)
			continue
		}
		records = append(records, domain.UsageRecord{PackageName: name, LastUsed: at})
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		if da, db := u.lastDelta[a.PackageName], u.lastDelta[b.PackageName]; da != db {
			return da > db
		}
		return a.PackageName < b.PackageName
	})
	return records
}

var _ domain.UsageSource = (*ProcessUsageSource)(nil)
