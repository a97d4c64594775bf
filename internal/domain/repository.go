package domain

import (
	"context"
	"net/netip"
	"time"
)

// AppCatalog enumerates installed applications and resolves credentials.
// Implementation: gopsutil-backed process catalog on Linux hosts.
type AppCatalog interface {
	// Installed returns every application currently known to the platform.
	Installed(ctx context.Context) ([]ApplicationIdentity, error)

	// Lookup resolves credentials and system classification for one identifier.
	// Returns ErrAppNotFound for unknown identifiers.
	Lookup(ctx context.Context, packageName string) (*ApplicationIdentity, error)
}

// UsageRecord is one (identifier, last-active) pair from the usage signal.
type UsageRecord struct {
	PackageName string
	LastUsed    time.Time
}

// UsageSource is the platform recent-usage signal.
type UsageSource interface {
	// RecentUsage returns records active at or after since.
	// Returns ErrUsageUnavailable when the signal cannot be read at all.
	RecentUsage(ctx context.Context, since time.Time) ([]UsageRecord, error)
}

// TelephonySource delivers raw call-state changes.
type TelephonySource interface {
	// Subscribe registers fn for state changes. The returned cancel func
	// unregisters it. fn may be called from any goroutine.
	Subscribe(ctx context.Context, fn func(TelephonyState)) (cancel func(), err error)
}

// SelectionStore is the engine's read-only view of the user's selection set.
type SelectionStore interface {
	// Selection returns a snapshot of the selected identifiers.
	Selection() (AppSet, error)

	// Revision returns a counter that changes whenever the selection changes.
	Revision() (int64, error)
}

// SelectionWriter mutates the persisted selection. Owned by the CLI, never by the engine.
type SelectionWriter interface {
	AddSelected(packageName string) error
	RemoveSelected(packageName string) error
	ReplaceSelection(set AppSet) error
}

// InterceptConfig describes one interception handle request.
type InterceptConfig struct {
	Session      string
	Address      netip.Prefix
	DNS          []netip.Addr
	MTU          int
	Route        bool // install a forwarding path; false means pass-through
	ExcludedApps AppSet
	ExcludedUIDs []UIDRange
}

// TunnelHandle is one live interception channel.
type TunnelHandle interface {
	// Read reads one packet. Returns (0, nil) when nothing is available and
	// ErrStreamClosed (or an EBADF/EPIPE error) once the stream is gone.
	Read(buf []byte) (int, error)

	// Valid reports whether the underlying resource is still usable.
	Valid() bool

	// Excluded returns the identifiers the platform actually excluded.
	Excluded() AppSet

	// Routing reports whether a forwarding path was installed.
	Routing() bool

	// Close releases the resource. Safe to call more than once.
	Close() error
}

// Interceptor is the platform traffic-interception primitive.
type Interceptor interface {
	Establish(ctx context.Context, cfg InterceptConfig) (TunnelHandle, error)
}

// StatusPublisher stores the engine status for out-of-process queries.
type StatusPublisher interface {
	Publish(status EngineStatus) error
}

// StatusReader reads the last published engine status.
type StatusReader interface {
	// Read returns nil, nil when no status was ever published.
	Read() (*EngineStatus, error)

	// Clear removes the published status.
	Clear() error

	// GetStatusPath returns the status file path (for tests).
	GetStatusPath() string
}

// ProcessManager handles OS process operations for daemon control.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Terminate sends SIGTERM to a process.
	Terminate(pid int) error

	// Notify tells a running daemon that the persisted selection changed.
	Notify(pid int) error

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// EventSink receives reconciliation triggers.
type EventSink interface {
	Publish(ev Event)
}
