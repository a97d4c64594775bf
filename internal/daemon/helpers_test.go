package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// mockCatalog implements domain.AppCatalog for testing
type mockCatalog struct {
	mu   sync.Mutex
	apps []domain.ApplicationIdentity
	err  error
}

func newMockCatalog(names ...string) *mockCatalog {
	c := &mockCatalog{}
	for i, n := range names {
		c.apps = append(c.apps, domain.ApplicationIdentity{PackageName: n, UID: 10100 + i})
	}
	return c
}

func (m *mockCatalog) Installed(ctx context.Context) ([]domain.ApplicationIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.ApplicationIdentity(nil), m.apps...), nil
}

func (m *mockCatalog) Lookup(ctx context.Context, pkg string) (*domain.ApplicationIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apps {
		if a.PackageName == pkg {
			return &a, nil
		}
	}
	return nil, domain.ErrAppNotFound
}

// mockSelection implements domain.SelectionStore for testing
type mockSelection struct {
	mu       sync.Mutex
	set      domain.AppSet
	revision int64
}

func newMockSelection(ids ...string) *mockSelection {
	return &mockSelection{set: domain.NewAppSet(ids...)}
}

func (m *mockSelection) Selection() (domain.AppSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Clone(), nil
}

func (m *mockSelection) Revision() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision, nil
}

func (m *mockSelection) replace(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = domain.NewAppSet(ids...)
	m.revision++
}

type mockForeground struct {
	mu  sync.Mutex
	app string
}

func (m *mockForeground) Current() domain.ForegroundState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ForegroundState{App: m.app, LastValid: m.app}
}

func (m *mockForeground) set(app string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.app = app
}

type mockCalls struct {
	mu  sync.Mutex
	ind domain.CallIndicator
}

func (m *mockCalls) Indicator() domain.CallIndicator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ind
}

func (m *mockCalls) set(active, emergency bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ind = domain.CallIndicator{Emergency: emergency}
	if active {
		m.ind.State = domain.CallActive
	}
}

// mockController implements Reconfigurer for testing
type mockController struct {
	mu        sync.Mutex
	err       error
	applied   []domain.PolicyDecision
	teardowns int
	handle    bool
	stale     bool
}

func (m *mockController) Reconfigure(ctx context.Context, d domain.PolicyDecision, protected domain.AppSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle = false
	if m.err != nil {
		return m.err
	}
	m.applied = append(m.applied, d)
	m.handle = true
	m.stale = false
	return nil
}

func (m *mockController) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns++
	m.handle = false
}

func (m *mockController) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

func (m *mockController) HasHandle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

func (m *mockController) State() domain.TunnelState {
	if m.HasHandle() {
		return domain.TunnelActive
	}
	return domain.TunnelUninitialized
}

func (m *mockController) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func (m *mockController) last() domain.PolicyDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[len(m.applied)-1]
}

func (m *mockController) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type staticSnapshot domain.AppSet

func (s staticSnapshot) Snapshot(ctx context.Context, apps []domain.ApplicationIdentity) domain.AppSet {
	return domain.AppSet(s).Clone()
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}
