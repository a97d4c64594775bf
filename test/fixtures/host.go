// Package fixtures provides a scriptable fake host for integration tests.
package fixtures

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// ErrEstablish is returned by FakeInterceptor while failures are scripted.
var ErrEstablish = errors.New("fake: establish failed")

// FakeCatalog is an in-memory app catalog. Apps get sequential uids from 10100.
type FakeCatalog struct {
	mu   sync.Mutex
	apps map[string]domain.ApplicationIdentity
	next int
}

// NewFakeCatalog creates a catalog with the given user apps installed.
func NewFakeCatalog(names ...string) *FakeCatalog {
	c := &FakeCatalog{apps: make(map[string]domain.ApplicationIdentity), next: 10100}
	c.Install(names...)
	return c
}

// Install adds user apps.
func (c *FakeCatalog) Install(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		if _, ok := c.apps[n]; ok {
			continue
		}
		c.apps[n] = domain.ApplicationIdentity{PackageName: n, UID: c.next}
		c.next++
	}
}

// InstallSystem adds an app with a platform uid.
func (c *FakeCatalog) InstallSystem(name string, uid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[name] = domain.ApplicationIdentity{PackageName: name, UID: uid, IsSystem: true}
}

func (c *FakeCatalog) Installed(ctx context.Context) ([]domain.ApplicationIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ApplicationIdentity, 0, len(c.apps))
	for _, a := range c.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageName < out[j].PackageName })
	return out, nil
}

func (c *FakeCatalog) Lookup(ctx context.Context, pkg string) (*domain.ApplicationIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.apps[pkg]
	if !ok {
		return nil, domain.ErrAppNotFound
	}
	return &a, nil
}

// Names returns every installed identifier.
func (c *FakeCatalog) Names() domain.AppSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := domain.NewAppSet()
	for n := range c.apps {
		set.Add(n)
	}
	return set
}

// FakeUsage reports a single foreground app as just used.
type FakeUsage struct {
	mu          sync.Mutex
	foreground  string
	unavailable bool
}

// SetForeground makes app the most recently used one. Empty means nothing.
func (u *FakeUsage) SetForeground(app string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.foreground = app
}

// SetUnavailable simulates a missing usage permission.
func (u *FakeUsage) SetUnavailable(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unavailable = v
}

func (u *FakeUsage) RecentUsage(ctx context.Context, since time.Time) ([]domain.UsageRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.unavailable {
		return nil, domain.ErrUsageUnavailable
	}
	if u.foreground == "" {
		return nil, nil
	}
	return []domain.UsageRecord{{PackageName: u.foreground, LastUsed: time.Now()}}, nil
}

// FakeSelection is an in-memory selection store.
type FakeSelection struct {
	mu       sync.Mutex
	set      domain.AppSet
	revision int64
}

func NewFakeSelection(ids ...string) *FakeSelection {
	return &FakeSelection{set: domain.NewAppSet(ids...)}
}

func (s *FakeSelection) Selection() (domain.AppSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Clone(), nil
}

func (s *FakeSelection) Revision() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision, nil
}

// Replace swaps the selection and bumps the revision.
func (s *FakeSelection) Replace(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = domain.NewAppSet(ids...)
	s.revision++
}

// FakeHandle excludes what was requested, minus scripted drops.
type FakeHandle struct {
	Config   domain.InterceptConfig
	excluded domain.AppSet

	mu     sync.Mutex
	closed bool
}

func (h *FakeHandle) Read(buf []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, domain.ErrStreamClosed
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (h *FakeHandle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *FakeHandle) Excluded() domain.AppSet { return h.excluded.Clone() }
func (h *FakeHandle) Routing() bool           { return h.Config.Route }

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Invalidate simulates the platform revoking the handle.
func (h *FakeHandle) Invalidate() {
	_ = h.Close()
}

// FakeInterceptor records every establishment.
type FakeInterceptor struct {
	mu       sync.Mutex
	handles  []*FakeHandle
	attempts []time.Time
	failures int
	drop     domain.AppSet
}

func NewFakeInterceptor() *FakeInterceptor {
	return &FakeInterceptor{drop: domain.NewAppSet()}
}

// FailNext makes the next n establishments fail.
func (f *FakeInterceptor) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// DropExclusion makes future handles silently ignore the exclusion of apps.
func (f *FakeInterceptor) DropExclusion(apps ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop = domain.NewAppSet(apps...)
}

func (f *FakeInterceptor) Establish(ctx context.Context, cfg domain.InterceptConfig) (domain.TunnelHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, time.Now())
	if f.failures > 0 {
		f.failures--
		return nil, ErrEstablish
	}
	h := &FakeHandle{Config: cfg, excluded: cfg.ExcludedApps.Minus(f.drop)}
	f.handles = append(f.handles, h)
	return h, nil
}

// Attempts returns the times of every Establish call.
func (f *FakeInterceptor) Attempts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.attempts...)
}

// Established returns the number of handles handed out.
func (f *FakeInterceptor) Established() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Last returns the most recent handle, or nil.
func (f *FakeInterceptor) Last() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

// Live returns the handles that are still open.
func (f *FakeInterceptor) Live() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*FakeHandle
	for _, h := range f.handles {
		if h.Valid() {
			out = append(out, h)
		}
	}
	return out
}

// Blocked returns the apps of all that the most recent live routing handle
// sends into interception. Nil when nothing is intercepted.
func (f *FakeInterceptor) Blocked(all domain.AppSet) domain.AppSet {
	h := f.Last()
	if h == nil || !h.Valid() || !h.Routing() {
		return nil
	}
	return all.Minus(h.Excluded())
}

var (
	_ domain.AppCatalog     = (*FakeCatalog)(nil)
	_ domain.UsageSource    = (*FakeUsage)(nil)
	_ domain.SelectionStore = (*FakeSelection)(nil)
	_ domain.Interceptor    = (*FakeInterceptor)(nil)
	_ domain.TunnelHandle   = (*FakeHandle)(nil)
)
