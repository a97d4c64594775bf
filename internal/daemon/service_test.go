package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// fakeHandle is a pass-through handle that excludes exactly what was requested.
type fakeHandle struct {
	cfg    domain.InterceptConfig
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) Read(buf []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (h *fakeHandle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *fakeHandle) Excluded() domain.AppSet { return h.cfg.ExcludedApps.Clone() }
func (h *fakeHandle) Routing() bool           { return h.cfg.Route }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeInterceptor struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (f *fakeInterceptor) Establish(ctx context.Context, cfg domain.InterceptConfig) (domain.TunnelHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{cfg: cfg}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeInterceptor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeInterceptor) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []domain.EngineStatus
}

func (r *statusRecorder) Publish(st domain.EngineStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return nil
}

func (r *statusRecorder) last() (domain.EngineStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return domain.EngineStatus{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

type serviceFixture struct {
	svc         *Service
	interceptor *fakeInterceptor
	selection   *mockSelection
	status      *statusRecorder
	usage       *mockUsage
}

func newServiceFixture() *serviceFixture {
	config := DefaultServiceConfig("com.example.netgate")
	config.Scheduler.InitialDelay = time.Millisecond
	config.Scheduler.MinReconfigInterval = 5 * time.Millisecond
	config.Tracker.SampleInterval = 5 * time.Millisecond
	config.StatusInterval = 5 * time.Millisecond
	config.StopGrace = 200 * time.Millisecond

	f := &serviceFixture{
		interceptor: &fakeInterceptor{},
		selection:   newMockSelection("com.game", "com.reader"),
		status:      &statusRecorder{},
		usage:       &mockUsage{},
	}
	f.svc = NewService(config, Deps{
		Catalog:     newMockCatalog("com.game", "com.reader", "com.android.phone"),
		Usage:       f.usage,
		Selection:   f.selection,
		Interceptor: f.interceptor,
		Status:      f.status,
	}, zap.NewNop())
	return f
}

func TestService_StartStop(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx))
	require.NoError(t, f.svc.Start(ctx), "second start is a no-op")
	assert.True(t, f.svc.Running())

	require.Eventually(t, func() bool { return f.interceptor.count() == 1 }, time.Second, time.Millisecond)
	h := f.interceptor.last()
	assert.True(t, h.cfg.Route)
	assert.True(t, h.cfg.ExcludedApps.Has("com.android.phone"), "telephony is always excluded")
	assert.False(t, h.cfg.ExcludedApps.Has("com.game"))
	assert.NotEmpty(t, h.cfg.ExcludedUIDs)

	require.Eventually(t, func() bool {
		st, ok := f.status.last()
		return ok && st.Blocked == 2
	}, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, f.svc.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NoError(t, f.svc.Stop(), "second stop is a no-op")

	assert.False(t, f.svc.Running())
	assert.False(t, h.Valid(), "handle released on stop")
	st, ok := f.status.last()
	require.True(t, ok)
	assert.False(t, st.Running)
	assert.Equal(t, domain.TunnelUninitialized, st.TunnelState)
}

func TestService_ForegroundSelectedAppIsBypassed(t *testing.T) {
	f := newServiceFixture()
	f.usage.set([]domain.UsageRecord{{PackageName: "com.game", LastUsed: time.Now()}}, nil)

	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.Eventually(t, func() bool {
		if f.interceptor.count() == 0 {
			return false
		}
		h := f.interceptor.last()
		return h.cfg.ExcludedApps.Has("com.game") && !h.cfg.ExcludedApps.Has("com.reader")
	}, time.Second, time.Millisecond)

	assert.Eventually(t, func() bool {
		return f.svc.Status().Text == "Active: com.game (internet enabled)"
	}, time.Second, time.Millisecond)
}

func TestService_SelectionChanged(t *testing.T) {
	f := newServiceFixture()
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.Eventually(t, func() bool { return f.interceptor.count() == 1 }, time.Second, time.Millisecond)

	f.selection.replace("com.reader")
	f.svc.SelectionChanged()

	assert.Eventually(t, func() bool {
		return f.interceptor.count() == 2 && f.interceptor.last().cfg.ExcludedApps.Has("com.game")
	}, time.Second, time.Millisecond)
}

func TestService_CallDropsInterception(t *testing.T) {
	f := newServiceFixture()
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.Eventually(t, func() bool { return f.interceptor.count() == 1 }, time.Second, time.Millisecond)
	h := f.interceptor.last()

	dialers, ok := f.svc.Registry().Get("dialer")
	require.True(t, ok)
	want := fmt.Sprintf("Call active - %d communication apps protected", len(dialers.Packages()))

	f.svc.calls.Enqueue(domain.TelephonyRinging)
	assert.Eventually(t, func() bool { return !h.Valid() }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return f.svc.Status().Text == want }, time.Second, time.Millisecond)
}

func TestService_StartRequiresCollaborators(t *testing.T) {
	svc := NewService(DefaultServiceConfig("self"), Deps{}, zap.NewNop())
	assert.Error(t, svc.Start(context.Background()))
	assert.False(t, svc.Running())
}

// slowInterceptor holds every Establish until released, ignoring ctx.
type slowInterceptor struct {
	fakeInterceptor
	entered chan struct{}
	release chan struct{}
}

func (s *slowInterceptor) Establish(ctx context.Context, cfg domain.InterceptConfig) (domain.TunnelHandle, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.fakeInterceptor.Establish(ctx, cfg)
}

func TestService_StopReleasesHandleFromSlowEstablish(t *testing.T) {
	config := DefaultServiceConfig("com.example.netgate")
	config.Scheduler.InitialDelay = time.Millisecond
	config.Tracker.SampleInterval = 5 * time.Millisecond
	config.StopGrace = 50 * time.Millisecond

	slow := &slowInterceptor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewService(config, Deps{
		Catalog:     newMockCatalog("com.game", "com.android.phone"),
		Usage:       &mockUsage{},
		Selection:   newMockSelection("com.game"),
		Interceptor: slow,
	}, zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))

	select {
	case <-slow.entered:
	case <-time.After(time.Second):
		t.Fatal("establish never started")
	}
	require.NoError(t, svc.Stop())
	close(slow.release)

	require.Eventually(t, func() bool { return slow.count() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !slow.last().Valid() }, time.Second, time.Millisecond,
		"handle established after stop is closed")
	assert.Eventually(t, func() bool {
		return svc.Status().TunnelState == domain.TunnelUninitialized
	}, time.Second, time.Millisecond)
	assert.False(t, svc.controller.HasHandle())
	assert.False(t, svc.Running())
}
