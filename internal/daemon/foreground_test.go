package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// mockUsage implements domain.UsageSource for testing
type mockUsage struct {
	mu      sync.Mutex
	records []domain.UsageRecord
	err     error
	since   time.Time
	calls   int
}

func (m *mockUsage) RecentUsage(ctx context.Context, since time.Time) ([]domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.since = since
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func (m *mockUsage) set(records []domain.UsageRecord, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.err = err
}

func newTestTracker(usage *mockUsage, events domain.EventSink) (*Tracker, *fakeClock) {
	clock := newFakeClock()
	tr := NewTracker(DefaultTrackerConfig(), usage, events, zap.NewNop())
	tr.now = clock.Now
	return tr, clock
}

func used(pkg string, ago time.Duration, now time.Time) domain.UsageRecord {
	return domain.UsageRecord{PackageName: pkg, LastUsed: now.Add(-ago)}
}

func TestTracker_AdoptsMostRecentApp(t *testing.T) {
	usage := &mockUsage{}
	events := &eventRecorder{}
	tr, clock := newTestTracker(usage, events)
	now := clock.Now()

	usage.set([]domain.UsageRecord{
		used("com.reader", 10*time.Second, now),
		used("com.game", 2*time.Second, now),
	}, nil)

	require.NoError(t, tr.Sample(context.Background()))
	assert.Equal(t, "com.game", tr.Current().App)
	assert.Equal(t, "com.game", tr.Current().LastValid)
	assert.Equal(t, now.Add(-60*time.Second), usage.since)
	require.Len(t, events.all(), 1)
	assert.Equal(t, domain.EventForeground, events.all()[0].Kind)
	assert.False(t, events.all()[0].Forced)

	// same value, no new event
	require.NoError(t, tr.Sample(context.Background()))
	assert.Len(t, events.all(), 1)
}

func TestTracker_SurfaceRules(t *testing.T) {
	tests := []struct {
		name   string
		recent string
		want   string
	}{
		{"launcher means nothing in foreground", "com.google.android.apps.nexuslauncher", ""},
		{"system ui keeps previous app", "com.android.systemui", "com.game"},
		{"keyguard keeps previous app", "com.android.keyguard", "com.game"},
		{"regular app replaces previous", "com.reader", "com.reader"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := &mockUsage{}
			tr, clock := newTestTracker(usage, nil)

			usage.set([]domain.UsageRecord{used("com.game", time.Second, clock.Now())}, nil)
			require.NoError(t, tr.Sample(context.Background()))

			clock.Advance(time.Second)
			usage.set([]domain.UsageRecord{used(tt.recent, 0, clock.Now())}, nil)
			require.NoError(t, tr.Sample(context.Background()))

			assert.Equal(t, tt.want, tr.Current().App)
			if tt.want == "" {
				assert.Equal(t, "com.game", tr.Current().LastValid)
			}
		})
	}
}

func TestTracker_OverlayAfterLauncherStaysEmpty(t *testing.T) {
	usage := &mockUsage{}
	tr, clock := newTestTracker(usage, nil)
	ctx := context.Background()

	usage.set([]domain.UsageRecord{used("com.miui.home", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))
	usage.set([]domain.UsageRecord{used("com.android.systemui", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))

	assert.Equal(t, "", tr.Current().App)
}

func TestTracker_StaleRecordsKeepLastValid(t *testing.T) {
	usage := &mockUsage{}
	tr, clock := newTestTracker(usage, nil)
	ctx := context.Background()

	usage.set([]domain.UsageRecord{used("com.game", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))

	clock.Advance(45 * time.Second)
	usage.set([]domain.UsageRecord{used("com.reader", 40*time.Second, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))

	assert.Equal(t, "com.game", tr.Current().App)
}

func TestTracker_UsageUnavailableDegradesToNoForeground(t *testing.T) {
	usage := &mockUsage{}
	events := &eventRecorder{}
	tr, clock := newTestTracker(usage, events)
	ctx := context.Background()

	usage.set([]domain.UsageRecord{used("com.game", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))

	usage.set(nil, fmt.Errorf("query: %w", domain.ErrUsageUnavailable))
	err := tr.Sample(ctx)
	assert.ErrorIs(t, err, domain.ErrUsageUnavailable)
	assert.Equal(t, "", tr.Current().App)
	assert.True(t, tr.Degraded())
	assert.Len(t, events.all(), 2)

	usage.set([]domain.UsageRecord{used("com.game", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))
	assert.False(t, tr.Degraded())
}

func TestTracker_RecoveryOverlayResolvesToLastValid(t *testing.T) {
	usage := &mockUsage{}
	tr, clock := newTestTracker(usage, nil)
	ctx := context.Background()

	usage.set([]domain.UsageRecord{used("com.game", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))

	usage.set(nil, domain.ErrUsageUnavailable)
	require.Error(t, tr.Sample(ctx))
	assert.Equal(t, "", tr.Current().App)
	assert.Equal(t, "com.game", tr.Current().LastValid)

	clock.Advance(time.Second)
	usage.set([]domain.UsageRecord{used("com.android.systemui", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))
	assert.Equal(t, "com.game", tr.Current().App)
}

func TestMostRecent_Ties(t *testing.T) {
	now := time.Now()
	records := []domain.UsageRecord{
		{PackageName: "busyalpha", LastUsed: now},
		{PackageName: "busybravo", LastUsed: now},
		{PackageName: "idle", LastUsed: now.Add(-time.Second)},
	}
	cutoff := now.Add(-time.Minute)

	assert.Equal(t, "busyalpha", mostRecent(records, cutoff, ""), "first in record order")
	assert.Equal(t, "busybravo", mostRecent(records, cutoff, "busybravo"), "current app wins a tie")
	assert.Equal(t, "busyalpha", mostRecent(records, cutoff, "idle"), "sticky only breaks ties")
}

func TestTracker_TiedRecordsDoNotFlicker(t *testing.T) {
	usage := &mockUsage{}
	events := &eventRecorder{}
	tr, clock := newTestTracker(usage, events)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		clock.Advance(time.Second)
		a := used("busyalpha", 0, clock.Now())
		b := used("busybravo", 0, clock.Now())
		if i%2 == 0 {
			usage.set([]domain.UsageRecord{a, b}, nil)
		} else {
			usage.set([]domain.UsageRecord{b, a}, nil)
		}
		require.NoError(t, tr.Sample(ctx))
	}

	assert.Equal(t, "busyalpha", tr.Current().App)
	assert.Len(t, events.all(), 1, "one change for the first adoption only")
}

func TestTracker_TransientErrorKeepsValue(t *testing.T) {
	usage := &mockUsage{}
	tr, clock := newTestTracker(usage, nil)
	ctx := context.Background()

	usage.set([]domain.UsageRecord{used("com.game", 0, clock.Now())}, nil)
	require.NoError(t, tr.Sample(ctx))

	usage.set(nil, errors.New("timeout"))
	assert.Error(t, tr.Sample(ctx))
	assert.Equal(t, "com.game", tr.Current().App)
	assert.False(t, tr.Degraded())
}

func TestTracker_RunBacksOffAfterRepeatedErrors(t *testing.T) {
	usage := &mockUsage{err: errors.New("timeout")}
	config := DefaultTrackerConfig()
	config.SampleInterval = time.Millisecond
	config.ErrorThreshold = 2
	config.ErrorBackoff = time.Hour
	tr := NewTracker(config, usage, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()

	// 3 failures exceed the threshold, then the tracker sleeps for the backoff
	time.Sleep(50 * time.Millisecond)
	usage.mu.Lock()
	calls := usage.calls
	usage.mu.Unlock()
	assert.Equal(t, 3, calls)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop")
	}
}
