package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/policy"
)

// TrackerConfig holds foreground tracker configuration.
type TrackerConfig struct {
	SampleInterval time.Duration // Delay between usage samples
	UsageWindow    time.Duration // Trailing window queried from the usage signal
	Recency        time.Duration // Only records newer than this can be foreground
	ErrorThreshold int           // Consecutive errors before backing off
	ErrorBackoff   time.Duration // Pause once ErrorThreshold is exceeded
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		SampleInterval: time.Second,
		UsageWindow:    60 * time.Second,
		Recency:        30 * time.Second,
		ErrorThreshold: 5,
		ErrorBackoff:   5 * time.Second,
	}
}

// Tracker is the Foreground Tracker.
// It samples the usage signal and publishes the resolved foreground app as an
// immutable snapshot, emitting an event only when the value changes.
type Tracker struct {
	config  TrackerConfig
	usage   domain.UsageSource
	events  domain.EventSink
	home    domain.AppSet
	overlay domain.AppSet
	logger  *zap.Logger
	now     func() time.Time

	current  atomic.Pointer[domain.ForegroundState]
	failures int
	degraded atomic.Bool
}

// NewTracker creates a new foreground tracker.
func NewTracker(
	config TrackerConfig,
	usage domain.UsageSource,
	events domain.EventSink,
	logger *zap.Logger,
) *Tracker {
	t := &Tracker{
		config:  config,
		usage:   usage,
		events:  events,
		home:    policy.HomeSurfaces,
		overlay: policy.SystemSurfaces,
		logger:  logger,
		now:     time.Now,
	}
	t.current.Store(&domain.ForegroundState{})
	return t
}

// Current returns the last published foreground state.
func (t *Tracker) Current() domain.ForegroundState {
	return *t.current.Load()
}

// Degraded reports whether the usage signal is unavailable.
func (t *Tracker) Degraded() bool {
	return t.degraded.Load()
}

// Run samples until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("foreground tracker started",
		zap.Duration("interval", t.config.SampleInterval))

	for {
		if err := t.Sample(ctx); err != nil {
			t.failures++
			t.logger.Debug("foreground sample failed",
				zap.Int("consecutive", t.failures),
				zap.Error(err))
			if t.failures > t.config.ErrorThreshold {
				t.logger.Warn("foreground sampling keeps failing, backing off",
					zap.Duration("backoff", t.config.ErrorBackoff))
				t.failures = 0
				if !sleepCtx(ctx, t.config.ErrorBackoff) {
					break
				}
			}
		} else {
			t.failures = 0
		}

		if !sleepCtx(ctx, t.config.SampleInterval) {
			break
		}
	}

	t.logger.Info("foreground tracker stopping")
	return ctx.Err()
}

// Sample queries the usage signal once and publishes the resolved foreground.
// An unavailable signal degrades to "no foreground".
func (t *Tracker) Sample(ctx context.Context) error {
	now := t.now()
	records, err := t.usage.RecentUsage(ctx, now.Add(-t.config.UsageWindow))
	if err != nil {
		if errors.Is(err, domain.ErrUsageUnavailable) {
			if !t.degraded.Swap(true) {
				t.logger.Warn("usage signal unavailable, assuming nothing is in the foreground",
					zap.Error(err))
			}
			t.publish(domain.ForegroundState{LastValid: t.Current().LastValid, UpdatedAt: now})
		}
		return err
	}
	if t.degraded.Swap(false) {
		t.logger.Info("usage signal available again")
	}
	if len(records) == 0 {
		return nil
	}

	prev := t.Current()
	next := t.resolve(prev, mostRecent(records, now.Add(-t.config.Recency), prev.LastValid))
	next.UpdatedAt = now
	t.publish(next)
	return nil
}

// resolve applies the launcher and overlay rules to the most recent app.
func (t *Tracker) resolve(prev domain.ForegroundState, recent string) domain.ForegroundState {
	switch {
	case recent == "":
		return domain.ForegroundState{App: prev.LastValid, LastValid: prev.LastValid}
	case t.overlay.Has(recent):
		return domain.ForegroundState{App: prev.LastValid, LastValid: prev.LastValid}
	case t.home.Has(recent):
		return domain.ForegroundState{LastValid: prev.LastValid}
	default:
		return domain.ForegroundState{App: recent, LastValid: recent}
	}
}

func (t *Tracker) publish(next domain.ForegroundState) {
	prev := t.current.Swap(&next)
	if prev.App == next.App {
		return
	}

	t.logger.Info("foreground changed",
		zap.String("from", prev.App),
		zap.String("to", next.App))
	if t.events != nil {
		t.events.Publish(domain.Event{Kind: domain.EventForeground, At: next.UpdatedAt})
	}
}

// mostRecent returns the most recently used identifier at or after cutoff.
// Ties keep sticky when it is among them, otherwise the first in record order.
func mostRecent(records []domain.UsageRecord, cutoff time.Time, sticky string) string {
	var best domain.UsageRecord
	for _, r := range records {
		if r.LastUsed.Before(cutoff) {
			continue
		}
		switch {
		case best.PackageName == "", r.LastUsed.After(best.LastUsed):
			best = r
		case r.LastUsed.Equal(best.LastUsed) && r.PackageName == sticky && sticky != "":
			best = r
		}
	}
	return best.PackageName
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
