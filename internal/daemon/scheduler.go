package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/metrics"
	"github.com/eliteGoblin/focusd/netgate/internal/policy"
)

// SchedulerConfig holds reconciliation scheduler configuration.
type SchedulerConfig struct {
	RefreshInterval     time.Duration // Periodic refresh and health check
	MinReconfigInterval time.Duration // Debounce window for non-urgent triggers
	RetryBase           time.Duration // First retry delay is RetryBase*2
	RetryCap            time.Duration // Upper bound for retry delay
	CallSettle          time.Duration // Wait after a call starts before establishing call-safe mode
	InitialDelay        time.Duration // Stabilization delay before the first reconfiguration
	QueueSize           int           // Buffered events per queue
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RefreshInterval:     30 * time.Second,
		MinReconfigInterval: 2 * time.Second,
		RetryBase:           3 * time.Second,
		RetryCap:            30 * time.Second,
		CallSettle:          2 * time.Second,
		InitialDelay:        2 * time.Second,
		QueueSize:           32,
	}
}

// Backoff returns the retry delay after failures consecutive failures:
// min(base * 2^failures, ceiling).
func Backoff(failures int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < failures && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Reconfigurer applies decisions to the interception handle.
type Reconfigurer interface {
	Reconfigure(ctx context.Context, decision domain.PolicyDecision, protected domain.AppSet) error
	Teardown()
	Stale() bool
	HasHandle() bool
	State() domain.TunnelState
}

// ProtectionSnapshotter produces the protected set for the installed apps.
type ProtectionSnapshotter interface {
	Snapshot(ctx context.Context, apps []domain.ApplicationIdentity) domain.AppSet
}

// ForegroundSource provides the current foreground app.
type ForegroundSource interface {
	Current() domain.ForegroundState
}

// CallSource provides the current call indicator.
type CallSource interface {
	Indicator() domain.CallIndicator
}

// Scheduler is the Reconciliation Scheduler.
// Every trigger arrives as a typed event; urgent events have their own queue
// and are always drained first. All reconciliation state is owned by the Run
// goroutine. Applied results are published as immutable snapshots.
type Scheduler struct {
	config     SchedulerConfig
	engine     *policy.Engine
	registry   ProtectionSnapshotter
	catalog    domain.AppCatalog
	selection  domain.SelectionStore
	foreground ForegroundSource
	calls      CallSource
	controller Reconfigurer
	metrics    metrics.Recorder
	logger     *zap.Logger
	now        func() time.Time

	events chan domain.Event
	urgent chan domain.Event

	// Run goroutine only
	lastApplied  *domain.PolicyDecision
	lastReconfig time.Time
	lastRevision int64
	apps         []domain.ApplicationIdentity
	selected     domain.AppSet
	deferred     *time.Timer
	retry        *time.Timer
	settle       *time.Timer

	applied  atomic.Pointer[domain.PolicyDecision]
	failures atomic.Int64
}

// NewScheduler creates a new reconciliation scheduler.
func NewScheduler(
	config SchedulerConfig,
	engine *policy.Engine,
	registry ProtectionSnapshotter,
	catalog domain.AppCatalog,
	selection domain.SelectionStore,
	foreground ForegroundSource,
	calls CallSource,
	controller Reconfigurer,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultSchedulerConfig().QueueSize
	}
	if recorder == nil {
		recorder = metrics.Noop()
	}
	return &Scheduler{
		config:     config,
		engine:     engine,
		registry:   registry,
		catalog:    catalog,
		selection:  selection,
		foreground: foreground,
		calls:      calls,
		controller: controller,
		metrics:    recorder,
		logger:     logger,
		now:        time.Now,
		events:     make(chan domain.Event, config.QueueSize),
		urgent:     make(chan domain.Event, config.QueueSize),
		selected:   domain.NewAppSet(),
	}
}

// Publish queues a trigger. Never blocks; a dropped non-urgent event is
// recovered by the next periodic refresh.
func (s *Scheduler) Publish(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	q := s.events
	if ev.Urgent {
		q = s.urgent
	}
	select {
	case q <- ev:
	default:
		s.logger.Warn("event queue full, dropping trigger",
			zap.String("kind", string(ev.Kind)),
			zap.Bool("urgent", ev.Urgent))
	}
}

// Applied returns the last successfully applied decision, or nil.
func (s *Scheduler) Applied() *domain.PolicyDecision {
	return s.applied.Load()
}

// Failures returns the number of consecutive failed reconfigurations.
func (s *Scheduler) Failures() int {
	return int(s.failures.Load())
}

// Run drives reconciliation until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("reconciliation scheduler started",
		zap.Duration("refresh", s.config.RefreshInterval),
		zap.Duration("min_interval", s.config.MinReconfigInterval))

	// a fresh run starts without a handle
	s.forget()
	s.lastReconfig = time.Time{}
	if rev, err := s.selection.Revision(); err == nil {
		s.lastRevision = rev
	}

	initial := time.NewTimer(s.config.InitialDelay)
	refresh := time.NewTicker(s.config.RefreshInterval)
	defer func() {
		initial.Stop()
		refresh.Stop()
		stopTimer(s.deferred)
		stopTimer(s.retry)
		stopTimer(s.settle)
	}()

	for {
		select {
		case ev := <-s.urgent:
			s.handle(ctx, ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopping")
			return ctx.Err()

		case ev := <-s.urgent:
			s.handle(ctx, ev)

		case ev := <-s.events:
			s.handle(ctx, ev)

		case <-initial.C:
			s.handle(ctx, domain.Event{Kind: domain.EventInitial, Forced: true, At: s.now()})

		case <-refresh.C:
			s.refresh(ctx)

		case <-timerC(s.deferred):
			s.deferred = nil
			s.handle(ctx, domain.Event{Kind: domain.EventPeriodic, At: s.now()})

		case <-timerC(s.retry):
			s.retry = nil
			s.handle(ctx, domain.Event{Kind: domain.EventRetry, Forced: true, At: s.now()})

		case <-timerC(s.settle):
			s.settle = nil
			s.enterCallSafe(ctx)
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventCallStarted:
		s.dropForCall()
		return
	case domain.EventHandleStale:
		s.forget()
	}

	if s.inCall() {
		s.logger.Debug("deferring reconfiguration until call ends",
			zap.String("trigger", string(ev.Kind)))
		return
	}
	s.reconcile(ctx, ev)
}

// dropForCall releases the interception handle immediately and schedules
// call-safe mode once the call has settled.
func (s *Scheduler) dropForCall() {
	s.logger.Warn("call started, dropping interception")
	s.controller.Teardown()
	s.forget()
	s.metrics.IncEmergencies("call_started")
	s.metrics.SetCallActive(true)

	stopTimer(s.retry)
	s.retry = nil
	stopTimer(s.deferred)
	s.deferred = nil

	stopTimer(s.settle)
	s.settle = time.NewTimer(s.config.CallSettle)
}

func (s *Scheduler) enterCallSafe(ctx context.Context) {
	if !s.calls.Indicator().Active() {
		return
	}
	s.reconcile(ctx, domain.Event{Kind: domain.EventCallStarted, Urgent: true, At: s.now()})
}

// refresh is the periodic tick: selection revision, handle health, then a
// plain reconcile.
func (s *Scheduler) refresh(ctx context.Context) {
	if rev, err := s.selection.Revision(); err != nil {
		s.logger.Warn("failed to read selection revision", zap.Error(err))
	} else if rev != s.lastRevision {
		s.lastRevision = rev
		s.logger.Info("selection changed", zap.Int64("revision", rev))
		s.handle(ctx, domain.Event{Kind: domain.EventSelectionChanged, Forced: true, At: s.now()})
		return
	}

	if s.lastApplied != nil && (s.controller.Stale() || !s.controller.HasHandle()) {
		s.logger.Warn("interception handle unhealthy, re-establishing",
			zap.String("state", string(s.controller.State())))
		s.handle(ctx, domain.Event{Kind: domain.EventHandleStale, Forced: true, At: s.now()})
		return
	}

	s.handle(ctx, domain.Event{Kind: domain.EventPeriodic, At: s.now()})
}

func (s *Scheduler) reconcile(ctx context.Context, ev domain.Event) {
	now := s.now()
	if !ev.Urgent && !ev.Forced {
		// plain triggers wait for the pending backoff retry
		if s.retry != nil {
			s.logger.Debug("retry pending, skipping",
				zap.String("trigger", string(ev.Kind)))
			return
		}
		if wait := s.config.MinReconfigInterval - now.Sub(s.lastReconfig); wait > 0 {
			if s.deferred == nil {
				s.deferred = time.NewTimer(wait)
			}
			s.logger.Debug("debouncing reconfiguration",
				zap.String("trigger", string(ev.Kind)),
				zap.Duration("wait", wait))
			return
		}
	}

	decision, protected := s.compute(ctx)
	if s.lastApplied != nil && decision.Equal(*s.lastApplied) {
		s.logger.Debug("decision unchanged, skipping",
			zap.String("trigger", string(ev.Kind)))
		return
	}

	s.lastReconfig = now
	err := s.controller.Reconfigure(ctx, decision, protected)
	if errors.Is(err, domain.ErrNotRunning) {
		s.logger.Info("engine stopping, discarding reconfiguration",
			zap.String("trigger", string(ev.Kind)))
		s.forget()
		return
	}
	if err != nil {
		n := s.failures.Add(1)
		s.logger.Error("reconfiguration failed",
			zap.String("trigger", string(ev.Kind)),
			zap.Int64("consecutive_failures", n),
			zap.Error(err))
		s.forget()
		if !errors.Is(err, domain.ErrProtectionViolation) {
			s.scheduleRetry(int(n))
		}
		return
	}

	s.failures.Store(0)
	stopTimer(s.retry)
	s.retry = nil
	s.lastApplied = &decision
	s.applied.Store(&decision)
	s.metrics.SetDecision(decision.Blocked.Len(), decision.Bypassed.Len())
	s.metrics.SetCallActive(decision.CallActive)
	s.logger.Info("policy applied",
		zap.String("trigger", string(ev.Kind)),
		zap.String("foreground", decision.Foreground),
		zap.Int("blocked", decision.Blocked.Len()),
		zap.Int("bypassed", decision.Bypassed.Len()),
		zap.Bool("call_active", decision.CallActive))
}

// compute gathers fresh snapshots and asks the policy engine for a decision.
// Failed reads fall back to the last good snapshot.
func (s *Scheduler) compute(ctx context.Context) (domain.PolicyDecision, domain.AppSet) {
	if apps, err := s.catalog.Installed(ctx); err != nil {
		s.logger.Warn("failed to enumerate apps, using last known set", zap.Error(err))
	} else {
		s.apps = apps
	}
	if sel, err := s.selection.Selection(); err != nil {
		s.logger.Warn("failed to read selection, using last known set", zap.Error(err))
	} else {
		s.selected = sel
	}

	all := domain.NewAppSet()
	for _, a := range s.apps {
		all.Add(a.PackageName)
	}
	protected := s.registry.Snapshot(ctx, s.apps)

	decision := s.engine.Compute(policy.Inputs{
		AllApps:    all,
		Selection:  s.selected,
		Foreground: s.foreground.Current().App,
		CallActive: s.calls.Indicator().Active(),
		Protected:  protected,
	})
	return decision, protected
}

func (s *Scheduler) scheduleRetry(failures int) {
	if s.inCall() {
		s.logger.Info("skipping retry during call")
		return
	}
	delay := Backoff(failures, s.config.RetryBase, s.config.RetryCap)
	stopTimer(s.retry)
	s.retry = time.NewTimer(delay)
	s.logger.Info("scheduling retry",
		zap.Duration("delay", delay),
		zap.Int("attempt", failures+1))
}

// inCall is true from the call start until the post-call grace has elapsed.
func (s *Scheduler) inCall() bool {
	ind := s.calls.Indicator()
	return ind.Active() || ind.Emergency
}

func (s *Scheduler) forget() {
	s.lastApplied = nil
	s.applied.Store(nil)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
