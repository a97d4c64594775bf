// Package daemon runs the foreground tracker, call state monitor and
// reconciliation scheduler that keep the interception handle in line with policy.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/metrics"
	"github.com/eliteGoblin/focusd/netgate/internal/policy"
	"github.com/eliteGoblin/focusd/netgate/internal/usecase"
)

// ServiceConfig holds the configuration of every engine component.
type ServiceConfig struct {
	Scheduler      SchedulerConfig
	Tracker        TrackerConfig
	CallMonitor    CallMonitorConfig
	Controller     usecase.ControllerConfig
	Registry       policy.RegistryConfig
	StopGrace      time.Duration // Bounded wait for tasks on stop
	StatusInterval time.Duration // How often the status snapshot is published
}

// DefaultServiceConfig returns default engine configuration.
func DefaultServiceConfig(self string) ServiceConfig {
	return ServiceConfig{
		Scheduler:      DefaultSchedulerConfig(),
		Tracker:        DefaultTrackerConfig(),
		CallMonitor:    DefaultCallMonitorConfig(),
		Controller:     usecase.DefaultControllerConfig(),
		Registry:       policy.DefaultRegistryConfig(self),
		StopGrace:      2 * time.Second,
		StatusInterval: time.Second,
	}
}

// Deps are the host collaborators the engine consumes.
type Deps struct {
	Catalog     domain.AppCatalog
	Usage       domain.UsageSource
	Telephony   domain.TelephonySource // nil means calls are never detected
	Selection   domain.SelectionStore
	Interceptor domain.Interceptor
	Status      domain.StatusPublisher // optional
	Metrics     metrics.Recorder       // optional
}

// Service is the engine: one per process, owning one tunnel controller.
type Service struct {
	config     ServiceConfig
	deps       Deps
	registry   *policy.Registry
	classifier *policy.CommClassifier
	tracker    *Tracker
	calls      *CallMonitor
	controller *usecase.Controller
	scheduler  *Scheduler
	logger     *zap.Logger

	mu      sync.Mutex // serializes Start and Stop
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the engine components together.
func NewService(config ServiceConfig, deps Deps, logger *zap.Logger) *Service {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}

	s := &Service{
		config: config,
		deps:   deps,
		logger: logger,
	}
	s.registry = policy.NewRegistry(config.Registry, deps.Catalog, logger.Named("registry"))
	s.classifier = policy.NewCommClassifier(s.registry.IsTelephony)
	s.tracker = NewTracker(config.Tracker, deps.Usage, s, logger.Named("foreground"))
	s.calls = NewCallMonitor(config.CallMonitor, deps.Telephony, s, logger.Named("calls"))
	s.controller = usecase.NewController(
		config.Controller,
		deps.Interceptor,
		s.registry,
		s.calls,
		s,
		deps.Metrics,
		logger.Named("tunnel"),
	)
	s.scheduler = NewScheduler(
		config.Scheduler,
		policy.NewEngine(s.classifier),
		s.registry,
		deps.Catalog,
		deps.Selection,
		s.tracker,
		s.calls,
		s.controller,
		deps.Metrics,
		logger.Named("scheduler"),
	)
	return s
}

// Publish forwards component events to the scheduler.
func (s *Service) Publish(ev domain.Event) {
	s.scheduler.Publish(ev)
}

// Registry returns the protection registry.
func (s *Service) Registry() *policy.Registry {
	return s.registry
}

// Start launches all tasks. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.deps.Interceptor == nil || s.deps.Selection == nil || s.deps.Catalog == nil {
		return fmt.Errorf("engine is missing a required collaborator")
	}

	s.auditSelection()
	s.controller.Resume()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)

	s.spawn(runCtx, "foreground", s.tracker.Run)
	s.spawn(runCtx, "calls", s.calls.Run)
	s.spawn(runCtx, "scheduler", s.scheduler.Run)
	if s.deps.Status != nil {
		s.spawn(runCtx, "status", s.publishStatus)
	}

	s.logger.Info("engine started", zap.Int("pid", os.Getpid()))
	return nil
}

// Stop cancels all tasks and releases the interception handle. It returns
// within the stop grace period plus the handle teardown time. Stopping a
// stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.StopGrace):
		s.logger.Warn("tasks did not finish within grace period, releasing resources",
			zap.Duration("grace", s.config.StopGrace))
	}

	// a reconfigure that outlived the grace period closes its own handle
	s.controller.Shutdown()
	s.running.Store(false)

	if s.deps.Status != nil {
		if err := s.deps.Status.Publish(s.Status()); err != nil {
			s.logger.Warn("failed to publish final status", zap.Error(err))
		}
	}
	s.logger.Info("engine stopped")
	return nil
}

// Running reports whether the engine is started.
func (s *Service) Running() bool {
	return s.running.Load()
}

// SelectionChanged requests an immediate reconciliation after the selection
// owner changed the persisted set.
func (s *Service) SelectionChanged() {
	s.Publish(domain.Event{Kind: domain.EventSelectionChanged, Forced: true, At: time.Now()})
}

// Status returns the current read model.
func (s *Service) Status() domain.EngineStatus {
	fg := s.tracker.Current()
	ind := s.calls.Indicator()
	selection, err := s.deps.Selection.Selection()
	if err != nil {
		selection = domain.NewAppSet()
	}

	st := domain.EngineStatus{
		Running:     s.running.Load(),
		PID:         os.Getpid(),
		Foreground:  fg.App,
		CallState:   ind.State.String(),
		Emergency:   ind.Emergency,
		TunnelState: s.controller.State(),
		Selected:    selection.Len(),
		Failures:    s.scheduler.Failures(),
		UpdatedAt:   time.Now(),
	}
	applied := s.scheduler.Applied()
	if applied != nil {
		st.Blocked = applied.Blocked.Len()
		st.Bypassed = applied.Bypassed.Len()
	}
	if s.tracker.Degraded() {
		st.Degraded = append(st.Degraded, "usage")
	}
	if s.calls.Degraded() {
		st.Degraded = append(st.Degraded, "telephony")
	}
	st.Text = StatusText(StatusInputs{
		CallActive:    ind.Active(),
		Foreground:    fg.App,
		Selection:     selection,
		Applied:       applied,
		Communication: s.protectedDuringCall(selection),
	})
	return st
}

// protectedDuringCall counts dialers plus selected communication apps.
func (s *Service) protectedDuringCall(selection domain.AppSet) int {
	n := 0
	if c, ok := s.registry.Get("dialer"); ok {
		n += len(c.Packages())
	}
	for app := range selection {
		if s.classifier.IsCommunication(app) {
			n++
		}
	}
	return n
}

// auditSelection reports protected identifiers found in the persisted
// selection. They are ignored by every decision; the store is left untouched.
func (s *Service) auditSelection() {
	selection, err := s.deps.Selection.Selection()
	if err != nil {
		s.logger.Warn("failed to read selection for audit", zap.Error(err))
		return
	}
	_, removed := policy.StripProtected(selection, s.registry.Static())
	if removed.Len() > 0 {
		s.logger.Warn("protected services found in selection, they will never be blocked",
			zap.Strings("apps", removed.Sorted()))
	}
	s.logger.Info("protection registry loaded",
		zap.Int("protected", s.registry.Static().Len()),
		zap.Int("selected", selection.Len()))
}

func (s *Service) publishStatus(ctx context.Context) error {
	ticker := time.NewTicker(s.config.StatusInterval)
	defer ticker.Stop()

	var last string
	for {
		st := s.Status()
		key := fmt.Sprintf("%v|%s|%s|%v|%s|%d|%d|%d|%d",
			st.Running, st.Foreground, st.CallState, st.Emergency,
			st.TunnelState, st.Selected, st.Blocked, st.Bypassed, st.Failures)
		if key != last {
			if err := s.deps.Status.Publish(st); err != nil {
				s.logger.Warn("failed to publish status", zap.Error(err))
			} else {
				last = key
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) spawn(ctx context.Context, name string, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("task exited", zap.String("task", name), zap.Error(err))
		}
	}()
}
