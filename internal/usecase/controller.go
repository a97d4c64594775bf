// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/metrics"
)

// ControllerConfig holds tunnel controller configuration.
type ControllerConfig struct {
	Session           string
	Address           netip.Prefix
	DNS               []netip.Addr
	MTU               int
	BufferSize        int
	DrainIdlePause    time.Duration // pause after an empty read
	DrainErrorPause   time.Duration // pause after an unclassified read error
	DrainJoinTimeout  time.Duration // bounded wait for the drain task on teardown
	EmergencyCooldown time.Duration // delay before retrying after a protection violation
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Session: "netgate",
		Address: netip.MustParsePrefix("10.0.0.2/24"),
		DNS: []netip.Addr{
			netip.MustParseAddr("1.1.1.1"),
			netip.MustParseAddr("8.8.4.4"),
		},
		MTU:               1500,
		BufferSize:        32767,
		DrainIdlePause:    10 * time.Millisecond,
		DrainErrorPause:   time.Second,
		DrainJoinTimeout:  time.Second,
		EmergencyCooldown: 5 * time.Second,
	}
}

// ProtectionSource provides what must be excluded from interception.
type ProtectionSource interface {
	SystemUIDRange() domain.UIDRange
}

// CallGate reports whether a call is in progress.
type CallGate interface {
	CallActive() bool
}

// Controller is the Tunnel Controller.
// It owns the single interception handle. Reconfigure runs under the config
// lock; teardown runs under the cleanup lock, which is always acquired last.
type Controller struct {
	config      ControllerConfig
	interceptor domain.Interceptor
	protection  ProtectionSource
	calls       CallGate
	events      domain.EventSink
	metrics     metrics.Recorder
	logger      *zap.Logger

	configMu sync.Mutex

	cleanupMu   sync.Mutex
	closed      bool // set by Shutdown, cleared by Resume
	handle      domain.TunnelHandle
	drainCancel context.CancelFunc
	drainDone   chan struct{}

	stateMu sync.RWMutex
	state   domain.TunnelState
	stale   bool
}

// NewController creates a new tunnel controller.
func NewController(
	config ControllerConfig,
	interceptor domain.Interceptor,
	protection ProtectionSource,
	calls CallGate,
	events domain.EventSink,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Controller {
	if recorder == nil {
		recorder = metrics.Noop()
	}
	return &Controller{
		config:      config,
		interceptor: interceptor,
		protection:  protection,
		calls:       calls,
		events:      events,
		metrics:     recorder,
		logger:      logger,
		state:       domain.TunnelUninitialized,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() domain.TunnelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Stale reports whether the drain task saw the stream end, or the handle
// reports an invalid resource. A stale controller needs a forced reconfigure.
func (c *Controller) Stale() bool {
	c.stateMu.RLock()
	stale := c.stale
	c.stateMu.RUnlock()
	if stale {
		return true
	}

	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	return c.handle != nil && !c.handle.Valid()
}

// HasHandle reports whether an interception handle is live.
func (c *Controller) HasHandle() bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	return c.handle != nil
}

// Reconfigure replaces the interception handle to match decision.
// protected is the Protection Registry snapshot the decision was computed with.
func (c *Controller) Reconfigure(ctx context.Context, decision domain.PolicyDecision, protected domain.AppSet) error {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	if c.isClosed() {
		return domain.ErrNotRunning
	}
	c.teardown()
	c.setState(domain.TunnelEstablishing)

	cfg := c.interceptConfig(decision, protected)
	handle, err := c.interceptor.Establish(ctx, cfg)
	if err != nil {
		c.fail()
		return fmt.Errorf("%w: %v", domain.ErrEstablishFailed, err)
	}
	if handle == nil || !handle.Valid() {
		if handle != nil {
			_ = handle.Close()
		}
		c.fail()
		return fmt.Errorf("%w: %w", domain.ErrEstablishFailed, domain.ErrInvalidHandle)
	}

	if !c.adopt(handle) {
		// shut down while Establish was running
		_ = handle.Close()
		c.setState(domain.TunnelUninitialized)
		return domain.ErrNotRunning
	}

	if violations := c.verify(handle, decision, protected); violations.Len() > 0 {
		c.logger.Error("protected services left in interception, emergency teardown",
			zap.Strings("apps", violations.Sorted()))
		c.emergency("protection_violation")
		return fmt.Errorf("%w: %d services", domain.ErrProtectionViolation, violations.Len())
	}

	mode, state := "normal", domain.TunnelActive
	if decision.CallActive {
		mode, state = "call_safe", domain.TunnelCallSafeActive
	}
	if !c.activate(handle, state) {
		return domain.ErrNotRunning
	}

	c.metrics.IncReconfigurations(mode)
	c.logger.Info("interception reconfigured",
		zap.String("mode", mode),
		zap.Int("blocked", decision.Blocked.Len()),
		zap.Int("excluded", cfg.ExcludedApps.Len()),
		zap.Bool("routing", handle.Routing()))
	return nil
}

// Teardown releases the current handle. Safe with no handle and from any goroutine.
func (c *Controller) Teardown() {
	c.teardown()
}

// Shutdown releases the current handle and refuses new ones until Resume.
// A Reconfigure still waiting on Establish closes the handle it gets.
func (c *Controller) Shutdown() {
	c.cleanupMu.Lock()
	c.closed = true
	c.cleanupMu.Unlock()
	c.teardown()
}

// Resume lets Reconfigure install handles again after Shutdown.
func (c *Controller) Resume() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	c.closed = false
}

func (c *Controller) isClosed() bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	return c.closed
}

// adopt makes handle the current one unless the controller is shut down.
func (c *Controller) adopt(handle domain.TunnelHandle) bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if c.closed {
		return false
	}
	c.handle = handle
	return true
}

// interceptConfig builds the request for decision.
// Call mode installs no forwarding path; protected and bypassed apps are always excluded.
func (c *Controller) interceptConfig(decision domain.PolicyDecision, protected domain.AppSet) domain.InterceptConfig {
	session := c.config.Session
	if decision.CallActive {
		session += " (call-safe)"
	}

	var uids []domain.UIDRange
	if c.protection != nil {
		uids = append(uids, c.protection.SystemUIDRange())
	}

	return domain.InterceptConfig{
		Session:      session,
		Address:      c.config.Address,
		DNS:          c.config.DNS,
		MTU:          c.config.MTU,
		Route:        !decision.CallActive,
		ExcludedApps: protected.Union(decision.Bypassed),
		ExcludedUIDs: uids,
	}
}

// verify returns protected identifiers that the handle did not exclude, or
// that the decision blocks.
func (c *Controller) verify(handle domain.TunnelHandle, decision domain.PolicyDecision, protected domain.AppSet) domain.AppSet {
	excluded := handle.Excluded()
	violations := protected.Intersect(decision.Blocked)
	for app := range protected {
		if !excluded.Has(app) {
			violations.Add(app)
		}
	}
	return violations
}

// emergency tears down immediately and, after a cooldown, requests a retry
// unless a call is in progress.
func (c *Controller) emergency(reason string) {
	c.teardown()
	c.metrics.IncEmergencies(reason)

	if c.events == nil {
		return
	}
	time.AfterFunc(c.config.EmergencyCooldown, func() {
		if c.calls != nil && c.calls.CallActive() {
			c.logger.Info("skipping emergency retry during call")
			return
		}
		c.events.Publish(domain.Event{Kind: domain.EventEmergency, Forced: true, At: time.Now()})
	})
}

func (c *Controller) fail() {
	c.setState(domain.TunnelFailed)
	c.metrics.IncEstablishFailures()
	c.setState(domain.TunnelUninitialized)
}

func (c *Controller) teardown() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if c.handle == nil {
		return
	}
	c.setState(domain.TunnelTearingDown)

	if c.drainCancel != nil {
		c.drainCancel()
		select {
		case <-c.drainDone:
		case <-time.After(c.config.DrainJoinTimeout):
			c.logger.Warn("drain task did not stop in time, closing handle anyway",
				zap.Duration("timeout", c.config.DrainJoinTimeout))
		}
		c.drainCancel = nil
		c.drainDone = nil
	}

	if err := c.handle.Close(); err != nil {
		c.logger.Warn("failed to close interception handle", zap.Error(err))
	}
	c.handle = nil
	c.setState(domain.TunnelUninitialized)
}

// activate publishes state and starts the drain task for handle, unless a
// Shutdown released it after adopt.
func (c *Controller) activate(handle domain.TunnelHandle, state domain.TunnelState) bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if c.closed || c.handle != handle {
		return false
	}

	c.stateMu.Lock()
	c.stale = false
	c.stateMu.Unlock()
	c.setState(state)

	if handle.Routing() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		c.drainCancel = cancel
		c.drainDone = done
		go c.drain(ctx, handle, done)
	}
	return true
}

// drain reads and discards packets until cancelled or the stream ends.
// Discarding is the blocking mechanism; nothing is forwarded.
func (c *Controller) drain(ctx context.Context, handle domain.TunnelHandle, done chan struct{}) {
	defer close(done)

	buf := make([]byte, c.config.BufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := handle.Read(buf)
		switch {
		case err != nil && IsStreamFault(err):
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("packet stream ended, handle is stale", zap.Error(err))
			c.markStale()
			return
		case err != nil:
			c.logger.Error("packet read failed", zap.Error(err))
			if !sleepCtx(ctx, c.config.DrainErrorPause) {
				return
			}
		case n == 0:
			if !sleepCtx(ctx, c.config.DrainIdlePause) {
				return
			}
		default:
			c.metrics.AddDrainedPackets(1)
		}
	}
}

func (c *Controller) markStale() {
	c.stateMu.Lock()
	c.stale = true
	c.stateMu.Unlock()

	if c.events != nil {
		c.events.Publish(domain.Event{Kind: domain.EventHandleStale, Forced: true, At: time.Now()})
	}
}

func (c *Controller) setState(s domain.TunnelState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.metrics.SetTunnelState(string(s))
}

// IsStreamFault reports read errors that end the packet stream for good.
func IsStreamFault(err error) bool {
	return errors.Is(err, domain.ErrStreamClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, unix.EBADF) ||
		errors.Is(err, unix.EPIPE)
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
