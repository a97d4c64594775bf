package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// CallMonitorConfig holds call state monitor configuration.
type CallMonitorConfig struct {
	RestoreGrace time.Duration // Delay after a call ends before normal policy is restored
	QueueSize    int           // Buffered raw telephony states
}

// DefaultCallMonitorConfig returns default call monitor configuration.
func DefaultCallMonitorConfig() CallMonitorConfig {
	return CallMonitorConfig{
		RestoreGrace: 3 * time.Second,
		QueueSize:    16,
	}
}

// CallMonitor is the Call State Monitor.
// Raw telephony callbacks are queued and handled in order on the Run goroutine.
type CallMonitor struct {
	config CallMonitorConfig
	source domain.TelephonySource
	events domain.EventSink
	logger *zap.Logger
	now    func() time.Time

	raw       chan domain.TelephonyState
	indicator atomic.Pointer[domain.CallIndicator]
	degraded  atomic.Bool
}

// NewCallMonitor creates a new call state monitor.
func NewCallMonitor(
	config CallMonitorConfig,
	source domain.TelephonySource,
	events domain.EventSink,
	logger *zap.Logger,
) *CallMonitor {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultCallMonitorConfig().QueueSize
	}
	m := &CallMonitor{
		config: config,
		source: source,
		events: events,
		logger: logger,
		now:    time.Now,
		raw:    make(chan domain.TelephonyState, config.QueueSize),
	}
	m.indicator.Store(&domain.CallIndicator{State: domain.CallIdle})
	return m
}

// Indicator returns the current call indicator.
func (m *CallMonitor) Indicator() domain.CallIndicator {
	return *m.indicator.Load()
}

// CallActive reports whether a call is ringing or connected.
func (m *CallMonitor) CallActive() bool {
	return m.Indicator().Active()
}

// Degraded reports whether the telephony subscription failed.
func (m *CallMonitor) Degraded() bool {
	return m.degraded.Load()
}

// Run subscribes to the telephony signal and handles state changes until ctx
// is canceled. A failed subscription leaves the call indicator idle for the
// whole session.
func (m *CallMonitor) Run(ctx context.Context) error {
	if m.source == nil {
		m.degrade(domain.ErrTelephonyUnavailable)
	} else if cancel, err := m.source.Subscribe(ctx, m.Enqueue); err != nil {
		m.degrade(err)
	} else {
		defer cancel()
		m.logger.Info("call state monitor started")
	}

	var restore <-chan time.Time
	var restoreTimer *time.Timer
	defer func() {
		if restoreTimer != nil {
			restoreTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("call state monitor stopping")
			return ctx.Err()

		case state := <-m.raw:
			switch m.handle(state) {
			case edgeStarted:
				if restoreTimer != nil {
					restoreTimer.Stop()
					restore = nil
				}
			case edgeEnded:
				restoreTimer = time.NewTimer(m.config.RestoreGrace)
				restore = restoreTimer.C
			}

		case <-restore:
			restore = nil
			m.restore()
		}
	}
}

// Enqueue delivers a raw platform state. Safe from any goroutine.
func (m *CallMonitor) Enqueue(state domain.TelephonyState) {
	select {
	case m.raw <- state:
	default:
		m.logger.Warn("telephony queue full, dropping state",
			zap.Stringer("state", state))
	}
}

type callEdge int

const (
	edgeNone callEdge = iota
	edgeStarted
	edgeEnded
)

func (m *CallMonitor) handle(state domain.TelephonyState) callEdge {
	active := state == domain.TelephonyRinging || state == domain.TelephonyOffHook
	prev := m.Indicator()
	now := m.now()

	switch {
	case active && !prev.Active():
		m.indicator.Store(&domain.CallIndicator{State: domain.CallActive, Since: now, Emergency: true})
		m.logger.Warn("call started, entering emergency mode",
			zap.Stringer("telephony", state))
		m.emit(domain.Event{Kind: domain.EventCallStarted, Urgent: true, At: now})
		return edgeStarted

	case !active && prev.Active():
		// emergency stays raised until the restore grace elapses
		m.indicator.Store(&domain.CallIndicator{State: domain.CallIdle, Since: now, Emergency: true})
		m.logger.Info("call ended, restoring normal policy after grace period",
			zap.Duration("grace", m.config.RestoreGrace))
		return edgeEnded
	}
	return edgeNone
}

func (m *CallMonitor) restore() {
	cur := m.Indicator()
	if cur.Active() {
		return
	}
	m.indicator.Store(&domain.CallIndicator{State: domain.CallIdle, Since: cur.Since})
	m.logger.Info("emergency mode cleared")
	m.emit(domain.Event{Kind: domain.EventCallEnded, Forced: true, At: m.now()})
}

func (m *CallMonitor) degrade(err error) {
	m.degraded.Store(true)
	m.logger.Warn("telephony subscription failed, calls will not be protected",
		zap.Error(err))
}

func (m *CallMonitor) emit(ev domain.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}
