package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// tunnelStates are reported as one-hot gauge series.
var tunnelStates = []string{
	"uninitialized",
	"establishing",
	"active",
	"call_safe_active",
	"tearing_down",
	"failed",
}

// PromRecorder records to its own Prometheus registry.
type PromRecorder struct {
	registry *prometheus.Registry

	blocked    prometheus.Gauge
	bypassed   prometheus.Gauge
	callActive prometheus.Gauge
	tunnel     *prometheus.GaugeVec
	reconfigs  *prometheus.CounterVec
	failures   prometheus.Counter
	emergency  *prometheus.CounterVec
	drained    prometheus.Counter
}

// NewPromRecorder creates a recorder and registers its collectors.
func NewPromRecorder() *PromRecorder {
	m := &PromRecorder{
		registry: prometheus.NewRegistry(),
		blocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBlockedAppsGauge,
			Help: "Current number of blocked apps",
		}),
		bypassed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBypassedAppsGauge,
			Help: "Current number of apps bypassing interception",
		}),
		callActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCallActiveGauge,
			Help: "Whether a phone call is in progress",
		}),
		tunnel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricTunnelStateGauge,
			Help: "Current tunnel controller state",
		}, []string{"state"}),
		reconfigs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReconfigurationsCounter,
			Help: "Total applied tunnel reconfigurations",
		}, []string{"mode"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEstablishFailuresCounter,
			Help: "Total failed tunnel establishment attempts",
		}),
		emergency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEmergenciesCounter,
			Help: "Total emergency teardowns",
		}, []string{"reason"}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDrainedPacketsCounter,
			Help: "Total packets read and discarded",
		}),
	}

	m.registry.MustRegister(
		m.blocked,
		m.bypassed,
		m.callActive,
		m.tunnel,
		m.reconfigs,
		m.failures,
		m.emergency,
		m.drained,
	)
	return m
}

// Registry returns the registry backing this recorder.
func (m *PromRecorder) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PromRecorder) SetDecision(blocked, bypassed int) {
	m.blocked.Set(float64(blocked))
	m.bypassed.Set(float64(bypassed))
}

func (m *PromRecorder) SetCallActive(active bool) {
	if active {
		m.callActive.Set(1)
		return
	}
	m.callActive.Set(0)
}

func (m *PromRecorder) SetTunnelState(state string) {
	for _, s := range tunnelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.tunnel.WithLabelValues(s).Set(v)
	}
}

func (m *PromRecorder) IncReconfigurations(mode string) {
	m.reconfigs.WithLabelValues(mode).Inc()
}

func (m *PromRecorder) IncEstablishFailures() {
	m.failures.Inc()
}

func (m *PromRecorder) IncEmergencies(reason string) {
	m.emergency.WithLabelValues(reason).Inc()
}

func (m *PromRecorder) AddDrainedPackets(n int) {
	m.drained.Add(float64(n))
}

var _ Recorder = (*PromRecorder)(nil)
