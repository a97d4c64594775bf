// Package metrics exposes engine counters and gauges to Prometheus.
package metrics

// Metric names.
const (
	// Apps currently blocked.
	MetricBlockedAppsGauge = "netgate_blocked_apps"
	// Apps currently bypassing interception.
	MetricBypassedAppsGauge = "netgate_bypassed_apps"
	// 1 while a call is active.
	MetricCallActiveGauge = "netgate_call_active"
	// Tunnel state. Labels: state.
	MetricTunnelStateGauge = "netgate_tunnel_state"
	// Applied reconfigurations. Labels: mode.
	MetricReconfigurationsCounter = "netgate_reconfigurations_total"
	// Failed establishment attempts.
	MetricEstablishFailuresCounter = "netgate_establish_failures_total"
	// Emergency teardowns. Labels: reason.
	MetricEmergenciesCounter = "netgate_emergencies_total"
	// Packets read and discarded from the interception channel.
	MetricDrainedPacketsCounter = "netgate_drained_packets_total"
)

// Recorder receives engine observations.
type Recorder interface {
	SetDecision(blocked, bypassed int)
	SetCallActive(active bool)
	SetTunnelState(state string)
	IncReconfigurations(mode string)
	IncEstablishFailures()
	IncEmergencies(reason string)
	AddDrainedPackets(n int)
}
