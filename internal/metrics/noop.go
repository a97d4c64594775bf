package metrics

var noop Recorder = &noopRecorder{}

// Noop returns a recorder that discards everything.
func Noop() Recorder {
	return noop
}

type noopRecorder struct{}

func (*noopRecorder) SetDecision(blocked, bypassed int) {}
func (*noopRecorder) SetCallActive(active bool)         {}
func (*noopRecorder) SetTunnelState(state string)       {}
func (*noopRecorder) IncReconfigurations(mode string)   {}
func (*noopRecorder) IncEstablishFailures()             {}
func (*noopRecorder) IncEmergencies(reason string)      {}
func (*noopRecorder) AddDrainedPackets(n int)           {}
