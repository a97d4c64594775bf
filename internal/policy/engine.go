package policy

import "github.com/eliteGoblin/focusd/netgate/internal/domain"

// Inputs are the snapshots a decision is computed from.
type Inputs struct {
	AllApps    domain.AppSet
	Selection  domain.AppSet
	Foreground string // empty means nothing is in the foreground
	CallActive bool
	Protected  domain.AppSet
}

// Engine computes policy decisions. It performs no I/O.
type Engine struct {
	classifier *CommClassifier
}

// NewEngine creates a policy engine.
func NewEngine(classifier *CommClassifier) *Engine {
	return &Engine{classifier: classifier}
}

// StripProtected splits a selection into the identifiers that may be gated and
// the protected ones that were mistakenly selected. The selection is not modified.
func StripProtected(selection, protected domain.AppSet) (safe, removed domain.AppSet) {
	return selection.Minus(protected), selection.Intersect(protected)
}

// Compute partitions in.AllApps into blocked and bypassed apps.
//
// Protected apps are always bypassed. Selected apps are blocked unless they are
// in the foreground. During a call a selected app is additionally bypassed when
// it is a communication or call-critical app, so a call never blocks more than
// the same inputs would without one.
func (e *Engine) Compute(in Inputs) domain.PolicyDecision {
	safe, _ := StripProtected(in.Selection, in.Protected)

	d := domain.PolicyDecision{
		Blocked:    domain.NewAppSet(),
		Bypassed:   domain.NewAppSet(),
		Foreground: in.Foreground,
		Selection:  safe,
		CallActive: in.CallActive,
	}

	for app := range in.AllApps {
		switch {
		case in.Protected.Has(app):
			d.Bypassed.Add(app)
		case !safe.Has(app):
			d.Bypassed.Add(app)
		case app == in.Foreground:
			d.Bypassed.Add(app)
		case in.CallActive && e.keepDuringCall(app):
			d.Bypassed.Add(app)
		default:
			d.Blocked.Add(app)
		}
	}
	return d
}

func (e *Engine) keepDuringCall(app string) bool {
	if e.classifier == nil {
		return false
	}
	return e.classifier.IsCommunication(app) || e.classifier.IsCallCritical(app)
}
