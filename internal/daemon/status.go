package daemon

import (
	"fmt"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// StatusInputs are the values the status line is built from.
type StatusInputs struct {
	CallActive    bool
	Foreground    string
	Selection     domain.AppSet
	Applied       *domain.PolicyDecision
	Communication int // apps kept online during a call
}

// StatusText returns the one-line human readable engine status.
func StatusText(in StatusInputs) string {
	switch {
	case in.CallActive:
		return fmt.Sprintf("Call active - %d communication apps protected", in.Communication)
	case in.Foreground != "" && in.Selection.Has(in.Foreground):
		return fmt.Sprintf("Active: %s (internet enabled)", in.Foreground)
	case in.Applied != nil && in.Applied.Blocked.Len() > 0:
		return fmt.Sprintf("%d selected apps blocked in background", in.Applied.Blocked.Len())
	case in.Selection.Len() > 0:
		return fmt.Sprintf("%d apps under control", in.Selection.Len())
	default:
		return "Ready to control app internet access"
	}
}
