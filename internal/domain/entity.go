// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"sort"
	"time"
)

// AppSet is a set of package identifiers.
// A nil AppSet is a valid empty set for every read method.
type AppSet map[string]struct{}

// NewAppSet builds a set from the given identifiers, skipping empty ones.
func NewAppSet(ids ...string) AppSet {
	s := make(AppSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Add inserts an identifier.
func (s AppSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Has reports whether id is a member.
func (s AppSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of members.
func (s AppSet) Len() int {
	return len(s)
}

// Clone returns an independent copy (never nil).
func (s AppSet) Clone() AppSet {
	c := make(AppSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Equal reports structural equality. Nil and empty sets are equal.
func (s AppSet) Equal(o AppSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Minus returns members of s that are not in o.
func (s AppSet) Minus(o AppSet) AppSet {
	r := make(AppSet, len(s))
	for id := range s {
		if !o.Has(id) {
			r[id] = struct{}{}
		}
	}
	return r
}

// Intersect returns members present in both sets.
func (s AppSet) Intersect(o AppSet) AppSet {
	r := make(AppSet)
	for id := range s {
		if o.Has(id) {
			r[id] = struct{}{}
		}
	}
	return r
}

// Union returns a new set with the members of s and all others.
func (s AppSet) Union(others ...AppSet) AppSet {
	r := s.Clone()
	for _, o := range others {
		for id := range o {
			r[id] = struct{}{}
		}
	}
	return r
}

// Sorted returns the members in lexical order (for logs and stable output).
func (s AppSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ApplicationIdentity is an installed application as reported by the platform.
// Immutable once read for a given install.
type ApplicationIdentity struct {
	PackageName string
	UID         int
	IsSystem    bool
}

// UIDRange is an inclusive range of numeric process credentials.
type UIDRange struct {
	Start int
	End   int
}

// Contains reports whether uid falls in the range.
func (r UIDRange) Contains(uid int) bool {
	return uid >= r.Start && uid <= r.End
}

// TelephonyState is the raw state delivered by the platform telephony signal.
type TelephonyState int

const (
	TelephonyIdle TelephonyState = iota
	TelephonyRinging
	TelephonyOffHook
)

func (s TelephonyState) String() string {
	switch s {
	case TelephonyRinging:
		return "ringing"
	case TelephonyOffHook:
		return "offhook"
	default:
		return "idle"
	}
}

// ParseTelephonyState maps a textual state back to a TelephonyState.
// Unknown values map to idle.
func ParseTelephonyState(s string) TelephonyState {
	switch s {
	case "ringing":
		return TelephonyRinging
	case "offhook":
		return TelephonyOffHook
	default:
		return TelephonyIdle
	}
}

// CallState is the two-state call indicator.
type CallState int

const (
	CallIdle CallState = iota
	CallActive
)

func (c CallState) String() string {
	if c == CallActive {
		return "active"
	}
	return "idle"
}

// CallIndicator is the published call state with its transition timestamp.
type CallIndicator struct {
	State     CallState
	Since     time.Time
	Emergency bool // raised on Idle->Active, cleared after the post-call settle delay
}

// Active is a convenience accessor.
func (c CallIndicator) Active() bool { return c.State == CallActive }

// ForegroundState is the resolved foreground application.
// App is empty when nothing (or a launcher) is in the foreground.
type ForegroundState struct {
	App       string
	LastValid string
	UpdatedAt time.Time
}

// PolicyDecision is the computed partition of all known applications.
// Two decisions with equal fields describe the same tunnel configuration.
type PolicyDecision struct {
	Blocked    AppSet
	Bypassed   AppSet
	Foreground string
	Selection  AppSet // effective selection after stripping protected identifiers
	CallActive bool
}

// Equal reports structural equality.
func (d PolicyDecision) Equal(o PolicyDecision) bool {
	return d.Foreground == o.Foreground &&
		d.CallActive == o.CallActive &&
		d.Blocked.Equal(o.Blocked) &&
		d.Bypassed.Equal(o.Bypassed) &&
		d.Selection.Equal(o.Selection)
}

// TunnelState is the Tunnel Controller lifecycle state.
//
//	uninitialized -> establishing
//	establishing  -> active | call_safe_active | failed
//	active        -> tearing_down | call_safe_active
//	call_safe_active -> tearing_down | active
//	tearing_down  -> uninitialized
//	failed        -> uninitialized
type TunnelState string

const (
	TunnelUninitialized  TunnelState = "uninitialized"
	TunnelEstablishing   TunnelState = "establishing"
	TunnelActive         TunnelState = "active"
	TunnelCallSafeActive TunnelState = "call_safe_active"
	TunnelTearingDown    TunnelState = "tearing_down"
	TunnelFailed         TunnelState = "failed"
)

// EventKind identifies the source of a reconciliation trigger.
type EventKind string

const (
	EventPeriodic         EventKind = "periodic"
	EventForeground       EventKind = "foreground"
	EventCallStarted      EventKind = "call_started"
	EventCallEnded        EventKind = "call_ended"
	EventSelectionChanged EventKind = "selection_changed"
	EventRetry            EventKind = "retry"
	EventEmergency        EventKind = "emergency"
	EventHandleStale      EventKind = "handle_stale"
	EventInitial          EventKind = "initial"
)

// Event is a typed trigger delivered to the Reconciliation Scheduler.
type Event struct {
	Kind   EventKind
	Urgent bool // bypasses the minimum reconfiguration interval and is applied first
	Forced bool // bypasses the minimum reconfiguration interval
	At     time.Time
}

// EngineStatus is the read model served to status queries.
type EngineStatus struct {
	Running     bool        `json:"running"`
	PID         int         `json:"pid"`
	Foreground  string      `json:"foreground,omitempty"`
	CallState   string      `json:"call_state"`
	Emergency   bool        `json:"emergency"`
	TunnelState TunnelState `json:"tunnel_state"`
	Selected    int         `json:"selected"`
	Bypassed    int         `json:"bypassed"`
	Blocked     int         `json:"blocked"`
	Failures    int         `json:"consecutive_failures"`
	Degraded    []string    `json:"degraded,omitempty"`
	Text        string      `json:"text"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
