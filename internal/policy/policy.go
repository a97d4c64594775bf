// Package policy decides which applications keep network access.
//
// It holds the curated catalogs of protected services (one strategy per
// category, like telephony or connectivity), the Protection Registry that
// combines them with live credential lookups, the communication classifier
// used during calls, and the pure Policy Engine.
package policy

import (
	"time"
)

// DefaultSystemUIDThreshold is the credential below which an app is a platform service.
const DefaultSystemUIDThreshold = 10000

// DefaultLookupTTL bounds how long a credential lookup result is reused.
const DefaultLookupTTL = 5 * time.Minute

// ProtectedCatalog defines one category of services that must never be blocked.
// Implementations provide a curated, static list of identifiers.
type ProtectedCatalog interface {
	// ID returns unique identifier (e.g., "telephony", "connectivity").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// Packages returns the protected package identifiers.
	Packages() []string

	// Telephony reports whether members are telephony/dialer services.
	// Telephony members are never counted as communication apps during calls.
	Telephony() bool
}
