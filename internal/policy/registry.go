package policy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// RegistryConfig configures the Protection Registry.
type RegistryConfig struct {
	Self               string        // the engine's own identifier, always protected
	SystemUIDThreshold int           // credentials below this are platform services
	LookupTTL          time.Duration // how long a live lookup result is reused
}

// DefaultRegistryConfig returns the default registry configuration.
func DefaultRegistryConfig(self string) RegistryConfig {
	return RegistryConfig{
		Self:               self,
		SystemUIDThreshold: DefaultSystemUIDThreshold,
		LookupTTL:          DefaultLookupTTL,
	}
}

// Registry is the Protection Registry.
// The static catalogs are authoritative; live credential lookups can only add
// protection, never remove it. Members derived during a session are kept until
// the registry is discarded.
type Registry struct {
	mu        sync.RWMutex
	catalogs  map[string]ProtectedCatalog
	static    domain.AppSet
	telephony domain.AppSet
	derived   domain.AppSet

	config  RegistryConfig
	catalog domain.AppCatalog
	lookups *cache.Cache
	logger  *zap.Logger
}

// NewRegistry creates a registry with all default catalogs.
// catalog may be nil, in which case only the static lists and self apply.
func NewRegistry(config RegistryConfig, catalog domain.AppCatalog, logger *zap.Logger) *Registry {
	return NewRegistryWithCatalogs(config, catalog, logger,
		NewTelephonyCatalog(),
		NewDialerCatalog(),
		NewConnectivityCatalog(),
		NewCoreSystemCatalog(),
	)
}

// NewRegistryWithCatalogs creates a registry with custom catalogs (for testing).
func NewRegistryWithCatalogs(config RegistryConfig, catalog domain.AppCatalog, logger *zap.Logger, catalogs ...ProtectedCatalog) *Registry {
	if config.SystemUIDThreshold <= 0 {
		config.SystemUIDThreshold = DefaultSystemUIDThreshold
	}
	if config.LookupTTL <= 0 {
		config.LookupTTL = DefaultLookupTTL
	}
	r := &Registry{
		catalogs:  make(map[string]ProtectedCatalog),
		static:    domain.NewAppSet(config.Self),
		telephony: domain.NewAppSet(),
		derived:   domain.NewAppSet(),
		config:    config,
		catalog:   catalog,
		lookups:   cache.New(config.LookupTTL, 2*config.LookupTTL),
		logger:    logger,
	}
	for _, c := range catalogs {
		r.Register(c)
	}
	return r
}

// Register adds a catalog to the registry.
func (r *Registry) Register(c ProtectedCatalog) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.catalogs[c.ID()] = c
	for _, pkg := range c.Packages() {
		r.static.Add(pkg)
		if c.Telephony() {
			r.telephony.Add(pkg)
		}
	}
}

// Get returns a catalog by ID.
func (r *Registry) Get(id string) (ProtectedCatalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.catalogs[id]
	return c, ok
}

// GetAll returns all registered catalogs ordered by ID.
func (r *Registry) GetAll() []ProtectedCatalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProtectedCatalog, 0, len(r.catalogs))
	for _, c := range r.catalogs {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Static returns the curated identifiers plus self.
func (r *Registry) Static() domain.AppSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.static.Clone()
}

// IsTelephony reports whether pkg is a telephony or dialer service.
func (r *Registry) IsTelephony(pkg string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.telephony.Has(pkg)
}

// SystemUIDRange returns the credential range treated as platform services.
func (r *Registry) SystemUIDRange() domain.UIDRange {
	return domain.UIDRange{Start: 0, End: r.config.SystemUIDThreshold - 1}
}

// Classify reports whether an already-resolved identity is protected. No I/O.
func (r *Registry) Classify(app domain.ApplicationIdentity) bool {
	if r.isKnown(app.PackageName) {
		return true
	}
	return app.IsSystem || (app.UID >= 0 && app.UID < r.config.SystemUIDThreshold)
}

// IsProtected reports whether pkg must keep network access.
// A failed lookup counts as not protected for this call only; the static
// catalogs still apply regardless of lookup success.
func (r *Registry) IsProtected(ctx context.Context, pkg string) bool {
	if r.isKnown(pkg) {
		return true
	}
	if r.catalog == nil {
		return false
	}
	if v, ok := r.lookups.Get(pkg); ok {
		return v.(bool)
	}

	app, err := r.catalog.Lookup(ctx, pkg)
	if err != nil {
		if errors.Is(err, domain.ErrAppNotFound) {
			r.lookups.SetDefault(pkg, false)
			return false
		}
		r.logger.Warn("credential lookup failed, treating as not protected",
			zap.String("app", pkg),
			zap.Error(err))
		return false
	}

	protected := r.Classify(*app)
	r.lookups.SetDefault(pkg, protected)
	if protected {
		r.derive(pkg)
	}
	return protected
}

// Snapshot returns the protected set for the given installed applications:
// the static catalogs, self, every member derived so far this session, and any
// app classified as a platform service. Apps with an unknown credential
// (negative UID) are resolved through a live lookup.
func (r *Registry) Snapshot(ctx context.Context, apps []domain.ApplicationIdentity) domain.AppSet {
	for _, app := range apps {
		switch {
		case r.isKnown(app.PackageName):
		case app.UID < 0 && !app.IsSystem:
			r.IsProtected(ctx, app.PackageName)
		case r.Classify(app):
			r.derive(app.PackageName)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.static.Union(r.derived)
}

func (r *Registry) isKnown(pkg string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.static.Has(pkg) || r.derived.Has(pkg)
}

func (r *Registry) derive(pkg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.derived.Has(pkg) {
		r.derived.Add(pkg)
		r.logger.Debug("platform service added to protection registry", zap.String("app", pkg))
	}
}
