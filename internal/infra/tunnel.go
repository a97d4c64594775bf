package infra

import (
	"context"
	"errors"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// mainTable is the kernel main routing table.
const mainTable = 254

// InterceptorConfig describes the host side of the interception device.
type InterceptorConfig struct {
	Device          string // interface name, at most 15 bytes
	Table           int    // routing table holding the default route into the device
	ExcludePriority int    // rule priority for uids kept on the main table
	CapturePriority int    // rule priority sending all other uids to Table
}

// DefaultInterceptorConfig returns default interceptor configuration.
func DefaultInterceptorConfig() InterceptorConfig {
	return InterceptorConfig{
		Device:          "netgate0",
		Table:           0x6e67,
		ExcludePriority: 9000,
		CapturePriority: 9100,
	}
}

// ruleSpec is one uid-range policy routing rule.
type ruleSpec struct {
	Start, End uint32
	Table      int
	Priority   int
}

// planRules returns exclusion rules (one per distinct uid and per excluded
// range) followed by the catch-all capture rule.
func planRules(config InterceptorConfig, uids map[string]uint32, ranges []domain.UIDRange) []ruleSpec {
	var specs []ruleSpec
	for _, r := range ranges {
		if r.End < r.Start || r.Start < 0 {
			continue
		}
		specs = append(specs, ruleSpec{
			Start:    uint32(r.Start),
			End:      uint32(r.End),
			Table:    mainTable,
			Priority: config.ExcludePriority,
		})
	}

	seen := make(map[uint32]bool)
	distinct := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if !seen[uid] && !covered(uid, ranges) {
			seen[uid] = true
			distinct = append(distinct, uid)
		}
	}
	slices.Sort(distinct)
	for _, uid := range distinct {
		specs = append(specs, ruleSpec{
			Start:    uid,
			End:      uid,
			Table:    mainTable,
			Priority: config.ExcludePriority,
		})
	}

	return append(specs, ruleSpec{
		Start:    0,
		End:      math.MaxUint32 - 1,
		Table:    config.Table,
		Priority: config.CapturePriority,
	})
}

func covered(uid uint32, ranges []domain.UIDRange) bool {
	for _, r := range ranges {
		if r.Contains(int(uid)) {
			return true
		}
	}
	return false
}

// resolveUIDs maps apps to uids from one catalog snapshot. Apps the snapshot
// does not list have no traffic identity on this host and are returned in
// unknown. Per-app lookups are only used when the snapshot itself fails.
func resolveUIDs(ctx context.Context, catalog domain.AppCatalog, apps domain.AppSet, logger *zap.Logger) (map[string]uint32, domain.AppSet) {
	uids := make(map[string]uint32, apps.Len())
	unknown := domain.NewAppSet()

	add := func(app string, uid int) {
		if uid < 0 {
			logger.Warn("excluded app has no uid", zap.String("app", app))
			return
		}
		uids[app] = uint32(uid)
	}

	installed, err := catalog.Installed(ctx)
	if err == nil {
		index := make(map[string]int, len(installed))
		for _, a := range installed {
			index[a.PackageName] = a.UID
		}
		for _, app := range apps.Sorted() {
			uid, ok := index[app]
			if !ok {
				unknown.Add(app)
				continue
			}
			add(app, uid)
		}
		return uids, unknown
	}

	logger.Warn("failed to snapshot installed apps, resolving one by one", zap.Error(err))
	for _, app := range apps.Sorted() {
		id, err := catalog.Lookup(ctx, app)
		switch {
		case errors.Is(err, domain.ErrAppNotFound):
			unknown.Add(app)
		case err != nil:
			logger.Warn("failed to resolve excluded app", zap.String("app", app), zap.Error(err))
		default:
			add(app, id.UID)
		}
	}
	return uids, unknown
}
