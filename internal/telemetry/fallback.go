package telemetry

import (
	"context"
	"time"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
	"github.com/wahoo-predict/wahoot-sub000/internal/store"
)

// maxCacheAge bounds how old a cached snapshot may be and still be usable as
// a fallback, per the design's fixed 7-day window.
const maxCacheAge = 7 * 24 * time.Hour

// FallbackResolver substitutes recent cached snapshots for a chunk the live
// telemetry client failed to fetch, purging any cached entry that no longer
// validates against the snapshot schema.
type FallbackResolver struct {
	Store store.Store
}

// Resolve returns the valid cached snapshots for identities, deleting any
// cached entry that fails schema validation along the way.
func (f *FallbackResolver) Resolve(ctx context.Context, identities []string) map[string]domain.TelemetrySnapshot {
	log := logging.From(ctx)

	cached, err := f.Store.LatestSnapshotPer(ctx, identities, maxCacheAge)
	if err != nil {
		log.Warn().Err(err).Msg("fallback resolver: store lookup failed, treating as empty")
		return map[string]domain.TelemetrySnapshot{}
	}

	var poisoned []string
	valid := make(map[string]domain.TelemetrySnapshot, len(cached))
	for identity, snap := range cached {
		if err := snap.Validate(); err != nil {
			log.Warn().Err(err).Str("identity", identity).Msg("fallback resolver: dropping schema-invalid cached snapshot")
			poisoned = append(poisoned, identity)
			continue
		}
		valid[identity] = snap
	}

	if len(poisoned) > 0 {
		if err := f.Store.DeleteSnapshotsFor(ctx, poisoned); err != nil {
			log.Warn().Err(err).Msg("fallback resolver: failed to delete poisoned snapshots")
		}
	}

	return valid
}
