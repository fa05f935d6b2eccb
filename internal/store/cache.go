package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

// CachedStore decorates a Store with a short-TTL Redis layer in front of
// LatestSnapshotPer, grounded on the reference rate-limiter's go-redis
// wrapper (internal/ratelimiter/persistence/clients.go's GoRedisEvaler):
// the fallback resolver calls LatestSnapshotPer once per failed telemetry
// batch, and within one epoch's bounded fan-out several batches can fail and
// request overlapping identities — this avoids round-tripping the same
// lookup to SQLite/Postgres repeatedly within a single epoch. Every method
// uses rdb, so a CachedStore always needs a Redis client; with no Redis
// address configured, NewCachedStore returns the inner Store unwrapped.
type CachedStore struct {
	inner Store
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedStore wraps inner with a Redis-backed snapshot cache. addr empty
// disables caching and returns inner unwrapped.
func NewCachedStore(inner Store, addr string, ttl time.Duration) Store {
	if addr == "" {
		return inner
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &CachedStore{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(identity string) string { return "snap:" + identity }

func (c *CachedStore) UpsertSnapshot(ctx context.Context, snap domain.TelemetrySnapshot) error {
	// Invalidate any cached copy so a fresh write is visible to the next
	// fallback lookup instead of serving a stale cached entry.
	c.rdb.Del(ctx, cacheKey(snap.Identity))
	return c.inner.UpsertSnapshot(ctx, snap)
}

func (c *CachedStore) LatestSnapshotPer(ctx context.Context, identities []string, maxAge time.Duration) (map[string]domain.TelemetrySnapshot, error) {
	out := map[string]domain.TelemetrySnapshot{}
	var misses []string

	for _, id := range identities {
		raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
		if err != nil {
			misses = append(misses, id)
			continue
		}
		var snap domain.TelemetrySnapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr != nil {
			misses = append(misses, id)
			continue
		}
		out[id] = snap
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.inner.LatestSnapshotPer(ctx, misses, maxAge)
	if err != nil {
		return nil, err
	}
	for id, snap := range fetched {
		out[id] = snap
		if raw, err := json.Marshal(snap); err == nil {
			c.rdb.Set(ctx, cacheKey(id), raw, c.ttl)
		}
	}
	return out, nil
}

func (c *CachedStore) DeleteSnapshotsFor(ctx context.Context, identities []string) error {
	for _, id := range identities {
		c.rdb.Del(ctx, cacheKey(id))
	}
	return c.inner.DeleteSnapshotsFor(ctx, identities)
}

func (c *CachedStore) AppendScores(ctx context.Context, scores map[string]float64, reason string) error {
	return c.inner.AppendScores(ctx, scores, reason)
}

func (c *CachedStore) LatestScores(ctx context.Context) (map[string]float64, error) {
	return c.inner.LatestScores(ctx)
}

func (c *CachedStore) Cleanup(ctx context.Context, maxSnapshotAge, maxScoreAge time.Duration) (domain.CleanupResult, error) {
	return c.inner.Cleanup(ctx, maxSnapshotAge, maxScoreAge)
}

func (c *CachedStore) Close() error {
	c.rdb.Close()
	return c.inner.Close()
}
