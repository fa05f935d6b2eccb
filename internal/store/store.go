// Package store is the validator's persistent local store: the participant
// registry, append-only telemetry snapshots, and append-only score history.
// Two concrete backends implement Store — SQLite (the deployment default)
// and Postgres (for multi-instance/HA deployments) — sharing one interface so
// every other package is backend-agnostic, the way the reference
// rate-limiter's core package only ever talks to a Persister interface and
// never to a concrete postgres.DB or redis.Client.
package store

import (
	"context"
	"time"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

// Store is the full persistence contract the core depends on. Every method
// is expected to be safe to call from a single driver goroutine plus a small
// number of concurrent telemetry fan-out goroutines; backends serialize
// writes internally where their engine requires it.
type Store interface {
	// UpsertSnapshot inserts a telemetry snapshot and bumps the owning
	// participant's last_seen (creating the participant row if new).
	UpsertSnapshot(ctx context.Context, snap domain.TelemetrySnapshot) error

	// LatestSnapshotPer returns, for each requested identity, its most recent
	// snapshot newer than now-maxAge. Identities with no qualifying snapshot
	// are simply absent from the result.
	LatestSnapshotPer(ctx context.Context, identities []string, maxAge time.Duration) (map[string]domain.TelemetrySnapshot, error)

	// DeleteSnapshotsFor removes all cached snapshots for the given
	// identities — used to purge schema-invalid cache entries.
	DeleteSnapshotsFor(ctx context.Context, identities []string) error

	// AppendScores atomically appends one row per (identity, score) pair,
	// all sharing a single timestamp, tagged with reason.
	AppendScores(ctx context.Context, scores map[string]float64, reason string) error

	// LatestScores returns the most recent score per identity across all
	// history.
	LatestScores(ctx context.Context) (map[string]float64, error)

	// Cleanup deletes snapshot rows older than maxSnapshotAge and score rows
	// older than maxScoreAge, returning how many rows were removed from each
	// table.
	Cleanup(ctx context.Context, maxSnapshotAge, maxScoreAge time.Duration) (domain.CleanupResult, error)

	// Close releases any underlying connection/handle.
	Close() error
}
