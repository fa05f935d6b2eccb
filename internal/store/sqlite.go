package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS participants (
	identity      TEXT PRIMARY KEY,
	first_seen    TIMESTAMP NOT NULL,
	last_seen     TIMESTAMP NOT NULL,
	index_hint    INTEGER,
	endpoint_hint TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
	identity             TEXT NOT NULL,
	timestamp            TIMESTAMP NOT NULL,
	weighted_volume      REAL,
	total_volume_usd     REAL,
	realized_profit      REAL NOT NULL,
	unrealized_profit    REAL NOT NULL,
	trade_count          INTEGER NOT NULL,
	open_positions_count INTEGER NOT NULL,
	win_rate             REAL,
	total_fees_paid_usd  REAL,
	referral_count       INTEGER NOT NULL,
	referral_volume_usd  REAL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_identity_ts ON snapshots(identity, timestamp DESC);

CREATE TABLE IF NOT EXISTS scores (
	timestamp TIMESTAMP NOT NULL,
	identity  TEXT NOT NULL,
	score     REAL NOT NULL,
	reason    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_identity_ts ON scores(identity, timestamp DESC);
`

// SQLiteStore is the default Store backend: a single local file, a pure-Go
// database/sql driver (no cgo toolchain required to build or ship the
// validator as a static binary).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the SQLite file at path and
// applies the schema. SQLite allows only one writer at a time; the pool is
// capped at a single connection so database/sql's own queueing serializes
// writes instead of surfacing "database is locked" errors under the bounded
// telemetry fan-out.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap domain.TelemetrySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (
			identity, timestamp, weighted_volume, total_volume_usd,
			realized_profit, unrealized_profit, trade_count, open_positions_count,
			win_rate, total_fees_paid_usd, referral_count, referral_volume_usd
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		snap.Identity, snap.Timestamp, snap.WeightedVolume, snap.TotalVolumeUSD,
		snap.RealizedProfit, snap.UnrealizedProfit, snap.TradeCount, snap.OpenPositionsCount,
		snap.WinRate, snap.TotalFeesPaidUSD, snap.ReferralCount, snap.ReferralVolumeUSD,
	); err != nil {
		return fmt.Errorf("store: insert snapshot(%s): %w", snap.Identity, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO participants (identity, first_seen, last_seen, index_hint, endpoint_hint)
		VALUES (?,?,?,0,'')
		ON CONFLICT(identity) DO UPDATE SET last_seen = excluded.last_seen`,
		snap.Identity, snap.Timestamp, snap.Timestamp,
	); err != nil {
		return fmt.Errorf("store: upsert participant(%s): %w", snap.Identity, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSnapshotPer(ctx context.Context, identities []string, maxAge time.Duration) (map[string]domain.TelemetrySnapshot, error) {
	out := map[string]domain.TelemetrySnapshot{}
	if len(identities) == 0 {
		return out, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(identities)), ",")
	query := fmt.Sprintf(`
		SELECT identity, timestamp, weighted_volume, total_volume_usd,
		       realized_profit, unrealized_profit, trade_count, open_positions_count,
		       win_rate, total_fees_paid_usd, referral_count, referral_volume_usd
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY identity ORDER BY timestamp DESC) AS rn
			FROM snapshots
			WHERE identity IN (%s) AND timestamp > ?
		) WHERE rn = 1`, placeholders)

	args := make([]any, 0, len(identities)+1)
	for _, id := range identities {
		args = append(args, id)
	}
	cutoff := time.Now().Add(-maxAge)
	args = append(args, cutoff)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: latest_snapshot_per: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap domain.TelemetrySnapshot
		if err := rows.Scan(
			&snap.Identity, &snap.Timestamp, &snap.WeightedVolume, &snap.TotalVolumeUSD,
			&snap.RealizedProfit, &snap.UnrealizedProfit, &snap.TradeCount, &snap.OpenPositionsCount,
			&snap.WinRate, &snap.TotalFeesPaidUSD, &snap.ReferralCount, &snap.ReferralVolumeUSD,
		); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		out[snap.Identity] = snap
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSnapshotsFor(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(identities)), ",")
	args := make([]any, 0, len(identities))
	for _, id := range identities {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM snapshots WHERE identity IN (%s)`, placeholders), args...); err != nil {
		return fmt.Errorf("store: delete snapshots: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendScores(ctx context.Context, scores map[string]float64, reason string) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin append_scores: %w", err)
	}
	defer tx.Rollback()

	ts := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scores (timestamp, identity, score, reason) VALUES (?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("store: prepare append_scores: %w", err)
	}
	defer stmt.Close()

	for identity, score := range scores {
		if _, err := stmt.ExecContext(ctx, ts, identity, score, reason); err != nil {
			return fmt.Errorf("store: insert score(%s): %w", identity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit append_scores: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestScores(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, score FROM (
			SELECT identity, score, ROW_NUMBER() OVER (PARTITION BY identity ORDER BY timestamp DESC) AS rn
			FROM scores
		) WHERE rn = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: latest_scores: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var identity string
		var score float64
		if err := rows.Scan(&identity, &score); err != nil {
			return nil, fmt.Errorf("store: scan score: %w", err)
		}
		out[identity] = score
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Cleanup(ctx context.Context, maxSnapshotAge, maxScoreAge time.Duration) (domain.CleanupResult, error) {
	var result domain.CleanupResult

	snapCutoff := time.Now().Add(-maxSnapshotAge)
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE timestamp < ?`, snapCutoff)
	if err != nil {
		return result, fmt.Errorf("store: cleanup snapshots: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.SnapshotsDeleted = n
	}

	scoreCutoff := time.Now().Add(-maxScoreAge)
	res, err = s.db.ExecContext(ctx, `DELETE FROM scores WHERE timestamp < ?`, scoreCutoff)
	if err != nil {
		return result, fmt.Errorf("store: cleanup scores: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.ScoresDeleted = n
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return result, fmt.Errorf("store: vacuum: %w", err)
	}
	return result, nil
}
