package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

// Postgres schema (reference, mirrors the SQLite schema — applied by
// OpenPostgres the same way the reference rate-limiter's postgres persister
// expects its caller to have migrated the `counters`/`applied_commits`
// tables; here the store itself applies it, since there is no separate
// migration tool in scope):
//
// CREATE TABLE IF NOT EXISTS participants (
//   identity TEXT PRIMARY KEY, first_seen TIMESTAMPTZ NOT NULL,
//   last_seen TIMESTAMPTZ NOT NULL, index_hint BIGINT, endpoint_hint TEXT
// );
// CREATE TABLE IF NOT EXISTS snapshots (... same columns as sqlite ...);
// CREATE INDEX IF NOT EXISTS idx_snapshots_identity_ts ON snapshots(identity, timestamp DESC);
// CREATE TABLE IF NOT EXISTS scores (timestamp TIMESTAMPTZ NOT NULL, identity TEXT NOT NULL, score DOUBLE PRECISION NOT NULL, reason TEXT NOT NULL);
// CREATE INDEX IF NOT EXISTS idx_scores_identity_ts ON scores(identity, timestamp DESC);

const postgresSchema = `
CREATE TABLE IF NOT EXISTS participants (
	identity      TEXT PRIMARY KEY,
	first_seen    TIMESTAMPTZ NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL,
	index_hint    BIGINT,
	endpoint_hint TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
	identity             TEXT NOT NULL,
	timestamp            TIMESTAMPTZ NOT NULL,
	weighted_volume      DOUBLE PRECISION,
	total_volume_usd     DOUBLE PRECISION,
	realized_profit      DOUBLE PRECISION NOT NULL,
	unrealized_profit    DOUBLE PRECISION NOT NULL,
	trade_count          BIGINT NOT NULL,
	open_positions_count BIGINT NOT NULL,
	win_rate             DOUBLE PRECISION,
	total_fees_paid_usd  DOUBLE PRECISION,
	referral_count       BIGINT NOT NULL,
	referral_volume_usd  DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_snapshots_identity_ts ON snapshots(identity, timestamp DESC);

CREATE TABLE IF NOT EXISTS scores (
	timestamp TIMESTAMPTZ NOT NULL,
	identity  TEXT NOT NULL,
	score     DOUBLE PRECISION NOT NULL,
	reason    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_identity_ts ON scores(identity, timestamp DESC);
`

// PostgresStore is the optional HA-friendly Store backend. Writes follow the
// reference persister's idempotent-transaction idiom: a single transaction
// per operation, read-committed isolation, conflict-safe upserts.
type PostgresStore struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// OpenPostgres connects to the given DSN and applies the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &PostgresStore{db: db, defaultTimeout: 10 * time.Second}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.defaultTimeout)
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap domain.TelemetrySnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("store: begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (
			identity, timestamp, weighted_volume, total_volume_usd,
			realized_profit, unrealized_profit, trade_count, open_positions_count,
			win_rate, total_fees_paid_usd, referral_count, referral_volume_usd
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		snap.Identity, snap.Timestamp, snap.WeightedVolume, snap.TotalVolumeUSD,
		snap.RealizedProfit, snap.UnrealizedProfit, snap.TradeCount, snap.OpenPositionsCount,
		snap.WinRate, snap.TotalFeesPaidUSD, snap.ReferralCount, snap.ReferralVolumeUSD,
	); err != nil {
		return fmt.Errorf("store: insert snapshot(%s): %w", snap.Identity, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO participants (identity, first_seen, last_seen, index_hint, endpoint_hint)
		VALUES ($1,$2,$2,0,'')
		ON CONFLICT (identity) DO UPDATE SET last_seen = excluded.last_seen`,
		snap.Identity, snap.Timestamp,
	); err != nil {
		return fmt.Errorf("store: upsert participant(%s): %w", snap.Identity, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshotPer(ctx context.Context, identities []string, maxAge time.Duration) (map[string]domain.TelemetrySnapshot, error) {
	out := map[string]domain.TelemetrySnapshot{}
	if len(identities) == 0 {
		return out, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	placeholders := make([]string, len(identities))
	args := make([]any, 0, len(identities)+1)
	for i, id := range identities {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	cutoffIdx := len(identities) + 1
	args = append(args, time.Now().Add(-maxAge))

	query := fmt.Sprintf(`
		SELECT identity, timestamp, weighted_volume, total_volume_usd,
		       realized_profit, unrealized_profit, trade_count, open_positions_count,
		       win_rate, total_fees_paid_usd, referral_count, referral_volume_usd
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY identity ORDER BY timestamp DESC) AS rn
			FROM snapshots
			WHERE identity IN (%s) AND timestamp > $%d
		) s WHERE rn = 1`, strings.Join(placeholders, ","), cutoffIdx)

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

func (s *PostgresStore) DeleteSnapshotsFor(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	placeholders := make([]string, len(identities))
	args := make([]any, len(identities))
	for i, id := range identities {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM snapshots WHERE identity IN (%s)`, strings.Join(placeholders, ",")), args...); err != nil {
		return fmt.Errorf("store: delete snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendScores(ctx context.Context, scores map[string]float64, reason string) error {
	if len(scores) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("store: begin append_scores: %w", err)
	}
	defer tx.Rollback()

	ts := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scores (timestamp, identity, score, reason) VALUES ($1,$2,$3,$4)`)
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

func (s *PostgresStore) LatestScores(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, score FROM (
			SELECT identity, score, ROW_NUMBER() OVER (PARTITION BY identity ORDER BY timestamp DESC) AS rn
			FROM scores
		) s WHERE rn = 1`)
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

func (s *PostgresStore) Cleanup(ctx context.Context, maxSnapshotAge, maxScoreAge time.Duration) (domain.CleanupResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result domain.CleanupResult

	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE timestamp < $1`, time.Now().Add(-maxSnapshotAge))
	if err != nil {
		return result, fmt.Errorf("store: cleanup snapshots: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.SnapshotsDeleted = n
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM scores WHERE timestamp < $1`, time.Now().Add(-maxScoreAge))
	if err != nil {
		return result, fmt.Errorf("store: cleanup scores: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.ScoresDeleted = n
	}

	return result, nil
}
