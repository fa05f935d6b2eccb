// Package epoch orchestrates one tick of the validator's cooperative loop:
// sync network view, fetch telemetry (guarded by the fallback resolver and
// store), score, build the reward vector, commit, sleep. No stage begins
// before its predecessor completes; the only internal concurrency is the
// telemetry client's own bounded batch fan-out.
package epoch

import (
	"context"
	"math"
	"time"

	"github.com/wahoo-predict/wahoot-sub000/internal/audit"
	"github.com/wahoo-predict/wahoot-sub000/internal/chain"
	"github.com/wahoo-predict/wahoot-sub000/internal/commit"
	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
	"github.com/wahoo-predict/wahoot-sub000/internal/metrics"
	"github.com/wahoo-predict/wahoot-sub000/internal/reward"
	"github.com/wahoo-predict/wahoot-sub000/internal/scoring"
	"github.com/wahoo-predict/wahoot-sub000/internal/store"
	"github.com/wahoo-predict/wahoot-sub000/internal/telemetry"
)

const (
	defaultBlockTimeSeconds = 12.0
	minLoopInterval         = 60 * time.Second
	fallbackLoopInterval    = 100 * time.Second
	loopIntervalSlack       = 1.1
)

// Outcome is the terminal state of one epoch tick, for logging/metrics and
// for tests to assert against.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeCooldown  Outcome = "cooldown"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Driver wires together every core component and runs one tick at a time.
type Driver struct {
	Chain      chain.Client
	Store      store.Store
	Telemetry  *telemetry.Client
	EventID    *telemetry.EventIDClient
	Scoring    *scoring.Operator
	Reward     *reward.Builder
	Commit     *commit.Manager
	Audit      audit.Sink
	Metrics    *metrics.Registry

	NetUID               uint64
	SnapshotTTL          time.Duration
	ScoreTTL             time.Duration
	LoopIntervalOverride time.Duration
	BlockTimeSeconds     float64
}

// RunOnce executes one epoch tick and returns the outcome plus the sleep
// duration before the next tick. It never returns an error: any failure
// encountered mid-tick is logged and reflected in the Outcome, matching the
// design's rule that the epoch loop never propagates non-fatal exceptions.
func (d *Driver) RunOnce(ctx context.Context) (Outcome, time.Duration) {
	log := logging.From(ctx)
	start := time.Now()

	defer func() {
		if d.Metrics != nil {
			d.Metrics.EpochDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// Step 1: optional store cleanup, wrapped so a cleanup failure never
	// aborts the tick.
	if res, err := d.Store.Cleanup(ctx, d.SnapshotTTL, d.ScoreTTL); err != nil {
		log.Warn().Err(err).Msg("store cleanup failed, continuing")
	} else if res.SnapshotsDeleted > 0 || res.ScoresDeleted > 0 {
		log.Debug().Int64("snapshots_deleted", res.SnapshotsDeleted).
			Int64("scores_deleted", res.ScoresDeleted).Msg("store cleanup complete")
	}

	// Step 2: sync network view.
	view, err := d.Chain.NetworkView(ctx, d.NetUID)
	if err != nil {
		log.Error().Err(err).Msg("failed to sync network view")
		return OutcomeFailed, d.fallbackInterval()
	}

	// Step 3: build active uids; empty means nothing to do this tick.
	activeUIDs := domain.ActiveUIDs(view.UIDs, view.Endpoints)
	if len(activeUIDs) == 0 {
		log.Info().Msg("no active participants this epoch, sleeping")
		return OutcomeSkipped, d.loopInterval(view.Tempo)
	}

	identities := make([]string, 0, len(activeUIDs))
	for _, uid := range activeUIDs {
		if identity, ok := view.UIDToIdentity[uid]; ok && identity != "" {
			identities = append(identities, identity)
		}
	}

	// Attribution only: which market event this tick's telemetry pertains
	// to, for the log line and audit record. Scoring never depends on it.
	eventID := d.activeEventID(ctx)
	if eventID != "" {
		log.Info().Str("event_id", eventID).Msg("active event for this epoch")
	}

	// Step 4: fetch telemetry.
	records, _ := d.Telemetry.FetchAll(ctx, identities, nil, nil)

	bySnapshot := make(map[string]domain.TelemetrySnapshot, len(records))
	for _, r := range records {
		bySnapshot[r.Identity] = r
	}

	var scores map[string]float64
	var rewards []float64

	if len(records) == 0 {
		// Step 5: fallback to last-known-good scores.
		log.Warn().Msg("no usable telemetry this epoch, attempting last-known-good fallback")
		priorScores, err := d.Store.LatestScores(ctx)
		if err != nil || len(priorScores) == 0 {
			log.Warn().Msg("no fallback scores available either, skipping epoch")
			return OutcomeSkipped, d.loopInterval(view.Tempo)
		}
		scores = validatedCopy(priorScores)
		if len(scores) == 0 {
			log.Warn().Msg("fallback scores all invalid, skipping epoch")
			return OutcomeSkipped, d.loopInterval(view.Tempo)
		}
		normalized := normalizeToSum1(scores)
		rewards = d.Reward.Build(activeUIDs, view.UIDToIdentity, normalized, bySnapshot, nil)
	} else {
		// Step 6: score against prior EMA state.
		priorScores, err := d.Store.LatestScores(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load prior scores, treating as empty")
			priorScores = map[string]float64{}
		}
		priorScores = validatedCopy(priorScores)

		result := d.Scoring.Run(ctx, bySnapshot, priorScores)
		scores = result.SmoothedScores

		if d.Metrics != nil {
			d.Metrics.ScoringBootstraps.Add(float64(result.Meta.NewParticipants))
			d.Metrics.ScoringCliffResets.Add(float64(result.Meta.CliffResets))
			d.Metrics.ScoringActive.Set(float64(result.Meta.ActiveParticipants))
		}

		if len(scores) > 0 {
			if err := d.Store.AppendScores(ctx, scores, "ema_update"); err != nil {
				log.Warn().Err(err).Msg("failed to persist updated scores")
			}
		}

		// Step 7: build reward vector.
		rewards = d.Reward.Build(activeUIDs, view.UIDToIdentity, scores, bySnapshot, nil)
	}

	// Step 8: skip commit if the reward sum is zero.
	sum := reward.Sum(rewards)
	if sum <= 0 {
		log.Info().Msg("reward sum is zero, skipping commit")
		return OutcomeSkipped, d.loopInterval(view.Tempo)
	}

	// Step 9: commit.
	result := d.Commit.Commit(ctx, activeUIDs, rewards)
	outcome := d.logCommitResult(ctx, result, view.Block, sum, len(activeUIDs), eventID)

	return outcome, d.loopInterval(view.Tempo)
}

// activeEventID looks up the currently active market event for attribution,
// returning "" when no EventID client is configured.
func (d *Driver) activeEventID(ctx context.Context) string {
	if d.EventID == nil {
		return ""
	}
	return d.EventID.ActiveEventID(ctx)
}

func (d *Driver) logCommitResult(ctx context.Context, result commit.Result, block uint64, rewardSum float64, numActive int, eventID string) Outcome {
	log := logging.From(ctx)

	var outcome Outcome
	switch result.Status {
	case commit.StatusCommitted:
		outcome = OutcomeCommitted
		log.Info().Str("message", result.Message).Uint64("block", block).
			Float64("reward_sum", rewardSum).Int("num_active", numActive).
			Msg("committed weights")
	case commit.StatusCooldown:
		outcome = OutcomeCooldown
	default:
		outcome = OutcomeFailed
	}

	if d.Metrics != nil {
		d.Metrics.CommitOutcomes.WithLabelValues(string(outcome)).Inc()
	}

	if d.Audit != nil {
		rec := audit.Record{
			CommitID:  audit.NewCommitID(),
			Timestamp: time.Now().UTC(),
			Block:     block,
			Status:    string(outcome),
			TxMessage: result.Message,
			RewardSum: rewardSum,
			NumActive: numActive,
			EventID:   eventID,
		}
		if err := d.Audit.Publish(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("failed to publish audit record")
		}
	}

	return outcome
}

// loopInterval derives the inter-epoch sleep from the metagraph's reported
// tempo: max(60s, tempo * block_time * 1.1), falling back to a fixed 100s
// when tempo is unknown (reported as 0). A non-zero LoopIntervalOverride
// replaces both.
func (d *Driver) loopInterval(tempo uint64) time.Duration {
	if d.LoopIntervalOverride > 0 {
		return d.LoopIntervalOverride
	}
	if tempo == 0 {
		return fallbackLoopInterval
	}
	blockTime := d.BlockTimeSeconds
	if blockTime <= 0 {
		blockTime = defaultBlockTimeSeconds
	}
	seconds := float64(tempo) * blockTime * loopIntervalSlack
	interval := time.Duration(seconds * float64(time.Second))
	if interval < minLoopInterval {
		interval = minLoopInterval
	}
	return interval
}

func (d *Driver) fallbackInterval() time.Duration {
	if d.LoopIntervalOverride > 0 {
		return d.LoopIntervalOverride
	}
	return fallbackLoopInterval
}

// validatedCopy keeps only finite, non-negative scores, matching the
// fallback path's validation rule for scores read back from the store.
func validatedCopy(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for identity, score := range scores {
		if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
			continue
		}
		out[identity] = score
	}
	return out
}

func normalizeToSum1(scores map[string]float64) map[string]float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	out := make(map[string]float64, len(scores))
	if sum <= 0 {
		return out
	}
	for identity, s := range scores {
		out[identity] = s / sum
	}
	return out
}
