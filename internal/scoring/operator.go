// Package scoring implements the EMA volume scorer with cliff-reset
// anti-abuse logic. The contract is intentionally narrow — Run(snapshots,
// prior) -> (new_scores, weights, meta) — because the reference scoring
// pipeline's Operator base class and its polymorphism serve multiple
// scoring strategies (including an out-of-scope Brier scorer) that this
// module does not carry; only the EMA path is built here.
package scoring

import (
	"context"
	"math"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
)

// Constants fixed by the deployment, derived from a half-life and nominal
// epoch interval as specified.
const (
	HalfLifeSeconds       = 12 * 3600
	EpochIntervalSeconds  = 360 * 12
	VolumeExponent        = 0.7
	MinVolumeThreshold    = 1.0
	CliffResetThreshold   = 0.5
	NewMinerHighScoreThreshold = 10000.0
	HighVolumeThreshold   = 100000.0
)

// Alpha returns the EMA smoothing factor derived from half-life and epoch
// interval: alpha = 1 - 0.5^(1/H), H = floor(halfLifeSeconds/epochIntervalSeconds).
func Alpha(halfLifeSeconds, epochIntervalSeconds int) float64 {
	h := halfLifeSeconds / epochIntervalSeconds
	if h <= 0 {
		h = 1
	}
	return 1 - math.Pow(0.5, 1.0/float64(h))
}

// DefaultAlpha is Alpha computed from the deployment's fixed constants.
var DefaultAlpha = Alpha(HalfLifeSeconds, EpochIntervalSeconds)

// Meta summarizes one Run call for logging and metrics export, mirroring
// the reference operator's OperatorResult.meta dict.
type Meta struct {
	TotalParticipants  int
	NewParticipants    int
	CliffResets        int
	ActiveParticipants int
	TotalRawScore      float64
	TotalSmoothedScore float64
	Alpha              float64
	VolumeExponent     float64
	CliffThreshold     float64
	MaxWeight          float64
	MeanWeight         float64
}

// Result is the full output of one scoring pass.
type Result struct {
	SmoothedScores map[string]float64 // identity -> new EMA score, for every input identity
	Weights        map[string]float64 // identity -> smoothed score / sum(smoothed scores)
	Meta           Meta
}

// Operator is the deterministic EMA scorer with cliff-reset.
type Operator struct {
	Alpha float64
}

// New builds an Operator using the deployment's default alpha.
func New() *Operator {
	return &Operator{Alpha: DefaultAlpha}
}

// Run scores every identity present in snapshots against its prior score
// (0 if absent), producing new smoothed scores, a normalized weight vector,
// and a meta summary. Computation per identity is independent, matching the
// determinism requirement: given identical inputs, the output is bit-for-bit
// reproducible.
func (op *Operator) Run(ctx context.Context, snapshots map[string]domain.TelemetrySnapshot, prior map[string]float64) Result {
	log := logging.From(ctx)

	scores := make(map[string]float64, len(snapshots))
	meta := Meta{
		Alpha:          op.Alpha,
		VolumeExponent: VolumeExponent,
		CliffThreshold: CliffResetThreshold,
	}

	for identity, snap := range snapshots {
		raw := rawScore(snap)
		meta.TotalParticipants++
		meta.TotalRawScore += raw

		prev, hadPrior := prior[identity]
		if !hadPrior {
			prev = 0
		}

		var newScore float64
		switch {
		case prev == 0:
			newScore = raw
			meta.NewParticipants++
			if raw > NewMinerHighScoreThreshold {
				log.Warn().Str("identity", identity).Float64("raw", raw).
					Msg("new participant bootstrapped with unusually high raw score")
			}
			if volumeOf(snap) > HighVolumeThreshold {
				log.Info().Str("identity", identity).Float64("volume", volumeOf(snap)).
					Msg("new participant with high volume")
			}
		case raw < CliffResetThreshold*prev:
			newScore = raw
			meta.CliffResets++
			log.Warn().Str("identity", identity).Float64("prev", prev).Float64("raw", raw).
				Float64("ratio", raw/prev).
				Msg("cliff reset: raw score collapsed below threshold of prior EMA")
		default:
			newScore = (1-op.Alpha)*prev + op.Alpha*raw
			if raw < 0.1*prev {
				log.Info().Str("identity", identity).Float64("prev", prev).Float64("raw", raw).
					Msg("notable drop in raw score, not a cliff reset")
			}
		}

		scores[identity] = newScore
		meta.TotalSmoothedScore += newScore
		if newScore > 0 {
			meta.ActiveParticipants++
		}
	}

	weights := normalize(scores)
	if meta.ActiveParticipants > 0 {
		meta.MeanWeight = 1.0 / float64(len(weights))
	}
	for _, w := range weights {
		if w > meta.MaxWeight {
			meta.MaxWeight = w
		}
	}

	return Result{SmoothedScores: scores, Weights: weights, Meta: meta}
}

func rawScore(snap domain.TelemetrySnapshot) float64 {
	volume := math.Max(volumeOf(snap), 0)
	pnl := snap.RealizedProfit + snap.UnrealizedProfit
	volumeComponent := math.Pow(volume, VolumeExponent)
	safeVolume := math.Max(volume, MinVolumeThreshold)
	pnlMultiplier := math.Max(0, 1+pnl/safeVolume)
	return volumeComponent * pnlMultiplier
}

// volumeOf resolves weighted_volume if present, else falls back to
// total_volume_usd — "present" means the pointer is non-nil, not merely
// non-zero, per the resolved Open Question on this fallback's exact
// semantics.
func volumeOf(snap domain.TelemetrySnapshot) float64 {
	if snap.WeightedVolume != nil {
		return *snap.WeightedVolume
	}
	if snap.TotalVolumeUSD != nil {
		return *snap.TotalVolumeUSD
	}
	return 0
}

func normalize(scores map[string]float64) map[string]float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	weights := make(map[string]float64, len(scores))
	if sum <= 0 {
		for identity := range scores {
			weights[identity] = 0
		}
		return weights
	}
	for identity, s := range scores {
		weights[identity] = s / sum
	}
	return weights
}
