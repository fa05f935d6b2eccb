// Package reward converts per-identity scores into the ordered emission
// vector committed to the chain: threshold gating, the miner/owner burn
// split, and sum-to-one-then-scale normalization.
package reward

import (
	"math"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

// Deployment constants fixed by the reference system.
const (
	MinerEmissionFraction = 0.25
	OwnerUID              = 176
)

// MinerResponse is the legacy dendrite-path fallback input: a well-formed
// probability pair for a uid that has no telemetry score at all.
type MinerResponse struct {
	ProbYes float64
	ProbNo  float64
}

// WellFormed reports whether probabilities are finite, each in [0,1], and
// sum to 1 within 1e-6.
func (m MinerResponse) WellFormed() bool {
	if math.IsNaN(m.ProbYes) || math.IsInf(m.ProbYes, 0) || math.IsNaN(m.ProbNo) || math.IsInf(m.ProbNo, 0) {
		return false
	}
	if m.ProbYes < 0 || m.ProbYes > 1 || m.ProbNo < 0 || m.ProbNo > 1 {
		return false
	}
	return math.Abs(m.ProbYes+m.ProbNo-1) < 1e-6
}

// Thresholds gates participants out of the emission vector below a minimum
// traded volume or win rate.
type Thresholds struct {
	MinVolumeUSD float64
	MinWinRate   float64
}

// WeightStrategy is a narrow extension point left unimplemented beyond the
// spec's default three-branch rule (see SPEC_FULL.md's resolution of the
// equal-weights-fallback open question). A nil strategy uses the default
// branch-based reward exactly as specified.
type WeightStrategy interface {
	// Reward computes r[i] for a uid that has neither a score nor a
	// well-formed miner response. The default behavior (nil strategy) is 0.
	Reward(uid int64, identity string) float64
}

// Builder constructs the per-epoch reward vector.
type Builder struct {
	Thresholds Thresholds
	Strategy   WeightStrategy // optional, see WeightStrategy
}

// Build computes r[i] for each uid in order, then normalizes so the sum
// equals MinerEmissionFraction (or emits the zero vector if every reward is
// zero). scores is the EMA operator's smoothed-score map; snapshots supplies
// the threshold-gate inputs; responses is the optional legacy dendrite path,
// keyed by uid (nil or missing entries mean "no response").
func (b *Builder) Build(
	uids []int64,
	uidToIdentity map[int64]string,
	scores map[string]float64,
	snapshots map[string]domain.TelemetrySnapshot,
	responses map[int64]MinerResponse,
) []float64 {
	rewards := make([]float64, len(uids))

	for i, uid := range uids {
		identity, ok := uidToIdentity[uid]
		if !ok || identity == "" {
			rewards[i] = 0
			continue
		}

		if score, hasScore := scores[identity]; hasScore {
			if b.gated(identity, snapshots) {
				rewards[i] = 0
			} else {
				rewards[i] = score
			}
			continue
		}

		if resp, hasResp := responses[uid]; hasResp && resp.WellFormed() {
			rewards[i] = 1
			continue
		}

		if b.Strategy != nil {
			rewards[i] = b.Strategy.Reward(uid, identity)
			continue
		}

		rewards[i] = 0
	}

	return normalizeToFraction(rewards, MinerEmissionFraction)
}

func (b *Builder) gated(identity string, snapshots map[string]domain.TelemetrySnapshot) bool {
	snap, ok := snapshots[identity]
	if !ok {
		return false
	}
	volume := 0.0
	if snap.WeightedVolume != nil {
		volume = *snap.WeightedVolume
	} else if snap.TotalVolumeUSD != nil {
		volume = *snap.TotalVolumeUSD
	}
	if volume < b.Thresholds.MinVolumeUSD {
		return true
	}
	if snap.WinRate != nil && *snap.WinRate < b.Thresholds.MinWinRate {
		return true
	}
	return false
}

// normalizeToFraction divides by the sum first, then scales by fraction —
// never the other order, which would accumulate different rounding error
// (see SPEC_FULL.md §9 Numeric semantics). A zero sum yields the zero
// vector unchanged.
func normalizeToFraction(rewards []float64, fraction float64) []float64 {
	var sum float64
	for _, r := range rewards {
		sum += r
	}
	if sum <= 0 {
		return rewards
	}
	out := make([]float64, len(rewards))
	for i, r := range rewards {
		out[i] = (r / sum) * fraction
	}
	return out
}

// Sum returns the total of a reward vector, for the epoch driver's
// zero-rewards skip-commit check.
func Sum(rewards []float64) float64 {
	var s float64
	for _, r := range rewards {
		s += r
	}
	return s
}
