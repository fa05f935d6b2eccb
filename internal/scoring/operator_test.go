package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestRun_Bootstrap(t *testing.T) {
	op := New()
	snaps := map[string]domain.TelemetrySnapshot{
		"alice": {Identity: "alice", WeightedVolume: ptr(1000), RealizedProfit: 100},
	}
	result := op.Run(context.Background(), snaps, map[string]float64{})

	score, ok := result.SmoothedScores["alice"]
	require.True(t, ok, "expected a score for alice")
	require.Greater(t, score, 0.0, "expected positive bootstrap score")
	require.Equal(t, 1, result.Meta.NewParticipants)
}

func TestRun_CliffReset(t *testing.T) {
	op := New()
	// A prior score far above what the current raw score could justify
	// should trigger a reset rather than a smoothed blend.
	prior := map[string]float64{"bob": 10000}
	snaps := map[string]domain.TelemetrySnapshot{
		"bob": {Identity: "bob", WeightedVolume: ptr(1), RealizedProfit: 0},
	}
	result := op.Run(context.Background(), snaps, prior)

	raw := rawScore(snaps["bob"])
	require.InDelta(t, raw, result.SmoothedScores["bob"], 1e-9, "expected cliff reset to set score to raw score")
	require.Equal(t, 1, result.Meta.CliffResets)
}

func TestRun_NormalEMABlend(t *testing.T) {
	op := &Operator{Alpha: 0.5}
	prior := map[string]float64{"carol": 100}
	snaps := map[string]domain.TelemetrySnapshot{
		"carol": {Identity: "carol", WeightedVolume: ptr(1000), RealizedProfit: 50},
	}
	result := op.Run(context.Background(), snaps, prior)

	raw := rawScore(snaps["carol"])
	want := 0.5*100 + 0.5*raw
	require.InDelta(t, want, result.SmoothedScores["carol"], 1e-9)
}

func TestVolumeOf_PrefersWeightedVolume(t *testing.T) {
	snap := domain.TelemetrySnapshot{WeightedVolume: ptr(5), TotalVolumeUSD: ptr(500)}
	require.Equal(t, 5.0, volumeOf(snap), "expected weighted_volume to take precedence")
}

func TestVolumeOf_FallsBackToTotalVolumeWhenWeightedAbsent(t *testing.T) {
	snap := domain.TelemetrySnapshot{TotalVolumeUSD: ptr(500)}
	require.Equal(t, 500.0, volumeOf(snap), "expected fallback to total_volume_usd")
}

func TestVolumeOf_ZeroWeightedVolumeIsNotAbsent(t *testing.T) {
	// A present-but-zero weighted_volume must NOT fall through to
	// total_volume_usd: "absent" means the pointer is nil, not the value zero.
	snap := domain.TelemetrySnapshot{WeightedVolume: ptr(0), TotalVolumeUSD: ptr(500)}
	require.Equal(t, 0.0, volumeOf(snap), "expected present-zero weighted_volume to win")
}

func TestRun_DeterministicAcrossRepeatedCalls(t *testing.T) {
	op := New()
	snaps := map[string]domain.TelemetrySnapshot{
		"dave": {Identity: "dave", WeightedVolume: ptr(2500), RealizedProfit: 12, UnrealizedProfit: -3},
	}
	prior := map[string]float64{"dave": 42}

	r1 := op.Run(context.Background(), snaps, prior)
	r2 := op.Run(context.Background(), snaps, prior)
	require.Equal(t, r1.SmoothedScores["dave"], r2.SmoothedScores["dave"],
		"expected bit-identical output across repeated calls")
}

func TestNormalize_ZeroSumYieldsAllZeroWeights(t *testing.T) {
	weights := normalize(map[string]float64{"a": 0, "b": 0})
	for id, w := range weights {
		require.Zerof(t, w, "expected zero weight for %s", id)
	}
}
