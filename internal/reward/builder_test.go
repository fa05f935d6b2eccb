package reward

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestBuild_NormalizesToMinerEmissionFraction(t *testing.T) {
	b := &Builder{}
	uids := []int64{1, 2, 3}
	uidToIdentity := map[int64]string{1: "a", 2: "b", 3: "c"}
	scores := map[string]float64{"a": 10, "b": 20, "c": 30}

	rewards := b.Build(uids, uidToIdentity, scores, nil, nil)

	require.InDelta(t, MinerEmissionFraction, sum(rewards), 1e-9)
	// Proportions should match input scores.
	require.Greater(t, rewards[1], rewards[0], "expected rewards to preserve score ordering")
	require.Greater(t, rewards[2], rewards[1], "expected rewards to preserve score ordering")
}

func TestBuild_ZeroSumYieldsZeroVector(t *testing.T) {
	b := &Builder{}
	uids := []int64{1, 2}
	uidToIdentity := map[int64]string{1: "a", 2: "b"}

	rewards := b.Build(uids, uidToIdentity, map[string]float64{}, nil, nil)
	for _, r := range rewards {
		require.Zero(t, r, "expected all-zero reward vector")
	}
}

func TestBuild_ThresholdGateZerosOutLowVolume(t *testing.T) {
	b := &Builder{Thresholds: Thresholds{MinVolumeUSD: 100}}
	uids := []int64{1, 2}
	uidToIdentity := map[int64]string{1: "a", 2: "b"}
	scores := map[string]float64{"a": 10, "b": 10}
	snapshots := map[string]domain.TelemetrySnapshot{
		"a": {Identity: "a", WeightedVolume: ptr(5)},    // below threshold
		"b": {Identity: "b", WeightedVolume: ptr(1000)}, // above threshold
	}

	rewards := b.Build(uids, uidToIdentity, scores, snapshots, nil)
	require.Zero(t, rewards[0], "expected gated participant's reward to be zero")
	require.NotZero(t, rewards[1], "expected ungated participant to receive nonzero reward")
}

func TestBuild_LegacyResponseFallback(t *testing.T) {
	b := &Builder{}
	uids := []int64{1, 2}
	uidToIdentity := map[int64]string{1: "a", 2: "b"}
	responses := map[int64]MinerResponse{
		1: {ProbYes: 0.6, ProbNo: 0.4},
	}

	rewards := b.Build(uids, uidToIdentity, map[string]float64{}, nil, responses)
	require.NotZero(t, rewards[0], "expected uid 1 to receive reward via well-formed legacy response")
	require.Zero(t, rewards[1], "expected uid 2 with no score or response to receive zero reward")
}

func TestMinerResponse_WellFormed(t *testing.T) {
	cases := []struct {
		name string
		resp MinerResponse
		want bool
	}{
		{"valid", MinerResponse{ProbYes: 0.3, ProbNo: 0.7}, true},
		{"does not sum to one", MinerResponse{ProbYes: 0.3, ProbNo: 0.3}, false},
		{"out of range", MinerResponse{ProbYes: 1.5, ProbNo: -0.5}, false},
		{"nan", MinerResponse{ProbYes: math.NaN(), ProbNo: 0.5}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.resp.WellFormed())
		})
	}
}

func TestNormalizeToFraction_OrderMatters(t *testing.T) {
	// Sum-then-scale, never scale-then-sum: verify the sum of the output
	// lands on the target fraction even with values that don't divide evenly.
	rewards := []float64{1, 1, 1}
	out := normalizeToFraction(rewards, MinerEmissionFraction)
	require.InDelta(t, MinerEmissionFraction, sum(out), 1e-9)
}
