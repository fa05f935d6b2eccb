// Package domain holds the shared data model for the validator: participants,
// telemetry snapshots, score records, and the transient per-epoch network
// view. Nothing in this package talks to a database or the network; it is
// pure value types plus the small validation rules every component agrees on.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Participant is a subnet member identified by an opaque address string.
// Index is only stable within one epoch's view; Identity is the durable key.
type Participant struct {
	Identity     string
	FirstSeen    time.Time
	LastSeen     time.Time
	IndexHint    int64
	EndpointHint string
}

// TelemetrySnapshot is a point-in-time performance record for one identity.
// WeightedVolume and TotalVolumeUSD are pointers so the scorer can tell
// "absent" apart from "present but zero" per the weighted_volume fallback
// rule in the scoring operator.
type TelemetrySnapshot struct {
	Identity             string
	Timestamp            time.Time
	WeightedVolume       *float64
	TotalVolumeUSD       *float64
	RealizedProfit       float64
	UnrealizedProfit     float64
	TradeCount           int64
	OpenPositionsCount   int64
	WinRate              *float64
	TotalFeesPaidUSD     *float64
	ReferralCount        int64
	ReferralVolumeUSD    *float64
}

// Usable reports whether the snapshot carries a non-zero volume, profit or
// trade count. A volume pointer that is present but zero counts as empty
// here, so a snapshot with nothing but zeroed fields is not worth scoring on.
func (s TelemetrySnapshot) Usable() bool {
	if s.WeightedVolume != nil && *s.WeightedVolume != 0 {
		return true
	}
	if s.TotalVolumeUSD != nil && *s.TotalVolumeUSD != 0 {
		return true
	}
	if s.RealizedProfit != 0 || s.UnrealizedProfit != 0 {
		return true
	}
	if s.TradeCount != 0 {
		return true
	}
	return false
}

// Validate enforces the snapshot's schema invariant: identity non-empty, all
// populated numeric fields finite, win rate (if present) in [0,1].
func (s TelemetrySnapshot) Validate() error {
	if s.Identity == "" {
		return fmt.Errorf("telemetry snapshot: empty identity")
	}
	if s.WeightedVolume != nil && !finite(*s.WeightedVolume) {
		return fmt.Errorf("telemetry snapshot %s: weighted_volume not finite", s.Identity)
	}
	if s.TotalVolumeUSD != nil && !finite(*s.TotalVolumeUSD) {
		return fmt.Errorf("telemetry snapshot %s: total_volume_usd not finite", s.Identity)
	}
	if !finite(s.RealizedProfit) || !finite(s.UnrealizedProfit) {
		return fmt.Errorf("telemetry snapshot %s: profit field not finite", s.Identity)
	}
	if s.TotalFeesPaidUSD != nil && !finite(*s.TotalFeesPaidUSD) {
		return fmt.Errorf("telemetry snapshot %s: total_fees_paid_usd not finite", s.Identity)
	}
	if s.ReferralVolumeUSD != nil && !finite(*s.ReferralVolumeUSD) {
		return fmt.Errorf("telemetry snapshot %s: referral_volume_usd not finite", s.Identity)
	}
	if s.WinRate != nil {
		if !finite(*s.WinRate) || *s.WinRate < 0 || *s.WinRate > 1 {
			return fmt.Errorf("telemetry snapshot %s: win_rate %.4f out of [0,1]", s.Identity, *s.WinRate)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ScoreRecord is one append-only (identity, timestamp, score, reason) row.
type ScoreRecord struct {
	Identity  string
	Timestamp time.Time
	Score     float64
	Reason    string
}

// EpochView is the transient per-epoch network snapshot: the ordered list of
// active network indices and the index-to-identity map. Never persisted.
type EpochView struct {
	UIDs          []int64
	UIDToIdentity map[int64]string
	Tempo         uint64
	Block         uint64
}

// ActiveUIDs filters uids whose endpoint hint is well-formed: non-zero
// address and non-zero port, matching the "active iff endpoint hint is
// well-formed" rule in the data model.
func ActiveUIDs(uids []int64, endpoints map[int64]Endpoint) []int64 {
	out := make([]int64, 0, len(uids))
	for _, uid := range uids {
		ep, ok := endpoints[uid]
		if !ok {
			continue
		}
		if ep.Address == "" || ep.Address == "0.0.0.0" || ep.Port == 0 {
			continue
		}
		out = append(out, uid)
	}
	return out
}

// Endpoint is the network-reachable address hint for one network index.
type Endpoint struct {
	Address string
	Port    int
}

// CleanupResult reports how many rows a store cleanup pass removed from each
// table. Named fields, not a bare count or a map, closing a shape mismatch
// present in the system this module replaces (one layer returned a plain
// integer, its caller expected keyed fields).
type CleanupResult struct {
	SnapshotsDeleted int64
	ScoresDeleted    int64
}
