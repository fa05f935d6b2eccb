package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

// flexNumber accepts either a JSON number or a numeric string, per the
// upstream endpoint's documented field shape.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("flexNumber: %q: %w", b, err)
	}
	*f = flexNumber(v)
	return nil
}

type wirePerformance struct {
	TotalVolumeUSD      *flexNumber `json:"total_volume_usd"`
	WeightedVolume      *flexNumber `json:"weighted_volume"`
	RealizedProfitUSD   *flexNumber `json:"realized_profit_usd"`
	UnrealizedProfitUSD *flexNumber `json:"unrealized_profit_usd"`
	WinRate             *flexNumber `json:"win_rate"`
	TradeCount          *int64      `json:"trade_count"`
	OpenPositionsCount  *int64      `json:"open_positions_count"`
	TotalFeesPaidUSD    *flexNumber `json:"total_fees_paid_usd"`
	ReferralCount       *int64      `json:"referral_count"`
	ReferralVolumeUSD   *flexNumber `json:"referral_volume_usd"`
}

type wireRecord struct {
	Hotkey      string          `json:"hotkey"`
	Signature   string          `json:"signature,omitempty"`
	Message     string          `json:"message,omitempty"`
	Performance wirePerformance `json:"performance"`
}

type wireEnvelope struct {
	Data   []wireRecord `json:"data"`
	Status string       `json:"status,omitempty"`
}

// decodeResponse accepts either a bare JSON array of records or an envelope
// with a "data" field, matching the upstream endpoint's two documented
// response shapes.
func decodeResponse(body []byte) ([]wireRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("telemetry: empty response body")
	}
	if trimmed[0] == '[' {
		var records []wireRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("telemetry: decode bare array: %w", err)
		}
		return records, nil
	}
	var env wireEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("telemetry: decode envelope: %w", err)
	}
	return env.Data, nil
}

func toSnapshot(r wireRecord, ts time.Time) domain.TelemetrySnapshot {
	snap := domain.TelemetrySnapshot{
		Identity:  r.Hotkey,
		Timestamp: ts,
	}
	p := r.Performance
	if p.WeightedVolume != nil {
		v := float64(*p.WeightedVolume)
		snap.WeightedVolume = &v
	}
	if p.TotalVolumeUSD != nil {
		v := float64(*p.TotalVolumeUSD)
		snap.TotalVolumeUSD = &v
	}
	if p.RealizedProfitUSD != nil {
		snap.RealizedProfit = float64(*p.RealizedProfitUSD)
	}
	if p.UnrealizedProfitUSD != nil {
		snap.UnrealizedProfit = float64(*p.UnrealizedProfitUSD)
	}
	if p.WinRate != nil {
		v := float64(*p.WinRate)
		snap.WinRate = &v
	}
	if p.TradeCount != nil {
		snap.TradeCount = *p.TradeCount
	}
	if p.OpenPositionsCount != nil {
		snap.OpenPositionsCount = *p.OpenPositionsCount
	}
	if p.TotalFeesPaidUSD != nil {
		v := float64(*p.TotalFeesPaidUSD)
		snap.TotalFeesPaidUSD = &v
	}
	if p.ReferralCount != nil {
		snap.ReferralCount = *p.ReferralCount
	}
	if p.ReferralVolumeUSD != nil {
		v := float64(*p.ReferralVolumeUSD)
		snap.ReferralVolumeUSD = &v
	}
	return snap
}

// emptySnapshot materializes a requested-but-missing identity as an all-zero
// snapshot, so the returned set always matches the request.
func emptySnapshot(identity string, ts time.Time) domain.TelemetrySnapshot {
	return domain.TelemetrySnapshot{Identity: identity, Timestamp: ts}
}
