package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeResponse_BareArray(t *testing.T) {
	body := []byte(`[
		{"hotkey": "alice", "performance": {"weighted_volume": 12.5, "trade_count": 3}}
	]`)

	records, err := decodeResponse(body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "alice", records[0].Hotkey)
}

func TestDecodeResponse_Envelope(t *testing.T) {
	body := []byte(`{
		"status": "ok",
		"data": [
			{"hotkey": "bob", "performance": {"weighted_volume": "7.25"}}
		]
	}`)

	records, err := decodeResponse(body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "bob", records[0].Hotkey)
}

func TestDecodeResponse_EmptyBodyErrors(t *testing.T) {
	_, err := decodeResponse([]byte("   "))
	require.Error(t, err)
}

func TestDecodeResponse_MalformedJSONErrors(t *testing.T) {
	_, err := decodeResponse([]byte(`[{"hotkey": `))
	require.Error(t, err)
}

func TestFlexNumber_AcceptsNumberAndNumericString(t *testing.T) {
	var asNumber flexNumber
	require.NoError(t, asNumber.UnmarshalJSON([]byte(`12.5`)))
	require.Equal(t, flexNumber(12.5), asNumber)

	var asString flexNumber
	require.NoError(t, asString.UnmarshalJSON([]byte(`"12.5"`)))
	require.Equal(t, flexNumber(12.5), asString)

	var asNull flexNumber
	require.NoError(t, asNull.UnmarshalJSON([]byte(`null`)))
	require.Equal(t, flexNumber(0), asNull)
}

func TestFlexNumber_RejectsGarbage(t *testing.T) {
	var f flexNumber
	require.Error(t, f.UnmarshalJSON([]byte(`"not-a-number"`)))
}

func TestToSnapshot_RoundTripsBareArrayRecord(t *testing.T) {
	body := []byte(`[
		{"hotkey": "carol", "performance": {
			"weighted_volume": 100.5,
			"total_volume_usd": "200.25",
			"realized_profit_usd": 10,
			"unrealized_profit_usd": -5,
			"win_rate": 0.6,
			"trade_count": 4,
			"open_positions_count": 2,
			"total_fees_paid_usd": 1.5,
			"referral_count": 1,
			"referral_volume_usd": 50
		}}
	]`)
	records, err := decodeResponse(body)
	require.NoError(t, err)
	require.Len(t, records, 1)

	ts := time.Unix(1700000000, 0).UTC()
	snap := toSnapshot(records[0], ts)

	require.Equal(t, "carol", snap.Identity)
	require.Equal(t, ts, snap.Timestamp)
	require.NotNil(t, snap.WeightedVolume)
	require.Equal(t, 100.5, *snap.WeightedVolume)
	require.NotNil(t, snap.TotalVolumeUSD)
	require.Equal(t, 200.25, *snap.TotalVolumeUSD, "expected numeric-string total_volume_usd to decode")
	require.Equal(t, 10.0, snap.RealizedProfit)
	require.Equal(t, -5.0, snap.UnrealizedProfit)
	require.NotNil(t, snap.WinRate)
	require.Equal(t, 0.6, *snap.WinRate)
	require.Equal(t, int64(4), snap.TradeCount)
	require.Equal(t, int64(2), snap.OpenPositionsCount)
	require.NotNil(t, snap.TotalFeesPaidUSD)
	require.Equal(t, 1.5, *snap.TotalFeesPaidUSD)
	require.Equal(t, int64(1), snap.ReferralCount)
	require.NotNil(t, snap.ReferralVolumeUSD)
	require.Equal(t, 50.0, *snap.ReferralVolumeUSD)
}

func TestToSnapshot_MissingPerformanceFieldsStayNil(t *testing.T) {
	records, err := decodeResponse([]byte(`[{"hotkey": "dave", "performance": {}}]`))
	require.NoError(t, err)

	snap := toSnapshot(records[0], time.Now())
	require.Equal(t, "dave", snap.Identity)
	require.Nil(t, snap.WeightedVolume)
	require.Nil(t, snap.TotalVolumeUSD)
	require.Nil(t, snap.WinRate)
	require.Zero(t, snap.TradeCount)
}

func TestEmptySnapshot_MaterializesRequestedIdentity(t *testing.T) {
	ts := time.Now()
	snap := emptySnapshot("erin", ts)
	require.Equal(t, "erin", snap.Identity)
	require.Equal(t, ts, snap.Timestamp)
	require.Nil(t, snap.WeightedVolume)
}
