package domain

import (
	"math"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestTelemetrySnapshot_Usable(t *testing.T) {
	cases := []struct {
		name string
		snap TelemetrySnapshot
		want bool
	}{
		{"all zero", TelemetrySnapshot{}, false},
		{"nonzero weighted volume", TelemetrySnapshot{WeightedVolume: f(1)}, true},
		{"zero weighted volume pointer present", TelemetrySnapshot{WeightedVolume: f(0)}, false},
		{"nonzero realized profit", TelemetrySnapshot{RealizedProfit: 5}, true},
		{"nonzero trade count", TelemetrySnapshot{TradeCount: 3}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.snap.Usable(); got != c.want {
				t.Errorf("Usable() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestTelemetrySnapshot_Validate(t *testing.T) {
	if err := (TelemetrySnapshot{}).Validate(); err == nil {
		t.Errorf("expected error for empty identity")
	}

	badWinRate := TelemetrySnapshot{Identity: "a", WinRate: f(1.5)}
	if err := badWinRate.Validate(); err == nil {
		t.Errorf("expected error for win_rate outside [0,1]")
	}

	nonFinite := TelemetrySnapshot{Identity: "a", RealizedProfit: math.Inf(1)}
	if err := nonFinite.Validate(); err == nil {
		t.Errorf("expected error for non-finite profit field")
	}

	ok := TelemetrySnapshot{Identity: "a", WinRate: f(0.5), RealizedProfit: 10}
	if err := ok.Validate(); err != nil {
		t.Errorf("expected valid snapshot to pass, got %v", err)
	}
}

func TestActiveUIDs_FiltersMalformedEndpoints(t *testing.T) {
	endpoints := map[int64]Endpoint{
		1: {Address: "10.0.0.1", Port: 8080},
		2: {Address: "0.0.0.0", Port: 8080},
		3: {Address: "10.0.0.3", Port: 0},
		// uid 4 has no endpoint entry at all
	}
	got := ActiveUIDs([]int64{1, 2, 3, 4}, endpoints)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("expected only uid 1 to be active, got %v", got)
	}
}
