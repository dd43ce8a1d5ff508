package ledger

import (
	"testing"

	"llm-perp-bot/internal/types"
)

func TestUnrealizedPnl(t *testing.T) {
	cases := []struct {
		name  string
		side  types.Side
		entry float64
		qty   float64
		mark  float64
		want  float64
	}{
		{"long gain", types.SideLong, 100, 10, 105, 50},
		{"long loss", types.SideLong, 100, 10, 95, -50},
		{"short gain", types.SideShort, 100, 10, 95, 50},
		{"short loss", types.SideShort, 100, 10, 105, -50},
		{"flat", types.SideLong, 100, 10, 100, 0},
	}
	for _, tc := range cases {
		got := UnrealizedPnl(tc.side, tc.entry, tc.qty, tc.mark)
		if !approxEqual(got, tc.want) {
			t.Errorf("%s: expected %f, got %f", tc.name, tc.want, got)
		}
	}
}

func TestRealizedPnlSubtractsBothFeeLegs(t *testing.T) {
	got := RealizedPnl(types.SideLong, 100, 10, 103, 0.5, 0.5)
	if !approxEqual(got, 29) {
		t.Errorf("expected 29, got %f", got)
	}
	// Fees can flip a small gross gain into a net loss.
	got = RealizedPnl(types.SideLong, 100, 10, 100.05, 0.5, 0.5)
	if got >= 0 {
		t.Errorf("expected net loss, got %f", got)
	}
}

func TestRoeHandlesZeroMargin(t *testing.T) {
	if got := Roe(50, 100); !approxEqual(got, 0.5) {
		t.Errorf("expected 0.5, got %f", got)
	}
	got := Roe(50, 0)
	if got <= 0 {
		t.Errorf("zero margin must not produce NaN/Inf sign flip, got %f", got)
	}
}

func TestRound6(t *testing.T) {
	if got := Round6(1.0000004); !approxEqual(got, 1) {
		t.Errorf("expected 1, got %.10f", got)
	}
	if got := Round6(1.0000006); !approxEqual(got, 1.000001) {
		t.Errorf("expected 1.000001, got %.10f", got)
	}
	if got := Round6(-0.1234564); !approxEqual(got, -0.123456) {
		t.Errorf("expected -0.123456, got %.10f", got)
	}
}
