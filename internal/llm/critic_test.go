package llm

import (
	"context"
	"strings"
	"testing"

	"llm-perp-bot/internal/types"
)

func TestCritiqueTimedOutRound(t *testing.T) {
	fb, err := NewRuleCritic().Critique(context.Background(), types.RoundRecord{
		Round:  1,
		Result: types.UnitResult{Round: 1, TimedOut: true},
	})
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if fb.Round != 1 {
		t.Fatalf("round = %d", fb.Round)
	}
	if !strings.Contains(fb.Summary, "timed out") {
		t.Fatalf("summary should name the timeout, got %q", fb.Summary)
	}
	if len(fb.Adjustments) != 1 || !strings.Contains(fb.Adjustments[0], "decide faster") {
		t.Fatalf("adjustments = %v", fb.Adjustments)
	}
}

func TestCritiqueErroredRound(t *testing.T) {
	fb, err := NewRuleCritic().Critique(context.Background(), types.RoundRecord{
		Round:  2,
		Result: types.UnitResult{Round: 2, Error: "model response JSON: unexpected end"},
	})
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if !strings.Contains(fb.Summary, "unexpected end") {
		t.Fatalf("summary should carry the error, got %q", fb.Summary)
	}
	if len(fb.Adjustments) != 1 || !strings.Contains(fb.Adjustments[0], "valid JSON") {
		t.Fatalf("adjustments = %v", fb.Adjustments)
	}
}

func TestCritiqueNamesLosingTrades(t *testing.T) {
	result := types.UnitResult{
		Round:  1,
		NetPnl: -12.5,
		Trades: []types.Position{
			{Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, ClosePrice: 95,
				CloseReason: types.CloseStopLoss, RealizedPnl: -10},
			{Symbol: "ETHUSDT", Side: types.SideShort, EntryPrice: 50, ClosePrice: 49,
				CloseReason: types.CloseTakeProfit, RealizedPnl: 2.5},
			{Symbol: "SOLUSDT", Side: types.SideLong, EntryPrice: 20, ClosePrice: 19,
				CloseReason: types.CloseTimeout, RealizedPnl: -5},
		},
	}

	fb, err := NewRuleCritic().Critique(context.Background(), types.RoundRecord{Round: 1, Result: result})
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if len(fb.Mistakes) != 2 {
		t.Fatalf("only losing trades are mistakes, got %v", fb.Mistakes)
	}
	var sawStop, sawTimeout bool
	for _, adj := range fb.Adjustments {
		if strings.Contains(adj, "stop") {
			sawStop = true
		}
		if strings.Contains(adj, "data ran out") {
			sawTimeout = true
		}
	}
	if !sawStop || !sawTimeout {
		t.Fatalf("expected stop and timeout adjustments, got %v", fb.Adjustments)
	}
	if !strings.Contains(fb.Summary, "lost") {
		t.Fatalf("summary = %q", fb.Summary)
	}
}

func TestCritiqueFallbackAdjustment(t *testing.T) {
	result := types.UnitResult{
		Round:  1,
		NetPnl: -1,
		Trades: []types.Position{
			{Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100, ClosePrice: 99,
				CloseReason: types.CloseManual, RealizedPnl: -1},
		},
	}
	fb, err := NewRuleCritic().Critique(context.Background(), types.RoundRecord{Round: 1, Result: result})
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if len(fb.Adjustments) != 1 || !strings.Contains(fb.Adjustments[0], "position size") {
		t.Fatalf("expected the size-reduction fallback, got %v", fb.Adjustments)
	}
}
