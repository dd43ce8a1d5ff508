package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"llm-perp-bot/internal/governor"
	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/store"
	"llm-perp-bot/internal/types"
)

// deciderFunc adapts a function to the Decider interface for tests.
type deciderFunc func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error)

func (f deciderFunc) Decide(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
	return f(ctx, eng, input)
}

func simConfig(concurrency int) *store.Config {
	cfg := &store.Config{}
	cfg.Trading.InitialBalance = 10000
	cfg.Trading.TakerFeeRate = 0.0005
	cfg.Trading.MakerFeeRate = 0.0002
	cfg.Trading.MaxLeverage = 20
	cfg.Sim.Concurrency = concurrency
	cfg.Sim.UnitTimeoutSeconds = 5
	cfg.Sim.RetryRounds = 3
	return cfg
}

// flatSeries builds bars that walk from start by step per bar, with a
// range wide enough to exercise triggers near the closes.
func flatSeries(symbol string, from int64, n int, start, step float64) []types.Candle {
	bars := make([]types.Candle, n)
	price := start
	for i := range bars {
		bars[i] = types.Candle{
			Symbol: symbol,
			Ts:     from + int64(i)*60000,
			Open:   price,
			High:   price + step + 0.5,
			Low:    price - 0.5,
			Close:  price + step,
			Volume: 1,
		}
		price += step
	}
	return bars
}

func testUnit(symbol string, step float64) Unit {
	history := flatSeries(symbol, 0, 10, 100, 0)
	replay := flatSeries(symbol, 600000, 10, 100, step)
	return Unit{
		ID:      "test-" + symbol,
		Start:   time.UnixMilli(600000).UTC(),
		History: map[string][]types.Candle{symbol: history},
		Replay:  map[string][]types.Candle{symbol: replay},
	}
}

func openOnDecide(symbol string, tp, sl float64) deciderFunc {
	return func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
		_, err := eng.OpenPosition(ctx, types.OpenRequest{
			Symbol:       symbol,
			Side:         types.SideLong,
			NotionalUsdt: 1000,
			Leverage:     3,
			TpPrice:      tp,
			SlPrice:      sl,
		})
		if err != nil {
			return types.DecisionTrace{}, err
		}
		return types.DecisionTrace{Actions: []string{"opened " + symbol}}, nil
	}
}

func TestRunUnitTakeProfitPath(t *testing.T) {
	cfg := simConfig(2)
	orch := NewOrchestrator(cfg, governor.New(2), openOnDecide("BTCUSDT", 104, 95), nil)

	// Rising replay: the long hits its take profit.
	result := orch.RunUnit(context.Background(), testUnit("BTCUSDT", 1))

	if result.TimedOut || result.Error != "" {
		t.Fatalf("unexpected failure markers: %+v", result)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.CloseReason != types.CloseTakeProfit {
		t.Errorf("expected take_profit, got %s", trade.CloseReason)
	}
	if result.NetPnl <= 0 {
		t.Errorf("expected positive net pnl, got %f", result.NetPnl)
	}
	if result.Loss() {
		t.Error("winning unit must not report a loss")
	}
}

func TestRunUnitClosesLeftoversAsTimeout(t *testing.T) {
	cfg := simConfig(2)
	// No protective prices: the position survives the whole replay.
	orch := NewOrchestrator(cfg, governor.New(2), openOnDecide("BTCUSDT", 0, 0), nil)

	result := orch.RunUnit(context.Background(), testUnit("BTCUSDT", 0.1))

	if len(result.Trades) != 1 {
		t.Fatalf("expected the leftover to be closed, got %d trades", len(result.Trades))
	}
	if result.Trades[0].CloseReason != types.CloseTimeout {
		t.Errorf("expected timeout close reason, got %s", result.Trades[0].CloseReason)
	}
}

func TestRunUnitDeciderTimeout(t *testing.T) {
	cfg := simConfig(1)
	cfg.Sim.UnitTimeoutSeconds = 1
	slow := deciderFunc(func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
		select {
		case <-ctx.Done():
			return types.DecisionTrace{}, ctx.Err()
		case <-time.After(10 * time.Second):
			return types.DecisionTrace{}, nil
		}
	})
	orch := NewOrchestrator(cfg, governor.New(1), slow, nil)

	start := time.Now()
	result := orch.RunUnit(context.Background(), testUnit("BTCUSDT", 1))
	if !result.TimedOut {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}
	if len(result.Trades) != 0 {
		t.Errorf("timed-out unit must not replay trades, got %d", len(result.Trades))
	}

	// The governor slot must be back.
	if !orch.gov.Acquire(time.Millisecond) {
		t.Error("governor slot leaked after timeout")
	}
}

func TestRunUnitDeciderError(t *testing.T) {
	cfg := simConfig(1)
	failing := deciderFunc(func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
		return types.DecisionTrace{}, errors.New("model unavailable")
	})
	orch := NewOrchestrator(cfg, governor.New(1), failing, nil)

	result := orch.RunUnit(context.Background(), testUnit("BTCUSDT", 1))
	if result.Error != "model unavailable" {
		t.Errorf("expected error marker, got %+v", result)
	}
	if !result.Loss() {
		t.Error("errored unit counts as a loss")
	}
}

func TestRunUnitDeciderPanicIsContained(t *testing.T) {
	cfg := simConfig(1)
	panicking := deciderFunc(func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
		panic("boom")
	})
	orch := NewOrchestrator(cfg, governor.New(1), panicking, nil)

	result := orch.RunUnit(context.Background(), testUnit("BTCUSDT", 1))
	if result.Error == "" {
		t.Fatal("panic must surface as a unit error")
	}
	if !orch.gov.Acquire(time.Millisecond) {
		t.Error("governor slot leaked after panic")
	}
}

func TestConcurrentUnitsAreIsolated(t *testing.T) {
	cfg := simConfig(8)
	var mu sync.Mutex
	seen := map[string]float64{}

	decider := deciderFunc(func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
		// Each unit sees exactly one symbol and a pristine account.
		if len(input.Candles) != 1 {
			return types.DecisionTrace{}, fmt.Errorf("expected 1 symbol, got %d", len(input.Candles))
		}
		acc, err := eng.AccountSummary(ctx)
		if err != nil {
			return types.DecisionTrace{}, err
		}
		if acc.Balance != 10000 || acc.PositionsCount != 0 {
			return types.DecisionTrace{}, fmt.Errorf("dirty account: %+v", acc)
		}
		for symbol := range input.Candles {
			if _, err := eng.OpenPosition(ctx, types.OpenRequest{
				Symbol: symbol, Side: types.SideLong, NotionalUsdt: 1000, Leverage: 2,
			}); err != nil {
				return types.DecisionTrace{}, err
			}
			mu.Lock()
			seen[symbol] = acc.Balance
			mu.Unlock()
		}
		return types.DecisionTrace{}, nil
	})

	orch := NewOrchestrator(cfg, governor.New(4), decider, nil)
	units := make([]Unit, 6)
	for i := range units {
		symbol := fmt.Sprintf("SYM%dUSDT", i)
		units[i] = testUnit(symbol, 0.5)
		units[i].ID = symbol
	}

	results := orch.RunMany(context.Background(), units)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, result := range results {
		if result.Error != "" || result.TimedOut {
			t.Errorf("unit %d failed: %+v", i, result)
		}
		if len(result.Trades) != 1 {
			t.Errorf("unit %d expected 1 trade, got %d", i, len(result.Trades))
		}
	}
	if len(seen) != 6 {
		t.Errorf("expected 6 distinct symbols decided, got %d", len(seen))
	}
}
