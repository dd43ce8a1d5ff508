// Package sim runs what-if trading episodes against historical bars with
// massive intra-process concurrency. Every unit of work gets a fully
// private ledger, engine, clock and price feed; the only objects shared
// between concurrently running units are the governor and the persistence
// queue, both internally synchronized.
package sim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"llm-perp-bot/internal/engine"
	"llm-perp-bot/internal/governor"
	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/metrics"
	"llm-perp-bot/internal/persist"
	"llm-perp-bot/internal/store"
	"llm-perp-bot/internal/types"
)

// Unit is one simulated decision-and-outcome cycle: the decider sees
// History, acts at Start, and the positions it opened ride Replay until
// they trigger or the data runs out.
type Unit struct {
	ID       string
	Start    time.Time
	History  map[string][]types.Candle // context bars handed to the decider
	Replay   map[string][]types.Candle // bars evaluated after the decision
	Round    int                       // 1 for the original run
	Feedback *types.Feedback           // critique injected from round 2 on
}

// Orchestrator admits units through the governor, builds their private
// contexts, executes the decision collaborator and harvests the results.
type Orchestrator struct {
	cfg     *store.Config
	gov     *governor.Governor
	decider interfaces.Decider
	queue   *persist.Queue // optional; shared, internally synchronized
}

func NewOrchestrator(cfg *store.Config, gov *governor.Governor, decider interfaces.Decider, queue *persist.Queue) *Orchestrator {
	return &Orchestrator{cfg: cfg, gov: gov, decider: decider, queue: queue}
}

// RunUnit executes one unit start to finish. Collaborator failures never
// escape: panics, errors and timeouts all come back as a UnitResult, and
// the private context is torn down the same way on every path.
func (o *Orchestrator) RunUnit(ctx context.Context, unit Unit) types.UnitResult {
	round := unit.Round
	if round == 0 {
		round = 1
	}
	result := types.UnitResult{Round: round}

	if !o.gov.Acquire(o.cfg.UnitTimeout()) {
		result.Error = "governor admission timeout"
		metrics.SimUnits.WithLabelValues("error").Inc()
		return result
	}
	defer o.gov.Release()

	clock := NewClock(unit.Start)
	feed := NewFeed(mergeSeries(unit.History, unit.Replay), clock)
	led := ledger.New(o.cfg.Trading.InitialBalance, ledger.Fees{
		Taker: o.cfg.Trading.TakerFeeRate,
		Maker: o.cfg.Trading.MakerFeeRate,
	}, clock.Now)
	eng := engine.New(engine.Params{
		Mode:        engine.ModeSim,
		Name:        fmt.Sprintf("sim_%s_r%d", unit.ID, round),
		Ledger:      led,
		Prices:      feed,
		Queue:       o.queue,
		MaxLeverage: o.cfg.Trading.MaxLeverage,
		PersistDir:  o.cfg.Persist.Dir,
	})

	input := types.DecisionInput{
		Ts:       unit.Start.UnixMilli(),
		Candles:  unit.History,
		Round:    round,
		Feedback: unit.Feedback,
	}

	trace, timedOut, err := o.decide(ctx, eng, input)
	result.Trace = trace
	result.TimedOut = timedOut
	if timedOut {
		metrics.SimUnits.WithLabelValues("timeout").Inc()
		logger.Warn(ctx, "Simulation unit timed out", "unit", unit.ID, "round", round)
		return result
	}
	if err != nil {
		result.Error = err.Error()
		metrics.SimUnits.WithLabelValues("error").Inc()
		logger.ErrorWithErr(ctx, "Simulation unit failed", err, "unit", unit.ID, "round", round)
		return result
	}

	// Ride the replay bars through the trigger evaluator.
	for _, bar := range flattenBars(unit.Replay) {
		clock.Advance(bar.Time())
		eng.EvaluateBar(ctx, bar)
	}

	// Anything still open at the end of the data closes as a timeout at
	// the final mark price.
	for _, pos := range led.OpenPositions() {
		if _, err := eng.ClosePosition(ctx, types.CloseRequest{
			Symbol: pos.Symbol,
			Reason: types.CloseTimeout,
		}); err != nil {
			logger.ErrorWithErr(ctx, "Failed to close leftover position", err, "symbol", pos.Symbol)
		}
	}

	result.Trades = led.ClosedPositions()
	for _, trade := range result.Trades {
		result.NetPnl += trade.RealizedPnl
	}
	result.NetPnl = ledger.Round6(result.NetPnl)

	switch {
	case len(result.Trades) == 0:
		metrics.SimUnits.WithLabelValues("flat").Inc()
	case result.NetPnl < 0:
		metrics.SimUnits.WithLabelValues("loss").Inc()
	default:
		metrics.SimUnits.WithLabelValues("win").Inc()
	}
	return result
}

// decide invokes the decision collaborator under the per-unit wall-clock
// budget. The call runs in its own goroutine so a stuck collaborator only
// costs this unit its slot; a panic is converted to an error at the unit
// boundary and never reaches sibling units.
func (o *Orchestrator) decide(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, bool, error) {
	dctx, cancel := context.WithTimeout(ctx, o.cfg.UnitTimeout())
	defer cancel()

	type outcome struct {
		trace types.DecisionTrace
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("decider panic: %v", r)}
			}
		}()
		trace, err := o.decider.Decide(dctx, eng, input)
		ch <- outcome{trace: trace, err: err}
	}()

	select {
	case out := <-ch:
		return out.trace, false, out.err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return types.DecisionTrace{}, false, ctx.Err()
		}
		return types.DecisionTrace{}, true, nil
	}
}

// RunMany fans units out across goroutines; the governor, not the group,
// bounds how many actually run at once.
func (o *Orchestrator) RunMany(ctx context.Context, units []Unit) []types.UnitResult {
	results := make([]types.UnitResult, len(units))
	g, gctx := errgroup.WithContext(ctx)
	for i, unit := range units {
		g.Go(func() error {
			results[i] = o.RunUnit(gctx, unit)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func mergeSeries(parts ...map[string][]types.Candle) map[string][]types.Candle {
	merged := make(map[string][]types.Candle)
	for _, part := range parts {
		for symbol, bars := range part {
			merged[symbol] = append(merged[symbol], bars...)
		}
	}
	return merged
}

// flattenBars interleaves all symbols' replay bars in timestamp order so
// multi-symbol units evaluate triggers in wall-clock sequence.
func flattenBars(series map[string][]types.Candle) []types.Candle {
	var bars []types.Candle
	for _, s := range series {
		bars = append(bars, s...)
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Ts != bars[j].Ts {
			return bars[i].Ts < bars[j].Ts
		}
		return bars[i].Symbol < bars[j].Symbol
	})
	return bars
}
