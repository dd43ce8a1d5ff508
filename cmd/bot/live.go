package main

import (
	"context"
	"fmt"
	"os"

	"llm-perp-bot/internal/engine"
	"llm-perp-bot/internal/engine/engineobs"
	"llm-perp-bot/internal/exchange"
	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/marketdata"
	"llm-perp-bot/internal/persist"
	"llm-perp-bot/internal/store"
	"llm-perp-bot/internal/types"
)

const liveLedgerName = "live"

// runLive trades the configured symbols against the real exchange: bars
// stream in, triggers are evaluated locally, the decider is consulted once
// per closed bar of the lead symbol, and the reconciler watches for
// positions the exchange closed on its own.
func runLive(ctx context.Context, cfg *store.Config) error {
	apiKey := os.Getenv(cfg.Exchange.KeyEnv)
	apiSecret := os.Getenv(cfg.Exchange.SecretEnv)
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("exchange credentials missing: set %s and %s", cfg.Exchange.KeyEnv, cfg.Exchange.SecretEnv)
	}

	client := exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.WsURL, apiKey, apiSecret)
	stream := marketdata.NewStream(cfg.Exchange.BaseURL, cfg.Exchange.WsURL, cfg.Exchange.BarInterval)
	queue := newQueue(cfg)

	led, err := restoreOrCreateLedger(ctx, cfg, client)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Params{
		Mode:        engine.ModeLive,
		Name:        liveLedgerName,
		Ledger:      led,
		Prices:      stream,
		Exchange:    client,
		Queue:       queue,
		MaxLeverage: cfg.Trading.MaxLeverage,
		PersistDir:  cfg.Persist.Dir,
	})
	decider := initializeDecider(ctx, cfg)
	observedEngine := engineobs.Wrap(eng)

	go client.StreamAccountEvents(ctx)
	go engine.NewReconciler(eng).Run(ctx)

	if err := stream.Subscribe(ctx, cfg.Symbols); err != nil {
		return err
	}
	defer stream.Stop(context.Background())

	logger.Info(ctx, "Live trading started",
		"symbols", cfg.Symbols, "interval", cfg.Exchange.BarInterval)

	windows := newBarWindows(cfg.Sim.HistoryBars)
	gate := newDecisionGate()
	leadSymbol := cfg.Symbols[0]
	for {
		select {
		case <-ctx.Done():
			drainErr := drainQueue(ctx, cfg, queue)
			writeTradeSummary(ctx, cfg)
			return drainErr
		case bar, ok := <-stream.Bars():
			if !ok {
				_ = drainQueue(ctx, cfg, queue)
				return fmt.Errorf("market data stream closed")
			}
			windows.push(bar)
			eng.EvaluateBar(ctx, bar)
			if bar.Symbol == leadSymbol {
				// Snapshot on the loop, decide off it: a slow model reply
				// must never stall trigger evaluation. The engine holds no
				// lock across the call.
				candles := windows.snapshot()
				ts := bar.Ts
				if !gate.tryRun(func() {
					decideOnce(ctx, cfg, decider, observedEngine, candles, ts)
				}) {
					logger.Warn(ctx, "Previous decision still running, skipping bar",
						"symbol", bar.Symbol, "ts", ts)
				}
			}
		}
	}
}

// decisionGate admits one in-flight decision at a time without blocking
// the caller: a bar arriving mid-decision is skipped, not queued.
type decisionGate struct {
	busy chan struct{}
}

func newDecisionGate() *decisionGate {
	return &decisionGate{busy: make(chan struct{}, 1)}
}

// tryRun starts fn on its own goroutine if no run is in flight. Returns
// false when one is, and fn is not executed.
func (g *decisionGate) tryRun(fn func()) bool {
	select {
	case g.busy <- struct{}{}:
	default:
		return false
	}
	go func() {
		defer func() { <-g.busy }()
		fn()
	}()
	return true
}

// restoreOrCreateLedger reloads the persisted snapshot if one exists so a
// restart does not forget open positions; otherwise it starts a fresh
// ledger seeded from the exchange balance.
func restoreOrCreateLedger(ctx context.Context, cfg *store.Config, client *exchange.Client) (*ledger.Ledger, error) {
	fees := ledger.Fees{Taker: cfg.Trading.TakerFeeRate, Maker: cfg.Trading.MakerFeeRate}

	statePath := persist.StatePath(cfg.Persist.Dir, liveLedgerName)
	state, ok, err := persist.LoadState(statePath)
	if err != nil {
		return nil, fmt.Errorf("load persisted state: %w", err)
	}
	if ok {
		logger.Info(ctx, "Restored ledger from snapshot",
			"path", statePath, "positions", len(state.Positions))
		return ledger.Restore(state, fees, nil), nil
	}

	balance, err := client.GetAccountBalance(ctx)
	if err != nil {
		logger.Warn(ctx, "Exchange balance unavailable, using configured initial balance",
			"error", err.Error())
		balance = cfg.Trading.InitialBalance
	}
	logger.Info(ctx, "Starting fresh ledger", "balance", balance)
	return ledger.New(balance, fees, nil), nil
}

func decideOnce(ctx context.Context, cfg *store.Config, decider interfaces.Decider, eng interfaces.Engine, candles map[string][]types.Candle, ts int64) {
	dctx, cancel := context.WithTimeout(ctx, cfg.UnitTimeout())
	defer cancel()
	_, err := decider.Decide(dctx, eng, types.DecisionInput{
		Ts:      ts,
		Candles: candles,
		Round:   1,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Live decision failed", err)
	}
}

// barWindows keeps a bounded rolling window of closed bars per symbol for
// the decider's context.
type barWindows struct {
	limit int
	bars  map[string][]types.Candle
}

func newBarWindows(limit int) *barWindows {
	if limit < 1 {
		limit = 1
	}
	return &barWindows{limit: limit, bars: make(map[string][]types.Candle)}
}

func (w *barWindows) push(bar types.Candle) {
	window := append(w.bars[bar.Symbol], bar)
	if len(window) > w.limit {
		window = window[len(window)-w.limit:]
	}
	w.bars[bar.Symbol] = window
}

func (w *barWindows) snapshot() map[string][]types.Candle {
	out := make(map[string][]types.Candle, len(w.bars))
	for symbol, bars := range w.bars {
		out[symbol] = append([]types.Candle(nil), bars...)
	}
	return out
}
