package main

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"llm-perp-bot/internal/governor"
	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/llm"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/persist"
	"llm-perp-bot/internal/report"
	"llm-perp-bot/internal/sim"
	"llm-perp-bot/internal/store"
	"llm-perp-bot/internal/types"
)

// runSim replays the configured data directory as independent simulation
// units, retrying losing units with critique feedback.
func runSim(ctx context.Context, cfg *store.Config) error {
	series, err := sim.LoadDataDir(cfg.Sim.DataDir, cfg.Symbols)
	if err != nil {
		return fmt.Errorf("load simulation data: %w", err)
	}
	units := sim.BuildUnits(series, cfg.Sim.HistoryBars, cfg.Sim.WindowBars)
	if len(units) == 0 {
		return fmt.Errorf("not enough bars in %s for history=%d window=%d",
			cfg.Sim.DataDir, cfg.Sim.HistoryBars, cfg.Sim.WindowBars)
	}
	logger.Info(ctx, "Simulation prepared",
		"units", len(units), "symbols", cfg.Symbols, "concurrency", cfg.Sim.Concurrency)

	queue := newQueue(cfg)
	gov := governor.New(cfg.Sim.Concurrency)
	orch := sim.NewOrchestrator(cfg, gov, initializeDecider(ctx, cfg), queue)
	controller := sim.NewRetryController(
		orch,
		llm.NewRuleCritic(),
		cfg.Sim.RetryRounds,
		queue,
		persist.SessionPath(cfg.Persist.Dir, "sim"),
	)

	sessions := make([]types.SessionRecord, len(units))
	g, gctx := errgroup.WithContext(ctx)
	for i, unit := range units {
		g.Go(func() error {
			sessions[i] = controller.RunEpisode(gctx, unit)
			return nil
		})
	}
	_ = g.Wait()

	reportSessions(ctx, sessions)
	drainErr := drainQueue(ctx, cfg, queue)
	writeTradeSummary(ctx, cfg)
	return drainErr
}

// writeTradeSummary runs after the drain so the CSV sees every append.
func writeTradeSummary(ctx context.Context, cfg *store.Config) {
	outPath := filepath.Join(cfg.Persist.Dir, "trade_summary.csv")
	path, err := report.SummarizeDir(cfg.Persist.Dir, outPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to write trade summary", err)
		return
	}
	if path != "" {
		logger.Info(ctx, "Trade summary written", "path", path)
	}
}

func reportSessions(ctx context.Context, sessions []types.SessionRecord) {
	var totalPnl float64
	var wins, losses, improved int
	for _, s := range sessions {
		if len(s.Rounds) == 0 {
			continue
		}
		final := s.Rounds[len(s.Rounds)-1].Result
		totalPnl += final.NetPnl
		if final.Loss() {
			losses++
		} else {
			wins++
		}
		if s.ImprovementAchieved {
			improved++
		}
	}
	logger.Info(ctx, "Simulation finished",
		"episodes", len(sessions),
		"wins", wins,
		"losses", losses,
		"improved_by_retry", improved,
		"total_pnl", ledger.Round6(totalPnl),
	)
}
