package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/llm"
	"llm-perp-bot/internal/llm/llmobs"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/persist"
	"llm-perp-bot/internal/store"
	"llm-perp-bot/internal/trace"
)

// initializeSystem loads the environment and brings up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	logger.Info(ctx, "Config loaded", "path", path, "mode", cfg.Mode, "symbols", cfg.Symbols)
	return cfg, nil
}

// startMetrics exposes the prometheus registry. Best effort: a bot that
// trades but does not report beats a bot that refuses to start.
func startMetrics(ctx context.Context, cfg *store.Config) {
	if cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.ErrorWithErr(ctx, "Metrics server stopped", err, "addr", cfg.MetricsAddr)
		}
	}()
	logger.Info(ctx, "Metrics server started", "addr", cfg.MetricsAddr)
}

// initializeDecider picks the decision collaborator and wraps it with
// observability middleware.
func initializeDecider(ctx context.Context, cfg *store.Config) interfaces.Decider {
	var decider interfaces.Decider
	switch cfg.LLM.Provider {
	case "OPENAI":
		decider = llm.NewOpenAIDecider(cfg)
	default:
		decider = llm.NewNoopDecider()
		logger.Warn(ctx, "No LLM provider configured, using noop decider (never trades)")
	}
	return llmobs.Wrap(decider)
}

// newQueue builds the shared persistence queue from config.
func newQueue(cfg *store.Config) *persist.Queue {
	return persist.NewQueue(cfg.Persist.QueueSize, cfg.EnqueueTimeout())
}

// drainQueue flushes pending writes on shutdown. An unclean drain means
// persisted state may lag the in-memory ledger, which the operator needs
// to know before restarting.
func drainQueue(ctx context.Context, cfg *store.Config, queue *persist.Queue) error {
	if queue.Close(cfg.DrainTimeout()) {
		logger.Info(ctx, "Persistence queue drained")
		return nil
	}
	return fmt.Errorf("persistence queue drain timed out after %s", cfg.DrainTimeout())
}
