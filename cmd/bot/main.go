package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/trace"
)

func main() {
	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize system: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}

	startMetrics(ctx, cfg)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		logger.Info(ctx, "Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	var runErr error
	switch cfg.Mode {
	case "LIVE":
		runErr = runLive(ctx, cfg)
	default:
		runErr = runSim(ctx, cfg)
	}

	_ = trace.Shutdown(context.Background())
	if runErr != nil {
		logger.ErrorWithErr(ctx, "Bot exited with error", runErr)
		os.Exit(1)
	}
	logger.Info(ctx, "Bot stopped")
}
