// Package llmobs wraps a Decider with logging and tracing middleware.
package llmobs

import (
	"context"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/trace"
	"llm-perp-bot/internal/types"
)

type observableDecider struct {
	decider interfaces.Decider
}

var _ interfaces.Decider = (*observableDecider)(nil)

// Wrap adds observability middleware around a decider.
func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{decider: decider}
}

func (od *observableDecider) Decide(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Decide")
	defer span.End()

	// Skip(1) so the log lines carry the actual caller, not this wrapper.
	logger.DebugSkip(ctx, 1, "Requesting trading decision",
		"round", input.Round,
		"symbols", len(input.Candles),
	)

	decision, err := od.decider.Decide(ctx, eng, input)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get trading decision", err,
			"round", input.Round,
		)
		return types.DecisionTrace{}, err
	}

	logger.InfoSkip(ctx, 1, "Trading decision received",
		"round", input.Round,
		"actions", len(decision.Actions),
		"summary", decision.Summary,
	)
	return decision, nil
}
