package llm

import (
	"context"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/types"
)

// NoopDecider is the fallback used when no model is configured: it never
// trades.
type NoopDecider struct{}

func NewNoopDecider() *NoopDecider {
	return &NoopDecider{}
}

var _ interfaces.Decider = (*NoopDecider)(nil)

func (d *NoopDecider) Decide(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
	return types.DecisionTrace{
		Actions: []string{"hold"},
		Summary: "noop_decider_fallback",
	}, nil
}
