package interfaces

import (
	"context"

	"llm-perp-bot/internal/types"
)

// Decider is the external decision collaborator. It is handed the engine
// instance it must act against; in simulation that engine is private to
// the calling unit, so concurrent deciders never observe each other.
type Decider interface {
	Decide(ctx context.Context, eng Engine, input types.DecisionInput) (types.DecisionTrace, error)
}

// Critic is the external analysis collaborator of the retry loop: it reads
// a losing round and produces the critique injected into the next one.
type Critic interface {
	Critique(ctx context.Context, round types.RoundRecord) (types.Feedback, error)
}
