package sim

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"llm-perp-bot/internal/governor"
	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/types"
)

// criticFunc adapts a function to the Critic interface for tests.
type criticFunc func(ctx context.Context, round types.RoundRecord) (types.Feedback, error)

func (f criticFunc) Critique(ctx context.Context, round types.RoundRecord) (types.Feedback, error) {
	return f(ctx, round)
}

func staticCritic(summary string) criticFunc {
	return func(ctx context.Context, round types.RoundRecord) (types.Feedback, error) {
		return types.Feedback{Summary: summary}, nil
	}
}

// roundSwitchDecider loses on early rounds (long into a falling market
// with a tight stop) and holds on the final round.
func roundSwitchDecider(winFrom int32, calls *atomic.Int32) deciderFunc {
	return func(ctx context.Context, eng interfaces.Engine, input types.DecisionInput) (types.DecisionTrace, error) {
		calls.Add(1)
		if int32(input.Round) >= winFrom {
			return types.DecisionTrace{Actions: []string{"hold"}}, nil
		}
		_, err := eng.OpenPosition(ctx, types.OpenRequest{
			Symbol: "BTCUSDT", Side: types.SideShort, NotionalUsdt: 1000, Leverage: 3,
			SlPrice: 101,
		})
		if err != nil {
			return types.DecisionTrace{}, err
		}
		return types.DecisionTrace{Actions: []string{"opened short"}}, nil
	}
}

func TestEpisodeRetriesUntilNonLoss(t *testing.T) {
	cfg := simConfig(2)
	var calls atomic.Int32
	// Rounds 1 and 2 short into a rising market and get stopped out;
	// round 3 holds flat, which is not a loss.
	orch := NewOrchestrator(cfg, governor.New(2), roundSwitchDecider(3, &calls), nil)
	controller := NewRetryController(orch, staticCritic("stop shorting the uptrend"), 3, nil, "")

	session := controller.RunEpisode(context.Background(), testUnit("BTCUSDT", 1))

	if session.TotalRounds != 3 {
		t.Fatalf("expected 3 rounds, got %d", session.TotalRounds)
	}
	if !session.ImprovementAchieved {
		t.Error("recovery on a retry must set improvement")
	}
	if calls.Load() != 3 {
		t.Errorf("decider must run once per round, got %d", calls.Load())
	}

	// All rounds retained, in order, with feedback from round 2 on.
	for i, round := range session.Rounds {
		if round.Round != i+1 {
			t.Errorf("round %d recorded as %d", i+1, round.Round)
		}
		if i == 0 && round.Feedback != nil {
			t.Error("round 1 must have no feedback")
		}
		if i > 0 {
			if round.Feedback == nil {
				t.Fatalf("round %d missing feedback", i+1)
			}
			if round.Feedback.Round != i+1 {
				t.Errorf("feedback round stamp wrong: %d", round.Feedback.Round)
			}
		}
	}
	if !session.Rounds[0].Result.Loss() || !session.Rounds[1].Result.Loss() {
		t.Error("rounds 1 and 2 must be losses")
	}
	if session.Rounds[2].Result.Loss() {
		t.Error("round 3 must not be a loss")
	}
}

func TestWinningFirstRoundSkipsRetries(t *testing.T) {
	cfg := simConfig(2)
	var calls atomic.Int32
	orch := NewOrchestrator(cfg, governor.New(2), roundSwitchDecider(1, &calls), nil)
	controller := NewRetryController(orch, staticCritic("unused"), 3, nil, "")

	session := controller.RunEpisode(context.Background(), testUnit("BTCUSDT", 1))

	if session.TotalRounds != 1 {
		t.Fatalf("expected 1 round, got %d", session.TotalRounds)
	}
	if session.ImprovementAchieved {
		t.Error("a clean first round is not an improvement")
	}
	if calls.Load() != 1 {
		t.Errorf("decider must run exactly once, got %d", calls.Load())
	}
}

func TestRetriesExhaustedStillLosing(t *testing.T) {
	cfg := simConfig(2)
	var calls atomic.Int32
	// Never wins.
	orch := NewOrchestrator(cfg, governor.New(2), roundSwitchDecider(99, &calls), nil)
	controller := NewRetryController(orch, staticCritic("hopeless"), 3, nil, "")

	session := controller.RunEpisode(context.Background(), testUnit("BTCUSDT", 1))

	if session.TotalRounds != 3 {
		t.Fatalf("expected all 3 rounds, got %d", session.TotalRounds)
	}
	if session.ImprovementAchieved {
		t.Error("no round recovered, improvement must be false")
	}
	for _, round := range session.Rounds {
		if !round.Result.Loss() {
			t.Errorf("round %d unexpectedly not a loss", round.Round)
		}
	}
}

func TestCriticErrorStopsRetrying(t *testing.T) {
	cfg := simConfig(2)
	var calls atomic.Int32
	orch := NewOrchestrator(cfg, governor.New(2), roundSwitchDecider(99, &calls), nil)
	brokenCritic := criticFunc(func(ctx context.Context, round types.RoundRecord) (types.Feedback, error) {
		return types.Feedback{}, errors.New("critic offline")
	})
	controller := NewRetryController(orch, brokenCritic, 3, nil, "")

	session := controller.RunEpisode(context.Background(), testUnit("BTCUSDT", 1))

	if session.TotalRounds != 1 {
		t.Fatalf("a failing critic must stop the loop after round 1, got %d rounds", session.TotalRounds)
	}
	if calls.Load() != 1 {
		t.Errorf("decider must not re-run without feedback, got %d calls", calls.Load())
	}
}
