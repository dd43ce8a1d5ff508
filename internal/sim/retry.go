package sim

import (
	"context"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/metrics"
	"llm-perp-bot/internal/persist"
	"llm-perp-bot/internal/types"
)

// RetryController re-runs losing units with critique feedback, up to a
// fixed number of rounds. Each retry is a brand-new unit context; only
// the feedback carries over.
type RetryController struct {
	orch        *Orchestrator
	critic      interfaces.Critic
	maxRounds   int
	queue       *persist.Queue
	sessionPath string
}

func NewRetryController(orch *Orchestrator, critic interfaces.Critic, maxRounds int, queue *persist.Queue, sessionPath string) *RetryController {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &RetryController{
		orch:        orch,
		critic:      critic,
		maxRounds:   maxRounds,
		queue:       queue,
		sessionPath: sessionPath,
	}
}

// RunEpisode runs the unit once and, while it keeps losing, critiques the
// last round and retries with the feedback injected. Every round is kept
// in the session record, win or lose.
func (c *RetryController) RunEpisode(ctx context.Context, unit Unit) types.SessionRecord {
	session := types.SessionRecord{UnitID: unit.ID}

	unit.Round = 1
	unit.Feedback = nil
	result := c.orch.RunUnit(ctx, unit)
	session.Rounds = append(session.Rounds, types.RoundRecord{Round: 1, Result: result})

	for round := 2; round <= c.maxRounds && result.Loss(); round++ {
		if ctx.Err() != nil {
			break
		}
		last := session.Rounds[len(session.Rounds)-1]
		feedback, err := c.critic.Critique(ctx, last)
		if err != nil {
			logger.ErrorWithErr(ctx, "Critique failed, stopping retries", err,
				"unit", unit.ID, "round", round)
			break
		}
		feedback.Round = round
		metrics.RetryRounds.Inc()
		logger.Info(ctx, "Retrying losing unit with feedback",
			"unit", unit.ID, "round", round, "summary", feedback.Summary)

		unit.Round = round
		unit.Feedback = &feedback
		result = c.orch.RunUnit(ctx, unit)
		session.Rounds = append(session.Rounds, types.RoundRecord{
			Round:    round,
			Feedback: &feedback,
			Result:   result,
		})
		if !result.Loss() {
			session.ImprovementAchieved = true
		}
	}
	session.TotalRounds = len(session.Rounds)

	c.persistSession(ctx, session)
	return session
}

func (c *RetryController) persistSession(ctx context.Context, session types.SessionRecord) {
	if c.queue == nil || c.sessionPath == "" {
		return
	}
	task, err := persist.SessionTask(c.sessionPath, session)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to encode session record", err, "unit", session.UnitID)
		return
	}
	c.queue.Enqueue(ctx, task)
}
