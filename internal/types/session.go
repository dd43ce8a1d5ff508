package types

// DecisionInput is everything the decision collaborator sees for one
// simulated time-step: recent bars per symbol, the retry round number
// and, from round 2 on, the critique of the previous round.
type DecisionInput struct {
	Ts       int64               `json:"ts"`
	Candles  map[string][]Candle `json:"candles"`
	Round    int                 `json:"round"`
	Feedback *Feedback           `json:"feedback,omitempty"`
}

// DecisionTrace is what a decider reports back about one invocation.
// Actions mirrors the engine calls it issued, in order.
type DecisionTrace struct {
	Actions []string `json:"actions,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

// Feedback is the structured critique injected into a retried round.
// Its content comes from the external analysis collaborator.
type Feedback struct {
	Round       int      `json:"round"`
	Summary     string   `json:"summary"`
	Mistakes    []string `json:"mistakes,omitempty"`
	Adjustments []string `json:"adjustments,omitempty"`
}

// UnitResult is the harvest of one simulation unit: every position that
// closed inside the unit's private ledger, plus the timeout/error markers
// that distinguish collaborator failures from a quiet no-trade step.
type UnitResult struct {
	Round    int           `json:"round"`
	Trades   []Position    `json:"trades,omitempty"`
	NetPnl   float64       `json:"net_pnl"`
	TimedOut bool          `json:"timed_out"`
	Error    string        `json:"error,omitempty"`
	Trace    DecisionTrace `json:"trace,omitempty"`
}

// Loss reports whether the round ended in the red. Timed-out and errored
// rounds count as losses so the retry loop gets a chance to recover them.
func (r UnitResult) Loss() bool {
	return r.TimedOut || r.Error != "" || r.NetPnl < 0
}

// RoundRecord retains one executed round of an episode, together with the
// feedback that was injected into it (nil for round 1).
type RoundRecord struct {
	Round    int        `json:"round"`
	Feedback *Feedback  `json:"feedback,omitempty"`
	Result   UnitResult `json:"result"`
}

// SessionRecord is the full audit trail of one episode through the
// retry-with-feedback loop. Rounds are never overwritten.
type SessionRecord struct {
	UnitID              string        `json:"unit_id"`
	Rounds              []RoundRecord `json:"rounds"`
	TotalRounds         int           `json:"total_rounds"`
	ImprovementAchieved bool          `json:"improvement_achieved"`
}
