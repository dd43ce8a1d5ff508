package llm

import (
	"context"
	"fmt"
	"sort"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/types"
)

// RuleCritic builds retry feedback from the trade record alone, without a
// model call. It names the losing trades and derives concrete adjustments
// from how each one ended.
type RuleCritic struct{}

func NewRuleCritic() *RuleCritic {
	return &RuleCritic{}
}

var _ interfaces.Critic = (*RuleCritic)(nil)

func (c *RuleCritic) Critique(ctx context.Context, round types.RoundRecord) (types.Feedback, error) {
	fb := types.Feedback{Round: round.Round}
	result := round.Result

	if result.TimedOut {
		fb.Summary = "the previous round timed out before any decision was made"
		fb.Adjustments = []string{"decide faster: fewer actions, simpler reasoning"}
		return fb, nil
	}
	if result.Error != "" {
		fb.Summary = fmt.Sprintf("the previous round failed: %s", result.Error)
		fb.Adjustments = []string{"emit strictly valid JSON actions"}
		return fb, nil
	}

	var mistakes, adjustments []string
	reasonCounts := map[types.CloseReason]int{}
	for _, trade := range result.Trades {
		reasonCounts[trade.CloseReason]++
		if trade.RealizedPnl >= 0 {
			continue
		}
		mistakes = append(mistakes, fmt.Sprintf(
			"%s %s entered at %.6f closed %s at %.6f for %.6f",
			trade.Side, trade.Symbol, trade.EntryPrice,
			trade.CloseReason, trade.ClosePrice, trade.RealizedPnl))
	}

	if reasonCounts[types.CloseStopLoss] > 0 {
		adjustments = append(adjustments,
			"entries moved straight into the stop: wait for confirmation or widen the stop distance")
	}
	if reasonCounts[types.CloseTimeout] > 0 {
		adjustments = append(adjustments,
			"positions were still open when the data ran out: take profit earlier or skip late entries")
	}
	if len(result.Trades) > 3 {
		adjustments = append(adjustments, "fewer, higher-conviction trades")
	}
	if len(adjustments) == 0 {
		adjustments = append(adjustments, "reduce position size until the read on direction improves")
	}
	sort.Strings(mistakes)

	fb.Summary = fmt.Sprintf("round %d lost %.6f USDT over %d trades",
		round.Round, result.NetPnl, len(result.Trades))
	fb.Mistakes = mistakes
	fb.Adjustments = adjustments
	return fb, nil
}
