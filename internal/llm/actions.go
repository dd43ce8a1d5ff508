package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/types"
)

// action is one instruction from the model's JSON response.
type action struct {
	Op           string  `json:"op"` // open, close, update_tp_sl, limit_order, cancel_order, hold
	Symbol       string  `json:"symbol,omitempty"`
	Side         string  `json:"side,omitempty"`
	NotionalUsdt float64 `json:"notional_usdt,omitempty"`
	MarginUsdt   float64 `json:"margin_usdt,omitempty"`
	Leverage     int     `json:"leverage,omitempty"`
	TpPrice      float64 `json:"tp_price,omitempty"`
	SlPrice      float64 `json:"sl_price,omitempty"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
	Kind         string  `json:"kind,omitempty"` // limit or conditional
	OrderID      string  `json:"order_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// decision is the JSON document the model is asked to produce.
type decision struct {
	Actions []action `json:"actions"`
	Summary string   `json:"summary"`
}

// applyActions executes the model's instructions one by one. A failed
// action is recorded in the trace and does not stop the rest; the model
// gets the outcome back through the next prompt's account state.
func applyActions(ctx context.Context, eng interfaces.Engine, dec decision) types.DecisionTrace {
	trace := types.DecisionTrace{Summary: dec.Summary}
	for _, act := range dec.Actions {
		outcome := applyAction(ctx, eng, act)
		trace.Actions = append(trace.Actions, outcome)
	}
	return trace
}

func applyAction(ctx context.Context, eng interfaces.Engine, act action) string {
	switch strings.ToLower(act.Op) {
	case "hold", "":
		return "hold"

	case "open":
		view, err := eng.OpenPosition(ctx, types.OpenRequest{
			Symbol:       act.Symbol,
			Side:         types.Side(strings.ToLower(act.Side)),
			NotionalUsdt: act.NotionalUsdt,
			Leverage:     act.Leverage,
			TpPrice:      act.TpPrice,
			SlPrice:      act.SlPrice,
		})
		if err != nil {
			return fmt.Sprintf("open %s failed: %v", act.Symbol, err)
		}
		return fmt.Sprintf("opened %s %s notional=%.2f lev=%d entry=%.6f",
			view.Side, view.Symbol, act.NotionalUsdt, act.Leverage, view.EntryPrice)

	case "close":
		view, err := eng.ClosePosition(ctx, types.CloseRequest{
			Symbol: act.Symbol,
			Reason: types.CloseManual,
		})
		if err != nil {
			return fmt.Sprintf("close %s failed: %v", act.Symbol, err)
		}
		return fmt.Sprintf("closed %s pnl=%.6f", view.Symbol, view.RealizedPnl)

	case "update_tp_sl":
		_, err := eng.UpdateTpSl(ctx, act.Symbol, act.TpPrice, act.SlPrice)
		if err != nil {
			return fmt.Sprintf("update_tp_sl %s failed: %v", act.Symbol, err)
		}
		return fmt.Sprintf("updated %s tp=%.6f sl=%.6f", act.Symbol, act.TpPrice, act.SlPrice)

	case "limit_order":
		view, err := eng.CreateLimitOrder(ctx, types.LimitOrderRequest{
			Symbol:     act.Symbol,
			Side:       types.Side(strings.ToLower(act.Side)),
			Kind:       types.OrderKind(strings.ToLower(act.Kind)),
			LimitPrice: act.LimitPrice,
			MarginUsdt: act.MarginUsdt,
			Leverage:   act.Leverage,
			TpPrice:    act.TpPrice,
			SlPrice:    act.SlPrice,
		})
		if err != nil {
			return fmt.Sprintf("limit_order %s failed: %v", act.Symbol, err)
		}
		return fmt.Sprintf("booked %s %s order %s @ %.6f", view.Side, view.Symbol, view.ID, act.LimitPrice)

	case "cancel_order":
		if eng.CancelPendingOrder(ctx, act.OrderID) {
			return fmt.Sprintf("cancelled order %s", act.OrderID)
		}
		return fmt.Sprintf("cancel order %s: not pending", act.OrderID)

	default:
		return fmt.Sprintf("unknown op %q", act.Op)
	}
}

// parseDecision locates a JSON object in the model's text and unmarshals
// it. Models wrap JSON in markdown fences often enough that a bare
// Unmarshal is not good enough.
func parseDecision(text string) (decision, error) {
	var dec decision
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return dec, fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &dec); err != nil {
		return dec, fmt.Errorf("model response JSON: %w", err)
	}
	return dec, nil
}
