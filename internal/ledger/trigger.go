package ledger

import "llm-perp-bot/internal/types"

// BarOutcome reports every transition one bar caused for its symbol.
type BarOutcome struct {
	Closed  []types.Position     // positions closed by this bar
	Filled  []types.PendingOrder // entry orders that filled and spawned/extended a position
	Expired []types.PendingOrder // entry orders that lapsed, margin released
}

// EvaluateBar applies one price bar to the symbol's open position and
// pending entry orders.
//
// For the open position, stop-loss is always evaluated before take-profit
// within the same bar: a bar whose range covers both levels resolves as a
// loss, modeling the worst-case intrabar path. This tie-break is a
// deliberate policy and shapes all downstream PnL statistics; do not
// reorder it. Trigger closes execute at exactly the trigger price.
//
// Orders filled by this bar spawn their position at the trigger price and
// are first trigger-evaluated on the next bar.
func (l *Ledger) EvaluateBar(bar types.Candle) BarOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out BarOutcome

	if pos := l.open[bar.Symbol]; pos != nil {
		switch {
		case slHit(pos, bar):
			l.closeLocked(pos, pos.SlPrice, types.CloseStopLoss, "")
			out.Closed = append(out.Closed, copyPosition(pos))
		case tpHit(pos, bar):
			l.closeLocked(pos, pos.TpPrice, types.CloseTakeProfit, "")
			out.Closed = append(out.Closed, copyPosition(pos))
		default:
			pos.LatestMarkPrice = bar.Close
		}
	}

	for _, snapshot := range l.pendingBySymbolLocked(bar.Symbol) {
		order := l.pending[snapshot.ID]
		if order.ExpiresAt > 0 && bar.Ts >= order.ExpiresAt {
			order.Status = types.OrderExpired
			l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum - order.MarginReserved)
			out.Expired = append(out.Expired, *order)
			continue
		}
		if !fillHit(order, bar) {
			continue
		}
		if existing := l.open[order.Symbol]; existing != nil && existing.Side != order.Side {
			// An opposite-direction position occupies the symbol's single
			// ledger slot; the order stays on the book for later bars.
			continue
		}
		l.fillOrderLocked(order, bar)
		out.Filled = append(out.Filled, *order)
	}

	l.refreshEquityLocked()
	return out
}

func slHit(pos *types.Position, bar types.Candle) bool {
	if pos.SlPrice <= 0 {
		return false
	}
	if pos.Side == types.SideLong {
		return bar.Low <= pos.SlPrice
	}
	return bar.High >= pos.SlPrice
}

func tpHit(pos *types.Position, bar types.Candle) bool {
	if pos.TpPrice <= 0 {
		return false
	}
	if pos.Side == types.SideLong {
		return bar.High >= pos.TpPrice
	}
	return bar.Low <= pos.TpPrice
}

// fillHit decides whether the bar's range reaches the order's trigger.
// Limit orders are makers: a long fills when price recedes down to the
// trigger, a short when it rises to it. Conditional orders are takers and
// fill on the breakout through the trigger.
func fillHit(order *types.PendingOrder, bar types.Candle) bool {
	if order.Kind == types.OrderLimit {
		if order.Side == types.SideLong {
			return bar.Low <= order.TriggerPrice
		}
		return bar.High >= order.TriggerPrice
	}
	if order.Side == types.SideLong {
		return bar.High >= order.TriggerPrice
	}
	return bar.Low <= order.TriggerPrice
}

// fillOrderLocked converts a pending order into (or onto) a position at
// the trigger price. The reservation moves from the order to the position;
// limit fills pay the maker rate, conditional fills the taker rate.
func (l *Ledger) fillOrderLocked(order *types.PendingOrder, bar types.Candle) {
	order.Status = types.OrderFilled
	l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum - order.MarginReserved)

	feeRate := l.fees.Taker
	if order.Kind == types.OrderLimit {
		feeRate = l.fees.Maker
	}
	notional := order.Quantity * order.TriggerPrice

	if existing := l.open[order.Symbol]; existing != nil {
		l.addToPositionLocked(existing, notional, order.TriggerPrice, feeRate)
		return
	}
	l.openLocked(order.Symbol, order.Side, notional, order.Leverage,
		order.TpPrice, order.SlPrice, order.TriggerPrice, feeRate)
}
