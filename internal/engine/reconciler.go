package engine

import (
	"context"
	"strings"
	"time"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/types"
)

const (
	reconcileAttempts = 3
	reconcileBackoff  = 500 * time.Millisecond
)

// Reconciler detects positions that closed on the exchange side without a
// local close call, attributes the close to the protective order that
// filled, and retires the sibling so it cannot later execute against a
// position that no longer exists.
type Reconciler struct {
	eng *Engine
}

func NewReconciler(eng *Engine) *Reconciler {
	return &Reconciler{eng: eng}
}

// Run consumes the exchange account stream until the context ends. It
// only reacts when the exchange reports no position for a symbol the
// ledger still believes is open.
func (r *Reconciler) Run(ctx context.Context) {
	events := r.eng.exch.AccountEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.PositionAmt != 0 {
				continue
			}
			if _, open := r.eng.led.OpenPositionBySymbol(ev.Symbol); !open {
				continue
			}
			r.Reconcile(ctx, ev.Symbol)
		}
	}
}

// Reconcile resolves one detected remote close. A detected closure is
// always recorded, even when the exchange cannot tell us which protective
// order filled; the ledger must never silently diverge from reality.
func (r *Reconciler) Reconcile(ctx context.Context, symbol string) {
	tracked, _ := r.eng.tracker.Get(symbol)

	reason := types.CloseUnknown
	var closePrice float64
	var filledID string

	type side struct {
		orderID string
		reason  types.CloseReason
	}
	for _, s := range []side{
		{tracked.TpOrderID, types.CloseTakeProfit},
		{tracked.SlOrderID, types.CloseStopLoss},
	} {
		if s.orderID == "" || filledID != "" {
			continue
		}
		order, err := withRetry(ctx, reconcileAttempts, reconcileBackoff, func() (interfaces.ExchangeOrder, error) {
			return r.eng.exch.GetOrder(ctx, symbol, s.orderID)
		})
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to query tracked order", err,
				"symbol", symbol,
				"order_id", s.orderID,
			)
			continue
		}
		if strings.EqualFold(order.Status, "FILLED") {
			reason = s.reason
			closePrice = order.AvgFillPrice
			filledID = s.orderID
		}
	}

	// Every tracked order that did not fill is now an orphan that could
	// execute against a position that no longer exists: the sibling of a
	// filled order, or both orders when the close came from elsewhere.
	// Cancel them before recording; failures are logged, never block the
	// history write.
	var orphanIDs []string
	for _, orderID := range []string{tracked.TpOrderID, tracked.SlOrderID} {
		if orderID != "" && orderID != filledID {
			orphanIDs = append(orphanIDs, orderID)
		}
	}
	for _, orderID := range orphanIDs {
		if err := r.eng.exch.CancelOrder(ctx, symbol, orderID); err != nil {
			logger.Warn(ctx, "Failed to cancel orphaned order",
				"symbol", symbol,
				"order_id", orderID,
				"error", err,
			)
		}
	}
	r.eng.tracker.Remove(symbol)

	// closePrice of 0 falls back to the last mark price inside the ledger.
	// For reason=unknown that mark-price attribution is a known audit
	// approximation: the true fill price was never observed.
	pos, err := r.eng.led.CloseRemote(symbol, reason, closePrice, filledID)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to record reconciled close", err, "symbol", symbol)
		return
	}

	logger.Reconcile(ctx, symbol, string(reason),
		"close_price", pos.ClosePrice,
		"realized_pnl", pos.RealizedPnl,
		"close_order_id", filledID,
	)
	r.eng.recordClose(ctx, pos)
}
