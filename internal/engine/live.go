package engine

import (
	"context"
	"time"

	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/types"
)

func inputErr(code, format string, args ...any) error {
	return ledger.NewInputError(code, format, args...)
}

func runtimeErr(code, format string, args ...any) error {
	return ledger.NewRuntimeError(code, format, args...)
}

// closeSide is the exchange side that flattens a position.
func closeSide(side types.Side) string {
	if side == types.SideLong {
		return "SELL"
	}
	return "BUY"
}

func entrySide(side types.Side) string {
	if side == types.SideLong {
		return "BUY"
	}
	return "SELL"
}

// placeEntryOrder submits the market leg to the exchange. Quantity is
// passed explicitly: an add to an existing position must buy only the
// added amount, not the re-averaged total.
func (e *Engine) placeEntryOrder(ctx context.Context, pos types.Position, quantity float64) {
	if e.exch == nil || quantity <= 0 {
		return
	}
	if _, err := e.exch.PlaceMarket(ctx, pos.Symbol, entrySide(pos.Side), quantity); err != nil {
		logger.ErrorWithErr(ctx, "Failed to place market entry", err, "symbol", pos.Symbol)
	}
}

// placeProtectiveOrders books the TP/SL pair covering the position's
// current quantity and records the ids for later reconciliation. Any
// previously tracked pair must be retired first or it is orphaned.
func (e *Engine) placeProtectiveOrders(ctx context.Context, pos types.Position) {
	if e.exch == nil {
		return
	}
	var tpID, slID string
	if pos.TpPrice > 0 {
		id, err := e.exch.PlaceTakeProfit(ctx, pos.Symbol, closeSide(pos.Side), pos.Quantity, pos.TpPrice)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to place take-profit order", err, "symbol", pos.Symbol, "tp", pos.TpPrice)
		} else {
			tpID = id
		}
	}
	if pos.SlPrice > 0 {
		id, err := e.exch.PlaceStopLoss(ctx, pos.Symbol, closeSide(pos.Side), pos.Quantity, pos.SlPrice)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to place stop-loss order", err, "symbol", pos.Symbol, "sl", pos.SlPrice)
		} else {
			slID = id
		}
	}
	e.tracker.Set(pos.Symbol, tpID, slID)
}

// retireProtectiveOrders cancels whatever TP/SL orders still protect the
// symbol on the exchange. Cancellation failures are logged, not retried
// synchronously; an already-gone order is not an error worth surfacing.
func (e *Engine) retireProtectiveOrders(ctx context.Context, symbol string) {
	if e.exch == nil {
		return
	}
	tracked, ok := e.tracker.Get(symbol)
	if !ok {
		return
	}
	for _, orderID := range []string{tracked.TpOrderID, tracked.SlOrderID} {
		if orderID == "" {
			continue
		}
		if err := e.exch.CancelOrder(ctx, symbol, orderID); err != nil {
			logger.Warn(ctx, "Failed to cancel protective order",
				"symbol", symbol,
				"order_id", orderID,
				"error", err,
			)
		}
	}
	e.tracker.Remove(symbol)
}

func (e *Engine) placeMarketClose(ctx context.Context, pos types.Position) {
	if e.exch == nil {
		return
	}
	if _, err := e.exch.PlaceMarket(ctx, pos.Symbol, closeSide(pos.Side), pos.Quantity); err != nil {
		logger.ErrorWithErr(ctx, "Failed to place market close", err, "symbol", pos.Symbol)
	}
}

// withRetry runs a transient exchange call with bounded attempts and a
// linearly growing backoff.
func withRetry[T any](ctx context.Context, attempts int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var out T
	var err error
	for i := 0; i < attempts; i++ {
		out, err = fn()
		if err == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return out, err
}
