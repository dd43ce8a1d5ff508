// Package engine implements the trading interface the decision
// collaborator acts against. One Engine wraps one ledger instance; the
// simulated and live flavors differ only in whether exchange orders are
// placed and reconciled alongside the ledger mutations.
package engine

import (
	"context"
	"strings"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/metrics"
	"llm-perp-bot/internal/persist"
	"llm-perp-bot/internal/types"
)

const (
	ModeSim  = "SIM"
	ModeLive = "LIVE"
)

// Params wires an engine instance. Queue may be nil for throwaway
// simulation ledgers that do not persist; Exchange is nil in SIM mode.
type Params struct {
	Mode        string
	Name        string // ledger instance name, keys the persisted files
	Ledger      *ledger.Ledger
	Prices      interfaces.PriceSource
	Exchange    interfaces.Exchange
	Queue       *persist.Queue
	MaxLeverage int
	PersistDir  string
}

type Engine struct {
	mode        string
	led         *ledger.Ledger
	prices      interfaces.PriceSource
	exch        interfaces.Exchange
	queue       *persist.Queue
	tracker     *tracker
	maxLeverage int
	statePath   string
	historyPath string
}

var _ interfaces.Engine = (*Engine)(nil)

func New(p Params) *Engine {
	name := p.Name
	if name == "" {
		name = "ledger"
	}
	return &Engine{
		mode:        p.Mode,
		led:         p.Ledger,
		prices:      p.Prices,
		exch:        p.Exchange,
		queue:       p.Queue,
		tracker:     newTracker(),
		maxLeverage: p.MaxLeverage,
		statePath:   persist.StatePath(p.PersistDir, name),
		historyPath: persist.HistoryPath(p.PersistDir, name),
	}
}

// Ledger exposes the underlying ledger to the owning composition root
// (orchestrator harvest, reconciler); the decision collaborator only ever
// sees the interfaces.Engine surface.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

func (e *Engine) AccountSummary(ctx context.Context) (types.AccountSummary, error) {
	acct := e.led.Account()
	return types.AccountSummary{
		Balance:           acct.Balance,
		Equity:            acct.Equity,
		RealizedPnl:       acct.RealizedPnl,
		UnrealizedPnl:     ledger.Round6(e.led.UnrealizedTotal()),
		ReservedMarginSum: acct.ReservedMarginSum,
		PositionsCount:    acct.OpenPositions,
	}, nil
}

func (e *Engine) PositionsSummary(ctx context.Context) ([]types.PositionView, error) {
	positions := e.led.OpenPositions()
	views := make([]types.PositionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, ledger.ViewOf(pos))
	}
	return views, nil
}

func (e *Engine) OpenPosition(ctx context.Context, req types.OpenRequest) (types.PositionView, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return types.PositionView{}, inputErr("InvalidSymbol", "symbol is required")
	}
	if e.maxLeverage > 0 && req.Leverage > e.maxLeverage {
		return types.PositionView{}, inputErr("LeverageTooHigh",
			"leverage %d exceeds the %dx cap", req.Leverage, e.maxLeverage)
	}
	if req.Leverage < 1 {
		return types.PositionView{}, inputErr("InvalidLeverage", "leverage must be >= 1, got %d", req.Leverage)
	}

	// Margin admission is the engine's policy, not the ledger's. An add
	// to an existing position books margin at that position's leverage,
	// so the check must estimate with the same divisor.
	prev, adding := e.led.OpenPositionBySymbol(req.Symbol)
	margin := req.NotionalUsdt / float64(req.Leverage)
	if adding && prev.Side == req.Side {
		margin = req.NotionalUsdt / float64(prev.Leverage)
	}
	acct := e.led.Account()
	if acct.ReservedMarginSum+margin > acct.Balance {
		return types.PositionView{}, inputErr("InsufficientMargin",
			"margin %.2f would push reservations past balance %.2f", margin, acct.Balance)
	}

	price, err := e.prices.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return types.PositionView{}, runtimeErr("PriceUnavailable", "current price for %s: %v", req.Symbol, err)
	}

	pos, err := e.led.OpenPosition(req, price)
	if err != nil {
		return types.PositionView{}, err
	}

	if e.mode == ModeLive {
		addedQty := pos.Quantity
		if adding {
			// The exchange already holds the previous quantity; its old
			// protective pair no longer matches the new size and must go
			// before the replacement is booked.
			addedQty = pos.Quantity - prev.Quantity
			e.retireProtectiveOrders(ctx, pos.Symbol)
		}
		e.placeEntryOrder(ctx, pos, addedQty)
		e.placeProtectiveOrders(ctx, pos)
	}

	metrics.PositionsOpened.WithLabelValues(e.mode, string(pos.Side)).Inc()
	logger.Position(ctx, "open", pos.Symbol, string(pos.Side),
		"entry", pos.EntryPrice,
		"notional", pos.Notional,
		"leverage", pos.Leverage,
		"tp", pos.TpPrice,
		"sl", pos.SlPrice,
	)
	e.persistState(ctx)
	return ledger.ViewOf(pos), nil
}

func (e *Engine) ClosePosition(ctx context.Context, req types.CloseRequest) (types.PositionView, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" && req.PositionID == "" {
		return types.PositionView{}, inputErr("InvalidTarget", "symbol or position id is required")
	}

	if req.Price <= 0 && req.Symbol != "" {
		// Best effort refresh so a manual close books at market, not at a
		// stale mark.
		if price, err := e.prices.CurrentPrice(ctx, req.Symbol); err == nil {
			req.Price = price
		}
	}

	pos, err := e.led.ClosePosition(req)
	if err != nil {
		return types.PositionView{}, err
	}

	if e.mode == ModeLive {
		e.retireProtectiveOrders(ctx, pos.Symbol)
		e.placeMarketClose(ctx, pos)
	}

	e.recordClose(ctx, pos)
	return ledger.ViewOf(pos), nil
}

func (e *Engine) UpdateTpSl(ctx context.Context, symbol string, tp, sl float64) (types.PositionView, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	pos, err := e.led.UpdateTpSl(symbol, tp, sl)
	if err != nil {
		return types.PositionView{}, err
	}

	if e.mode == ModeLive {
		// Replace only the protective pair; the entry leg already sits on
		// the exchange and must not be repeated.
		e.retireProtectiveOrders(ctx, symbol)
		e.placeProtectiveOrders(ctx, pos)
	}

	logger.Position(ctx, "update_tp_sl", pos.Symbol, string(pos.Side), "tp", tp, "sl", sl)
	e.persistState(ctx)
	return ledger.ViewOf(pos), nil
}

func (e *Engine) CreateLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.OrderView, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return types.OrderView{}, inputErr("InvalidSymbol", "symbol is required")
	}
	if e.maxLeverage > 0 && req.Leverage > e.maxLeverage {
		return types.OrderView{}, inputErr("LeverageTooHigh",
			"leverage %d exceeds the %dx cap", req.Leverage, e.maxLeverage)
	}

	acct := e.led.Account()
	if acct.ReservedMarginSum+req.MarginUsdt > acct.Balance {
		return types.OrderView{}, inputErr("InsufficientMargin",
			"margin %.2f would push reservations past balance %.2f", req.MarginUsdt, acct.Balance)
	}

	order, err := e.led.CreateLimitOrder(req)
	if err != nil {
		return types.OrderView{}, err
	}

	logger.Position(ctx, "limit_order", order.Symbol, string(order.Side),
		"kind", order.Kind,
		"trigger", order.TriggerPrice,
		"margin", order.MarginReserved,
	)
	e.persistState(ctx)
	return ledger.OrderViewOf(order), nil
}

func (e *Engine) CancelPendingOrder(ctx context.Context, orderID string) bool {
	ok := e.led.CancelPendingOrder(orderID)
	if ok {
		logger.Position(ctx, "cancel_order", orderID, "", "order_id", orderID)
		e.persistState(ctx)
	}
	return ok
}

// EvaluateBar runs one price bar through the ledger's trigger evaluator
// and records everything it caused. Evaluation for a symbol is serialized
// by the ledger's own mutex; independent symbols interleave freely.
func (e *Engine) EvaluateBar(ctx context.Context, bar types.Candle) ledger.BarOutcome {
	out := e.led.EvaluateBar(bar)

	for _, pos := range out.Closed {
		if e.mode == ModeLive {
			e.retireProtectiveOrders(ctx, pos.Symbol)
		}
		e.recordClose(ctx, pos)
	}
	for _, order := range out.Filled {
		logger.Position(ctx, "order_filled", order.Symbol, string(order.Side),
			"order_id", order.ID,
			"trigger", order.TriggerPrice,
		)
	}
	for _, order := range out.Expired {
		logger.Position(ctx, "order_expired", order.Symbol, string(order.Side), "order_id", order.ID)
	}

	if len(out.Closed)+len(out.Filled)+len(out.Expired) > 0 {
		e.persistState(ctx)
	}
	metrics.Equity.Set(e.led.Account().Equity)
	return out
}

// recordClose emits the terminal bookkeeping of a closed position: the
// ordered history line, a fresh state snapshot and the metrics/log trail.
func (e *Engine) recordClose(ctx context.Context, pos types.Position) {
	metrics.PositionsClosed.WithLabelValues(e.mode, string(pos.CloseReason)).Inc()
	logger.Position(ctx, "close", pos.Symbol, string(pos.Side),
		"reason", pos.CloseReason,
		"close_price", pos.ClosePrice,
		"realized_pnl", pos.RealizedPnl,
	)
	if e.queue == nil {
		return
	}
	if task, err := persist.HistoryTask(e.historyPath, ledger.NewHistoryRecord(pos)); err == nil {
		e.queue.Enqueue(ctx, task)
	} else {
		logger.ErrorWithErr(ctx, "Failed to marshal history record", err, "symbol", pos.Symbol)
	}
	e.persistState(ctx)
}

func (e *Engine) persistState(ctx context.Context) {
	if e.queue == nil {
		return
	}
	task, err := persist.StateTask(e.statePath, e.led.Snapshot())
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to marshal ledger snapshot", err)
		return
	}
	e.queue.Enqueue(ctx, task)
}
