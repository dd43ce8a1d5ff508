package engineobs

import (
	"context"

	"llm-perp-bot/internal/interfaces"
	"llm-perp-bot/internal/logger"
	"llm-perp-bot/internal/trace"
	"llm-perp-bot/internal/types"
)

// observableEngine wraps an Engine with tracing and logging middleware.
type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{engine: eng}
}

func (oe *observableEngine) AccountSummary(ctx context.Context) (types.AccountSummary, error) {
	ctx, span := trace.StartSpan(ctx, "engine.AccountSummary")
	defer span.End()
	return oe.engine.AccountSummary(ctx)
}

func (oe *observableEngine) PositionsSummary(ctx context.Context) ([]types.PositionView, error) {
	ctx, span := trace.StartSpan(ctx, "engine.PositionsSummary")
	defer span.End()
	return oe.engine.PositionsSummary(ctx)
}

func (oe *observableEngine) OpenPosition(ctx context.Context, req types.OpenRequest) (types.PositionView, error) {
	ctx, span := trace.StartSpan(ctx, "engine.OpenPosition")
	defer span.End()

	view, err := oe.engine.OpenPosition(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Open position rejected", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"notional", req.NotionalUsdt,
		)
		return types.PositionView{}, err
	}

	logger.InfoSkip(ctx, 1, "Position opened",
		"symbol", view.Symbol,
		"side", view.Side,
		"entry", view.EntryPrice,
		"leverage", view.Leverage,
	)
	return view, nil
}

func (oe *observableEngine) ClosePosition(ctx context.Context, req types.CloseRequest) (types.PositionView, error) {
	ctx, span := trace.StartSpan(ctx, "engine.ClosePosition")
	defer span.End()

	view, err := oe.engine.ClosePosition(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Close position rejected", err,
			"symbol", req.Symbol,
			"position_id", req.PositionID,
		)
		return types.PositionView{}, err
	}

	logger.InfoSkip(ctx, 1, "Position closed",
		"symbol", view.Symbol,
		"reason", view.CloseReason,
		"realized_pnl", view.RealizedPnl,
	)
	return view, nil
}

func (oe *observableEngine) UpdateTpSl(ctx context.Context, symbol string, tp, sl float64) (types.PositionView, error) {
	ctx, span := trace.StartSpan(ctx, "engine.UpdateTpSl")
	defer span.End()

	view, err := oe.engine.UpdateTpSl(ctx, symbol, tp, sl)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "TP/SL update rejected", err, "symbol", symbol)
		return types.PositionView{}, err
	}
	return view, nil
}

func (oe *observableEngine) CreateLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.OrderView, error) {
	ctx, span := trace.StartSpan(ctx, "engine.CreateLimitOrder")
	defer span.End()

	view, err := oe.engine.CreateLimitOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Limit order rejected", err,
			"symbol", req.Symbol,
			"side", req.Side,
		)
		return types.OrderView{}, err
	}

	logger.InfoSkip(ctx, 1, "Limit order booked",
		"symbol", view.Symbol,
		"kind", view.Kind,
		"trigger", view.TriggerPrice,
	)
	return view, nil
}

func (oe *observableEngine) CancelPendingOrder(ctx context.Context, orderID string) bool {
	ctx, span := trace.StartSpan(ctx, "engine.CancelPendingOrder")
	defer span.End()
	return oe.engine.CancelPendingOrder(ctx, orderID)
}
