package interfaces

import (
	"context"

	"llm-perp-bot/internal/types"
)

// Engine is the boundary the core exposes to the decision collaborator.
// Live and simulated engines implement it identically; the concrete
// implementation is selected once at startup and passed down explicitly.
// There is no ambient "current engine".
type Engine interface {
	AccountSummary(ctx context.Context) (types.AccountSummary, error)
	PositionsSummary(ctx context.Context) ([]types.PositionView, error)
	OpenPosition(ctx context.Context, req types.OpenRequest) (types.PositionView, error)
	ClosePosition(ctx context.Context, req types.CloseRequest) (types.PositionView, error)
	UpdateTpSl(ctx context.Context, symbol string, tp, sl float64) (types.PositionView, error)
	CreateLimitOrder(ctx context.Context, req types.LimitOrderRequest) (types.OrderView, error)
	CancelPendingOrder(ctx context.Context, orderID string) bool
}
