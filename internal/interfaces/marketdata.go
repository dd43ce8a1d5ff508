package interfaces

import (
	"context"

	"llm-perp-bot/internal/types"
)

// PriceSource answers the on-demand "current price" query. The live
// implementation asks the exchange; the simulated one reads its private
// bar feed at the unit's private clock.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// MarketData is the market-data collaborator: a stream of fixed-interval
// bars plus the current-price query.
type MarketData interface {
	PriceSource
	Bars() <-chan types.Candle
	Subscribe(ctx context.Context, symbols []string) error
	Stop(ctx context.Context)
}
