package interfaces

import "context"

// ExchangeOrder is the terminal view of an exchange-side order, as needed
// to attribute a remotely detected close.
type ExchangeOrder struct {
	OrderID      string
	Symbol       string
	Status       string // NEW, FILLED, CANCELED, EXPIRED
	AvgFillPrice float64
}

// AccountEvent is one push from the exchange account stream. PositionAmt
// of zero means the exchange no longer holds a position for the symbol.
type AccountEvent struct {
	Symbol      string
	PositionAmt float64
	Ts          int64
}

// Exchange is the live-mode exchange collaborator: the small REST surface
// the reconciliation service needs, plus order placement for the live
// engine and the push stream of account updates.
type Exchange interface {
	GetOrder(ctx context.Context, symbol, orderID string) (ExchangeOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetAccountBalance(ctx context.Context) (float64, error)

	PlaceMarket(ctx context.Context, symbol, side string, quantity float64) (string, error)
	PlaceTakeProfit(ctx context.Context, symbol, side string, quantity, price float64) (string, error)
	PlaceStopLoss(ctx context.Context, symbol, side string, quantity, price float64) (string, error)

	AccountEvents() <-chan AccountEvent
}
