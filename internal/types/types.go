package types

import "time"

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

type CloseReason string

const (
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseManual     CloseReason = "manual"
	CloseTimeout    CloseReason = "timeout"
	CloseUnknown    CloseReason = "unknown"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

type OrderKind string

const (
	// OrderLimit is a maker order: it fills when price recedes to the trigger.
	OrderLimit OrderKind = "limit"
	// OrderConditional is a taker order: it fills when price breaks through the trigger.
	OrderConditional OrderKind = "conditional"
)

type OrderStatus string

const (
	OrderNew       OrderStatus = "new"
	OrderFilled    OrderStatus = "filled"
	OrderExpired   OrderStatus = "expired"
	OrderCancelled OrderStatus = "cancelled"
)

type Candle struct {
	Symbol string  `json:"symbol"`
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Time returns the bar timestamp as a time.Time (Ts is unix milliseconds).
func (c Candle) Time() time.Time { return time.UnixMilli(c.Ts) }

// OperationEntry is one line of a position's append-only operation history:
// TP/SL edits and add-to-position events, with before/after values for audit.
type OperationEntry struct {
	Ts        int64   `json:"ts"`
	Op        string  `json:"op"`
	OldTp     float64 `json:"old_tp,omitempty"`
	NewTp     float64 `json:"new_tp,omitempty"`
	OldSl     float64 `json:"old_sl,omitempty"`
	NewSl     float64 `json:"new_sl,omitempty"`
	OldEntry  float64 `json:"old_entry,omitempty"`
	NewEntry  float64 `json:"new_entry,omitempty"`
	AddedQty  float64 `json:"added_qty,omitempty"`
	AddedAt   float64 `json:"added_at,omitempty"`
	Requested string  `json:"requested_by,omitempty"`
}

// Position is one open or historical leveraged trade. Fields under
// "immutable at open" are never touched after OpenPosition; the terminal
// fields are set exactly once when the position closes.
type Position struct {
	ID string `json:"id"`

	// Immutable at open.
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage"`
	Notional   float64 `json:"notional"`
	MarginUsed float64 `json:"margin_used"`
	OpenTime   int64   `json:"open_time"`

	// Mutable while open. Tp/Sl of 0 mean "unprotected on that side".
	TpPrice         float64          `json:"tp_price,omitempty"`
	SlPrice         float64          `json:"sl_price,omitempty"`
	LatestMarkPrice float64          `json:"latest_mark_price"`
	History         []OperationEntry `json:"operation_history,omitempty"`

	// Terminal.
	Status       PositionStatus `json:"status"`
	ClosePrice   float64        `json:"close_price,omitempty"`
	CloseTime    int64          `json:"close_time,omitempty"`
	CloseReason  CloseReason    `json:"close_reason,omitempty"`
	CloseOrderID string         `json:"close_order_id,omitempty"`
	RealizedPnl  float64        `json:"realized_pnl,omitempty"`
	FeesOpen     float64        `json:"fees_open"`
	FeesClose    float64        `json:"fees_close,omitempty"`
}

// PendingOrder is a not-yet-filled entry order, limit or conditional.
// Its reserved margin is released back to the account when it leaves
// the book without filling.
type PendingOrder struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Kind           OrderKind   `json:"kind"`
	TriggerPrice   float64     `json:"trigger_price"`
	Quantity       float64     `json:"quantity"`
	TpPrice        float64     `json:"tp_price,omitempty"`
	SlPrice        float64     `json:"sl_price,omitempty"`
	Leverage       int         `json:"leverage"`
	MarginReserved float64     `json:"margin_reserved"`
	CreatedAt      int64       `json:"created_at"`
	ExpiresAt      int64       `json:"expires_at,omitempty"`
	Status         OrderStatus `json:"status"`
}

// Account is the single balance aggregate of one ledger instance.
type Account struct {
	Balance           float64 `json:"balance"`
	Equity            float64 `json:"equity"`
	RealizedPnl       float64 `json:"realized_pnl"`
	ReservedMarginSum float64 `json:"reserved_margin_sum"`
	OpenPositions     int     `json:"open_positions_count"`
	TotalFees         float64 `json:"total_fees"`
}

// AccountSummary is the account view handed to the decision collaborator.
type AccountSummary struct {
	Balance           float64 `json:"balance"`
	Equity            float64 `json:"equity"`
	RealizedPnl       float64 `json:"realized_pnl"`
	UnrealizedPnl     float64 `json:"unrealized_pnl"`
	ReservedMarginSum float64 `json:"reserved_margin_sum"`
	PositionsCount    int     `json:"positions_count"`
}

// PositionView is the read-only projection of a Position handed to callers.
type PositionView struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	Quantity      float64        `json:"quantity"`
	Leverage      int            `json:"leverage"`
	Notional      float64        `json:"notional"`
	MarginUsed    float64        `json:"margin_used"`
	TpPrice       float64        `json:"tp_price,omitempty"`
	SlPrice       float64        `json:"sl_price,omitempty"`
	MarkPrice     float64        `json:"mark_price"`
	UnrealizedPnl float64        `json:"unrealized_pnl"`
	Roe           float64        `json:"roe"`
	Status        PositionStatus `json:"status"`
	ClosePrice    float64        `json:"close_price,omitempty"`
	CloseReason   CloseReason    `json:"close_reason,omitempty"`
	RealizedPnl   float64        `json:"realized_pnl,omitempty"`
}

// OrderView is the read-only projection of a PendingOrder.
type OrderView struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Kind           OrderKind   `json:"kind"`
	TriggerPrice   float64     `json:"trigger_price"`
	Quantity       float64     `json:"quantity"`
	MarginReserved float64     `json:"margin_reserved"`
	Status         OrderStatus `json:"status"`
}

// OpenRequest carries the arguments of an open-position call.
type OpenRequest struct {
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	NotionalUsdt float64 `json:"notional_usdt"`
	Leverage     int     `json:"leverage"`
	TpPrice      float64 `json:"tp_price,omitempty"`
	SlPrice      float64 `json:"sl_price,omitempty"`
}

// CloseRequest addresses an open position either by symbol or by id.
type CloseRequest struct {
	Symbol     string      `json:"symbol,omitempty"`
	PositionID string      `json:"position_id,omitempty"`
	Reason     CloseReason `json:"reason,omitempty"`
	Price      float64     `json:"price,omitempty"`
}

// LimitOrderRequest carries the arguments of a create-limit-order call.
type LimitOrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Kind       OrderKind `json:"kind,omitempty"`
	LimitPrice float64   `json:"limit_price"`
	MarginUsdt float64   `json:"margin_usdt"`
	Leverage   int       `json:"leverage"`
	TpPrice    float64   `json:"tp_price,omitempty"`
	SlPrice    float64   `json:"sl_price,omitempty"`
	ExpiresAt  int64     `json:"expires_at,omitempty"`
}
