// Package ledger is the authoritative in-process record of positions,
// pending orders and the account aggregate for one engine instance. All
// mutators preserve the account invariants (equity accounting, reserved
// margin bookkeeping) and every monetary output is rounded to 6 decimal
// places at this boundary.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm-perp-bot/internal/types"
)

// Fees holds the commission rates applied by this ledger instance.
type Fees struct {
	Taker float64
	Maker float64
}

// Ledger is one isolated position/order store. A process may hold many
// (one per simulation unit); each is guarded by its own mutex and shares
// nothing with its siblings.
type Ledger struct {
	mu      sync.Mutex
	account types.Account
	open    map[string]*types.Position     // keyed by symbol, at most one open per symbol
	pending map[string]*types.PendingOrder // keyed by order id; terminal orders are retained
	closed  []*types.Position              // append order == close order
	fees    Fees
	now     func() time.Time
}

// New creates a ledger with the given starting balance. The clock is
// injected so simulated ledgers advance their own private time.
func New(initialBalance float64, fees Fees, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		account: types.Account{
			Balance: Round6(initialBalance),
			Equity:  Round6(initialBalance),
		},
		open:    make(map[string]*types.Position),
		pending: make(map[string]*types.PendingOrder),
		fees:    fees,
		now:     now,
	}
}

// OpenPosition opens a new position at the given price, or re-averages an
// existing same-direction one. An opposite-direction open is rejected:
// the ledger holds one entry per symbol.
func (l *Ledger) OpenPosition(req types.OpenRequest, price float64) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !req.Side.Valid() {
		return types.Position{}, newError(KindInput, "InvalidSide", "unknown side %q", req.Side)
	}
	if req.NotionalUsdt <= 0 {
		return types.Position{}, newError(KindInput, "InvalidNotional", "notional must be positive, got %f", req.NotionalUsdt)
	}
	if req.Leverage < 1 {
		return types.Position{}, newError(KindInput, "InvalidLeverage", "leverage must be >= 1, got %d", req.Leverage)
	}
	if price <= 0 {
		return types.Position{}, newError(KindInput, "InvalidPrice", "price must be positive, got %f", price)
	}
	if req.TpPrice < 0 || req.SlPrice < 0 {
		return types.Position{}, newError(KindInput, "InvalidProtection", "tp/sl must be non-negative")
	}

	if existing := l.open[req.Symbol]; existing != nil {
		if existing.Side != req.Side {
			return types.Position{}, newError(KindConflict, "ConflictingDirection",
				"%s already has an open %s position", req.Symbol, existing.Side)
		}
		l.addToPositionLocked(existing, req.NotionalUsdt, price, l.fees.Taker)
		return copyPosition(existing), nil
	}

	pos := l.openLocked(req.Symbol, req.Side, req.NotionalUsdt, req.Leverage,
		req.TpPrice, req.SlPrice, price, l.fees.Taker)
	return copyPosition(pos), nil
}

// openLocked creates a fresh position record and applies its side effects
// to the account: the open fee is debited and the margin reserved.
func (l *Ledger) openLocked(symbol string, side types.Side, notional float64, leverage int, tp, sl, price, feeRate float64) *types.Position {
	qty := notional / price
	margin := notional / float64(leverage)
	feeOpen := Round6(Fee(notional, feeRate))

	pos := &types.Position{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      price,
		Quantity:        qty,
		Leverage:        leverage,
		Notional:        notional,
		MarginUsed:      margin,
		OpenTime:        l.now().UnixMilli(),
		TpPrice:         tp,
		SlPrice:         sl,
		LatestMarkPrice: price,
		Status:          types.PositionOpen,
		FeesOpen:        feeOpen,
	}

	l.open[symbol] = pos
	l.account.Balance = Round6(l.account.Balance - feeOpen)
	l.account.TotalFees = Round6(l.account.TotalFees + feeOpen)
	l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum + margin)
	l.account.OpenPositions++
	l.refreshEquityLocked()
	return pos
}

// addToPositionLocked re-weights the entry price to a quantity-weighted
// average instead of creating a second record for the symbol.
func (l *Ledger) addToPositionLocked(pos *types.Position, addNotional, price, feeRate float64) {
	addQty := addNotional / price
	addMargin := addNotional / float64(pos.Leverage)
	feeAdd := Round6(Fee(addNotional, feeRate))

	oldEntry := pos.EntryPrice
	pos.EntryPrice = (pos.Quantity*pos.EntryPrice + addQty*price) / (pos.Quantity + addQty)
	pos.Quantity += addQty
	pos.Notional += addNotional
	pos.MarginUsed += addMargin
	pos.FeesOpen = Round6(pos.FeesOpen + feeAdd)
	pos.LatestMarkPrice = price
	pos.History = append(pos.History, types.OperationEntry{
		Ts:       l.now().UnixMilli(),
		Op:       "add_to_position",
		OldEntry: oldEntry,
		NewEntry: pos.EntryPrice,
		AddedQty: addQty,
		AddedAt:  price,
	})

	l.account.Balance = Round6(l.account.Balance - feeAdd)
	l.account.TotalFees = Round6(l.account.TotalFees + feeAdd)
	l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum + addMargin)
	l.refreshEquityLocked()
}

// ClosePosition transitions an open position to its terminal state. The
// position is addressed by symbol or by id; a zero price falls back to the
// latest mark price and an empty reason records a manual close.
func (l *Ledger) ClosePosition(req types.CloseRequest) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.findOpenLocked(req.Symbol, req.PositionID)
	if pos == nil {
		return types.Position{}, newError(KindNotFound, "NotFound",
			"no open position for symbol=%q id=%q", req.Symbol, req.PositionID)
	}

	price := req.Price
	if price <= 0 {
		price = pos.LatestMarkPrice
	}
	reason := req.Reason
	if reason == "" {
		reason = types.CloseManual
	}

	l.closeLocked(pos, price, reason, "")
	return copyPosition(pos), nil
}

// CloseRemote is the reconciliation close path: reason and price were
// determined from exchange order state, and the filled exchange order id
// is retained on the record for audit.
func (l *Ledger) CloseRemote(symbol string, reason types.CloseReason, price float64, closeOrderID string) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.open[symbol]
	if pos == nil {
		return types.Position{}, newError(KindNotFound, "NotFound", "no open position for %q", symbol)
	}
	if price <= 0 {
		price = pos.LatestMarkPrice
	}
	l.closeLocked(pos, price, reason, closeOrderID)
	return copyPosition(pos), nil
}

func (l *Ledger) closeLocked(pos *types.Position, price float64, reason types.CloseReason, closeOrderID string) {
	feeClose := Round6(Fee(pos.Notional, l.fees.Taker))
	gross := UnrealizedPnl(pos.Side, pos.EntryPrice, pos.Quantity, price)

	pos.Status = types.PositionClosed
	pos.ClosePrice = price
	pos.CloseTime = l.now().UnixMilli()
	pos.CloseReason = reason
	pos.CloseOrderID = closeOrderID
	pos.FeesClose = feeClose
	pos.RealizedPnl = Round6(gross - pos.FeesOpen - feeClose)
	pos.LatestMarkPrice = price

	l.account.Balance = Round6(l.account.Balance + gross - feeClose)
	l.account.RealizedPnl = Round6(l.account.RealizedPnl + pos.RealizedPnl)
	l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum - pos.MarginUsed)
	l.account.TotalFees = Round6(l.account.TotalFees + feeClose)
	l.account.OpenPositions--

	delete(l.open, pos.Symbol)
	l.closed = append(l.closed, pos)
	l.refreshEquityLocked()
}

// UpdateTpSl sets the protective prices on an open position. A zero value
// clears protection on that side. The old/new values are appended to the
// position's operation history for audit.
func (l *Ledger) UpdateTpSl(symbol string, tp, sl float64) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tp < 0 || sl < 0 {
		return types.Position{}, newError(KindInput, "InvalidProtection", "tp/sl must be non-negative")
	}
	pos := l.open[symbol]
	if pos == nil {
		return types.Position{}, newError(KindNotFound, "NotFound", "no open position for %q", symbol)
	}

	pos.History = append(pos.History, types.OperationEntry{
		Ts:    l.now().UnixMilli(),
		Op:    "update_tp_sl",
		OldTp: pos.TpPrice,
		NewTp: tp,
		OldSl: pos.SlPrice,
		NewSl: sl,
	})
	pos.TpPrice = tp
	pos.SlPrice = sl
	return copyPosition(pos), nil
}

// CreateLimitOrder books a pending entry order and reserves its margin.
func (l *Ledger) CreateLimitOrder(req types.LimitOrderRequest) (types.PendingOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !req.Side.Valid() {
		return types.PendingOrder{}, newError(KindInput, "InvalidSide", "unknown side %q", req.Side)
	}
	kind := req.Kind
	if kind == "" {
		kind = types.OrderLimit
	}
	if kind != types.OrderLimit && kind != types.OrderConditional {
		return types.PendingOrder{}, newError(KindInput, "InvalidOrderKind", "unknown order kind %q", kind)
	}
	if req.LimitPrice <= 0 {
		return types.PendingOrder{}, newError(KindInput, "InvalidPrice", "limit price must be positive, got %f", req.LimitPrice)
	}
	if req.MarginUsdt <= 0 {
		return types.PendingOrder{}, newError(KindInput, "InvalidMargin", "margin must be positive, got %f", req.MarginUsdt)
	}
	if req.Leverage < 1 {
		return types.PendingOrder{}, newError(KindInput, "InvalidLeverage", "leverage must be >= 1, got %d", req.Leverage)
	}

	order := &types.PendingOrder{
		ID:             uuid.NewString(),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Kind:           kind,
		TriggerPrice:   req.LimitPrice,
		Quantity:       req.MarginUsdt * float64(req.Leverage) / req.LimitPrice,
		TpPrice:        req.TpPrice,
		SlPrice:        req.SlPrice,
		Leverage:       req.Leverage,
		MarginReserved: req.MarginUsdt,
		CreatedAt:      l.now().UnixMilli(),
		ExpiresAt:      req.ExpiresAt,
		Status:         types.OrderNew,
	}

	l.pending[order.ID] = order
	l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum + order.MarginReserved)
	l.refreshEquityLocked()
	return *order, nil
}

// CancelPendingOrder cancels a still-new order and releases its reserved
// margin. Terminal orders (already filled, expired or cancelled) return
// false; margin is never double-released.
func (l *Ledger) CancelPendingOrder(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	order := l.pending[orderID]
	if order == nil || order.Status != types.OrderNew {
		return false
	}
	order.Status = types.OrderCancelled
	l.account.ReservedMarginSum = Round6(l.account.ReservedMarginSum - order.MarginReserved)
	l.refreshEquityLocked()
	return true
}

// SetMarkPrice updates the mark price of an open position outside bar
// evaluation (live tick updates).
func (l *Ledger) SetMarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos := l.open[symbol]; pos != nil && price > 0 {
		pos.LatestMarkPrice = price
		l.refreshEquityLocked()
	}
}

// Account returns a copy of the account aggregate.
func (l *Ledger) Account() types.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

// OpenPositionBySymbol returns a copy of the open position for a symbol.
func (l *Ledger) OpenPositionBySymbol(symbol string) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos := l.open[symbol]
	if pos == nil {
		return types.Position{}, false
	}
	return copyPosition(pos), true
}

// OpenPositions returns copies of all open positions, sorted by symbol.
func (l *Ledger) OpenPositions() []types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, copyPosition(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ClosedPositions returns copies of all closed positions in close order.
func (l *Ledger) ClosedPositions() []types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Position, 0, len(l.closed))
	for _, pos := range l.closed {
		out = append(out, copyPosition(pos))
	}
	return out
}

// PendingOrderByID returns a copy of a booked order, terminal or not.
func (l *Ledger) PendingOrderByID(orderID string) (types.PendingOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order := l.pending[orderID]
	if order == nil {
		return types.PendingOrder{}, false
	}
	return *order, true
}

// PendingOrders returns copies of all still-new orders in creation order.
func (l *Ledger) PendingOrders() []types.PendingOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingBySymbolLocked("")
}

// pendingBySymbolLocked lists still-new orders, optionally filtered by
// symbol, sorted by creation time then id for deterministic evaluation.
func (l *Ledger) pendingBySymbolLocked(symbol string) []types.PendingOrder {
	out := make([]types.PendingOrder, 0, len(l.pending))
	for _, order := range l.pending {
		if order.Status != types.OrderNew {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UnrealizedTotal sums the unrealized PnL of all open positions at their
// latest mark prices.
func (l *Ledger) UnrealizedTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unrealizedTotalLocked()
}

func (l *Ledger) unrealizedTotalLocked() float64 {
	var total float64
	for _, pos := range l.open {
		total += UnrealizedPnl(pos.Side, pos.EntryPrice, pos.Quantity, pos.LatestMarkPrice)
	}
	return total
}

// refreshEquityLocked re-derives equity = balance + sum of unrealized PnL.
// Called after every mutation so the invariant holds between operations.
func (l *Ledger) refreshEquityLocked() {
	l.account.Equity = Round6(l.account.Balance + l.unrealizedTotalLocked())
}

func (l *Ledger) findOpenLocked(symbol, positionID string) *types.Position {
	if positionID != "" {
		for _, pos := range l.open {
			if pos.ID == positionID {
				return pos
			}
		}
		return nil
	}
	return l.open[symbol]
}

func copyPosition(p *types.Position) types.Position {
	out := *p
	if len(p.History) > 0 {
		out.History = append([]types.OperationEntry(nil), p.History...)
	}
	return out
}

// ViewOf projects a position into the read-only form handed to callers.
func ViewOf(p types.Position) types.PositionView {
	unrealized := UnrealizedPnl(p.Side, p.EntryPrice, p.Quantity, p.LatestMarkPrice)
	return types.PositionView{
		ID:            p.ID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		EntryPrice:    p.EntryPrice,
		Quantity:      p.Quantity,
		Leverage:      p.Leverage,
		Notional:      p.Notional,
		MarginUsed:    p.MarginUsed,
		TpPrice:       p.TpPrice,
		SlPrice:       p.SlPrice,
		MarkPrice:     p.LatestMarkPrice,
		UnrealizedPnl: Round6(unrealized),
		Roe:           Round6(Roe(unrealized, p.MarginUsed)),
		Status:        p.Status,
		ClosePrice:    p.ClosePrice,
		CloseReason:   p.CloseReason,
		RealizedPnl:   p.RealizedPnl,
	}
}

// OrderViewOf projects a pending order into its read-only form.
func OrderViewOf(o types.PendingOrder) types.OrderView {
	return types.OrderView{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Kind:           o.Kind,
		TriggerPrice:   o.TriggerPrice,
		Quantity:       o.Quantity,
		MarginReserved: o.MarginReserved,
		Status:         o.Status,
	}
}
