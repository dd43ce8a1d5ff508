package ledger

import (
	"time"

	"llm-perp-bot/internal/types"
)

// PersistedState is the durable JSON layout of one ledger instance.
// Positions are keyed by symbol; pending orders are carried too so a
// reloaded ledger keeps its reserved-margin sum consistent.
type PersistedState struct {
	Account    types.Account                 `json:"account"`
	Positions  map[string]types.Position     `json:"positions"`
	Pending    map[string]types.PendingOrder `json:"pending_orders,omitempty"`
	LastUpdate time.Time                     `json:"lastUpdate"`
}

// HistoryRecord is one line of the append-only close history: the
// identity and terminal fields of a closed position.
type HistoryRecord struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol"`
	Side         types.Side        `json:"side"`
	EntryPrice   float64           `json:"entry_price"`
	Quantity     float64           `json:"quantity"`
	Leverage     int               `json:"leverage"`
	Notional     float64           `json:"notional"`
	MarginUsed   float64           `json:"margin_used"`
	OpenTime     int64             `json:"open_time"`
	ClosePrice   float64           `json:"close_price"`
	CloseTime    int64             `json:"close_time"`
	CloseReason  types.CloseReason `json:"close_reason"`
	RealizedPnl  float64           `json:"realized_pnl"`
	FeesOpen     float64           `json:"fees_open"`
	FeesClose    float64           `json:"fees_close"`
	CloseOrderID string            `json:"close_order_id,omitempty"`
}

// NewHistoryRecord projects a closed position into its history line.
func NewHistoryRecord(p types.Position) HistoryRecord {
	return HistoryRecord{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Side:         p.Side,
		EntryPrice:   p.EntryPrice,
		Quantity:     p.Quantity,
		Leverage:     p.Leverage,
		Notional:     p.Notional,
		MarginUsed:   p.MarginUsed,
		OpenTime:     p.OpenTime,
		ClosePrice:   p.ClosePrice,
		CloseTime:    p.CloseTime,
		CloseReason:  p.CloseReason,
		RealizedPnl:  p.RealizedPnl,
		FeesOpen:     p.FeesOpen,
		FeesClose:    p.FeesClose,
		CloseOrderID: p.CloseOrderID,
	}
}

// Snapshot captures a consistent copy of the whole ledger for the
// persistence queue. The snapshot process only ever reads; it never
// mutates a closed position.
func (l *Ledger) Snapshot() PersistedState {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := PersistedState{
		Account:    l.account,
		Positions:  make(map[string]types.Position, len(l.open)),
		LastUpdate: l.now(),
	}
	for symbol, pos := range l.open {
		state.Positions[symbol] = copyPosition(pos)
	}
	if len(l.pending) > 0 {
		state.Pending = make(map[string]types.PendingOrder, len(l.pending))
		for id, order := range l.pending {
			if order.Status == types.OrderNew {
				state.Pending[id] = *order
			}
		}
	}
	return state
}

// Restore rebuilds a ledger from a persisted snapshot. The resulting
// account and open position set are field-for-field identical to what
// Snapshot captured, modulo the documented 6-decimal rounding.
func Restore(state PersistedState, fees Fees, now func() time.Time) *Ledger {
	l := New(0, fees, now)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account = state.Account
	for symbol, pos := range state.Positions {
		p := pos
		l.open[symbol] = &p
	}
	for id, order := range state.Pending {
		o := order
		l.pending[id] = &o
	}
	return l
}
