package engine

import "sync"

// TrackedOrders holds the exchange-side order ids currently protecting a
// symbol's open position. Live mode only.
type TrackedOrders struct {
	TpOrderID string
	SlOrderID string
}

// tracker is the per-symbol order tracking table. Entries disappear when
// both sides are empty.
type tracker struct {
	mu      sync.Mutex
	entries map[string]TrackedOrders
}

func newTracker() *tracker {
	return &tracker{entries: make(map[string]TrackedOrders)}
}

func (t *tracker) Set(symbol, tpOrderID, slOrderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tpOrderID == "" && slOrderID == "" {
		delete(t.entries, symbol)
		return
	}
	t.entries[symbol] = TrackedOrders{TpOrderID: tpOrderID, SlOrderID: slOrderID}
}

func (t *tracker) Get(symbol string) (TrackedOrders, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracked, ok := t.entries[symbol]
	return tracked, ok
}

func (t *tracker) Remove(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, symbol)
}
