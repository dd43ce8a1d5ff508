package ledger

import (
	"encoding/json"
	"testing"

	"llm-perp-bot/internal/types"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 102, 99, 100)
	l.SetMarkPrice("BTCUSDT", 101)
	if _, err := l.CreateLimitOrder(types.LimitOrderRequest{
		Symbol: "ETHUSDT", Side: types.SideShort, Kind: types.OrderConditional,
		LimitPrice: 48, MarginUsdt: 120, Leverage: 4,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	state := l.Snapshot()

	// Through JSON, like the persistence queue does it.
	payload, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var reloaded PersistedState
	if err := json.Unmarshal(payload, &reloaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored := Restore(reloaded, testFees, fixedClock(2000))

	if got, want := restored.Account(), l.Account(); got != want {
		t.Errorf("account mismatch:\n got %+v\nwant %+v", got, want)
	}
	pos, ok := restored.OpenPositionBySymbol("BTCUSDT")
	if !ok {
		t.Fatal("restored ledger lost the open position")
	}
	orig, _ := l.OpenPositionBySymbol("BTCUSDT")
	if pos.ID != orig.ID || !approxEqual(pos.EntryPrice, orig.EntryPrice) ||
		!approxEqual(pos.LatestMarkPrice, orig.LatestMarkPrice) ||
		!approxEqual(pos.TpPrice, orig.TpPrice) || !approxEqual(pos.SlPrice, orig.SlPrice) {
		t.Errorf("position mismatch:\n got %+v\nwant %+v", pos, orig)
	}
	if len(restored.PendingOrders()) != 1 {
		t.Fatalf("restored ledger lost the pending order")
	}

	// The restored ledger remains fully operational.
	if _, err := restored.ClosePosition(types.CloseRequest{Symbol: "BTCUSDT", Price: 101}); err != nil {
		t.Errorf("close on restored ledger: %v", err)
	}
}

func TestSnapshotExcludesTerminalOrders(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	order, err := l.CreateLimitOrder(types.LimitOrderRequest{
		Symbol: "BTCUSDT", Side: types.SideLong, LimitPrice: 95, MarginUsdt: 100, Leverage: 2,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	l.CancelPendingOrder(order.ID)

	state := l.Snapshot()
	if len(state.Pending) != 0 {
		t.Errorf("cancelled order must not be persisted, got %+v", state.Pending)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)

	state := l.Snapshot()
	l.SetMarkPrice("BTCUSDT", 200)

	if !approxEqual(state.Positions["BTCUSDT"].LatestMarkPrice, 100) {
		t.Errorf("snapshot must not see later mutations, got mark %f",
			state.Positions["BTCUSDT"].LatestMarkPrice)
	}
}

func TestHistoryRecordProjectsTerminalFields(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)
	closed, err := l.ClosePosition(types.CloseRequest{Symbol: "BTCUSDT", Price: 103, Reason: types.CloseTakeProfit})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	rec := NewHistoryRecord(closed)
	if rec.ID != closed.ID || rec.Symbol != "BTCUSDT" || rec.CloseReason != types.CloseTakeProfit {
		t.Errorf("identity fields wrong: %+v", rec)
	}
	if !approxEqual(rec.ClosePrice, 103) || !approxEqual(rec.RealizedPnl, closed.RealizedPnl) {
		t.Errorf("terminal fields wrong: %+v", rec)
	}
}
