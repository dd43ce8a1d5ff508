package ledger

import (
	"math"
	"testing"
	"time"

	"llm-perp-bot/internal/types"
)

var testFees = Fees{Taker: 0.0005, Maker: 0.0002}

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ts) }
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func openLong(t *testing.T, l *Ledger, symbol string, notional float64, leverage int, tp, sl, price float64) types.Position {
	t.Helper()
	pos, err := l.OpenPosition(types.OpenRequest{
		Symbol:       symbol,
		Side:         types.SideLong,
		NotionalUsdt: notional,
		Leverage:     leverage,
		TpPrice:      tp,
		SlPrice:      sl,
	}, price)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

func TestOpenPositionAccounting(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))

	pos := openLong(t, l, "BTCUSDT", 1000, 3, 102, 99, 100)

	if !approxEqual(pos.Quantity, 10) {
		t.Errorf("expected quantity 10, got %f", pos.Quantity)
	}
	if !approxEqual(pos.MarginUsed, 1000.0/3.0) {
		t.Errorf("expected margin %f, got %f", 1000.0/3.0, pos.MarginUsed)
	}
	if !approxEqual(pos.FeesOpen, 0.5) {
		t.Errorf("expected open fee 0.5, got %f", pos.FeesOpen)
	}

	acc := l.Account()
	if !approxEqual(acc.Balance, 9999.5) {
		t.Errorf("expected balance 9999.5, got %f", acc.Balance)
	}
	if !approxEqual(acc.ReservedMarginSum, Round6(1000.0/3.0)) {
		t.Errorf("expected reserved margin %f, got %f", 1000.0/3.0, acc.ReservedMarginSum)
	}
	if acc.OpenPositions != 1 {
		t.Errorf("expected 1 open position, got %d", acc.OpenPositions)
	}
	// Mark price == entry, so equity == balance.
	if !approxEqual(acc.Equity, acc.Balance) {
		t.Errorf("expected equity %f, got %f", acc.Balance, acc.Equity)
	}
}

func TestOpenPositionValidation(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))

	cases := []struct {
		name string
		req  types.OpenRequest
	}{
		{"bad side", types.OpenRequest{Symbol: "BTCUSDT", Side: "sideways", NotionalUsdt: 100, Leverage: 2}},
		{"zero notional", types.OpenRequest{Symbol: "BTCUSDT", Side: types.SideLong, NotionalUsdt: 0, Leverage: 2}},
		{"zero leverage", types.OpenRequest{Symbol: "BTCUSDT", Side: types.SideLong, NotionalUsdt: 100, Leverage: 0}},
		{"negative sl", types.OpenRequest{Symbol: "BTCUSDT", Side: types.SideLong, NotionalUsdt: 100, Leverage: 2, SlPrice: -1}},
	}
	for _, tc := range cases {
		_, err := l.OpenPosition(tc.req, 100)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !IsInput(err) {
			t.Errorf("%s: expected input error, got %v", tc.name, err)
		}
	}

	if _, err := l.OpenPosition(types.OpenRequest{Symbol: "BTCUSDT", Side: types.SideLong, NotionalUsdt: 100, Leverage: 2}, 0); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestConflictingDirectionRejected(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)

	_, err := l.OpenPosition(types.OpenRequest{
		Symbol:       "BTCUSDT",
		Side:         types.SideShort,
		NotionalUsdt: 500,
		Leverage:     2,
	}, 100)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !IsConflict(err) {
		t.Errorf("expected conflict kind, got %v", err)
	}
	if pos, _ := l.OpenPositionBySymbol("BTCUSDT"); pos.Side != types.SideLong {
		t.Errorf("original position must be untouched, got side %s", pos.Side)
	}
}

func TestSameSideOpenReAverages(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 2, 0, 0, 100) // qty 10

	pos, err := l.OpenPosition(types.OpenRequest{
		Symbol:       "BTCUSDT",
		Side:         types.SideLong,
		NotionalUsdt: 1100,
		Leverage:     2,
	}, 110) // qty 10 more
	if err != nil {
		t.Fatalf("add to position: %v", err)
	}

	if !approxEqual(pos.Quantity, 20) {
		t.Errorf("expected quantity 20, got %f", pos.Quantity)
	}
	if !approxEqual(pos.EntryPrice, 105) {
		t.Errorf("expected weighted entry 105, got %f", pos.EntryPrice)
	}
	if !approxEqual(pos.MarginUsed, 1050) {
		t.Errorf("expected margin 1050, got %f", pos.MarginUsed)
	}
	if len(pos.History) != 1 || pos.History[0].Op != "add_to_position" {
		t.Fatalf("expected one add_to_position history entry, got %+v", pos.History)
	}
	if !approxEqual(pos.History[0].OldEntry, 100) || !approxEqual(pos.History[0].NewEntry, 105) {
		t.Errorf("history entry prices wrong: %+v", pos.History[0])
	}
}

func TestClosePositionRealizesPnl(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)

	closed, err := l.ClosePosition(types.CloseRequest{Symbol: "BTCUSDT", Price: 103})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	// gross = 10 * (103-100) = 30, fees = 0.5 open + 0.5 close
	if closed.Status != types.PositionClosed {
		t.Errorf("expected closed status, got %s", closed.Status)
	}
	if closed.CloseReason != types.CloseManual {
		t.Errorf("expected manual reason, got %s", closed.CloseReason)
	}
	if !approxEqual(closed.RealizedPnl, 29) {
		t.Errorf("expected realized pnl 29, got %f", closed.RealizedPnl)
	}

	acc := l.Account()
	if !approxEqual(acc.Balance, 10029) {
		t.Errorf("expected balance 10029, got %f", acc.Balance)
	}
	if !approxEqual(acc.RealizedPnl, 29) {
		t.Errorf("expected account realized pnl 29, got %f", acc.RealizedPnl)
	}
	if !approxEqual(acc.ReservedMarginSum, 0) {
		t.Errorf("expected zero reserved margin, got %f", acc.ReservedMarginSum)
	}
	if acc.OpenPositions != 0 {
		t.Errorf("expected zero open positions, got %d", acc.OpenPositions)
	}
	if !approxEqual(acc.Equity, acc.Balance) {
		t.Errorf("expected equity == balance after close, got %f vs %f", acc.Equity, acc.Balance)
	}

	if _, err := l.ClosePosition(types.CloseRequest{Symbol: "BTCUSDT"}); !IsNotFound(err) {
		t.Errorf("expected not-found on second close, got %v", err)
	}
}

func TestCloseByPositionID(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	pos := openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)

	closed, err := l.ClosePosition(types.CloseRequest{PositionID: pos.ID, Price: 101})
	if err != nil {
		t.Fatalf("close by id: %v", err)
	}
	if closed.ID != pos.ID {
		t.Errorf("closed wrong position: %s != %s", closed.ID, pos.ID)
	}
}

func TestCloseFallsBackToMarkPrice(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)
	l.SetMarkPrice("BTCUSDT", 104)

	closed, err := l.ClosePosition(types.CloseRequest{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !approxEqual(closed.ClosePrice, 104) {
		t.Errorf("expected close at mark 104, got %f", closed.ClosePrice)
	}
}

func TestUpdateTpSlAppendsHistory(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 102, 99, 100)

	pos, err := l.UpdateTpSl("BTCUSDT", 105, 0)
	if err != nil {
		t.Fatalf("update tp/sl: %v", err)
	}
	if !approxEqual(pos.TpPrice, 105) || pos.SlPrice != 0 {
		t.Errorf("expected tp=105 sl cleared, got tp=%f sl=%f", pos.TpPrice, pos.SlPrice)
	}
	if len(pos.History) != 1 || pos.History[0].Op != "update_tp_sl" {
		t.Fatalf("expected update_tp_sl history entry, got %+v", pos.History)
	}
	entry := pos.History[0]
	if !approxEqual(entry.OldTp, 102) || !approxEqual(entry.NewTp, 105) || !approxEqual(entry.OldSl, 99) || entry.NewSl != 0 {
		t.Errorf("history old/new values wrong: %+v", entry)
	}

	if _, err := l.UpdateTpSl("ETHUSDT", 1, 1); !IsNotFound(err) {
		t.Errorf("expected not-found for unknown symbol, got %v", err)
	}
}

func TestCancelPendingOrderIdempotent(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	order, err := l.CreateLimitOrder(types.LimitOrderRequest{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		LimitPrice: 95,
		MarginUsdt: 200,
		Leverage:   5,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !approxEqual(l.Account().ReservedMarginSum, 200) {
		t.Fatalf("expected reserved margin 200, got %f", l.Account().ReservedMarginSum)
	}

	if !l.CancelPendingOrder(order.ID) {
		t.Fatal("first cancel must succeed")
	}
	if !approxEqual(l.Account().ReservedMarginSum, 0) {
		t.Errorf("margin not released: %f", l.Account().ReservedMarginSum)
	}

	// Second cancel is a no-op and must not double-release margin.
	if l.CancelPendingOrder(order.ID) {
		t.Error("second cancel must return false")
	}
	if !approxEqual(l.Account().ReservedMarginSum, 0) {
		t.Errorf("margin double-released: %f", l.Account().ReservedMarginSum)
	}
	if l.CancelPendingOrder("no-such-order") {
		t.Error("cancel of unknown order must return false")
	}
}

func TestEquityTracksUnrealized(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))
	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)

	l.SetMarkPrice("BTCUSDT", 105)
	acc := l.Account()
	// unrealized = 10 * 5 = 50
	if !approxEqual(acc.Equity, acc.Balance+50) {
		t.Errorf("expected equity balance+50, got %f vs balance %f", acc.Equity, acc.Balance)
	}

	l.SetMarkPrice("BTCUSDT", 95)
	acc = l.Account()
	if !approxEqual(acc.Equity, acc.Balance-50) {
		t.Errorf("expected equity balance-50, got %f vs balance %f", acc.Equity, acc.Balance)
	}
}

func TestBalanceDeltaMatchesRealizedPnl(t *testing.T) {
	l := New(10000, testFees, fixedClock(1000))

	openLong(t, l, "BTCUSDT", 1000, 3, 0, 0, 100)
	l.ClosePosition(types.CloseRequest{Symbol: "BTCUSDT", Price: 103})

	_, err := l.OpenPosition(types.OpenRequest{
		Symbol: "ETHUSDT", Side: types.SideShort, NotionalUsdt: 2000, Leverage: 4,
	}, 50)
	if err != nil {
		t.Fatalf("open short: %v", err)
	}
	l.ClosePosition(types.CloseRequest{Symbol: "ETHUSDT", Price: 52})

	acc := l.Account()
	if !approxEqual(acc.Balance-10000, acc.RealizedPnl) {
		t.Errorf("balance delta %f must equal account realized pnl %f",
			acc.Balance-10000, acc.RealizedPnl)
	}
	var sum float64
	for _, pos := range l.ClosedPositions() {
		sum += pos.RealizedPnl
	}
	if !approxEqual(sum, acc.RealizedPnl) {
		t.Errorf("sum of trade pnl %f must equal account realized pnl %f", sum, acc.RealizedPnl)
	}
}
