package ledger

import (
	"math"

	"llm-perp-bot/internal/types"
)

// marginEpsilon guards the ROE division for degenerate zero-margin positions.
const marginEpsilon = 1e-9

// Round6 rounds a monetary value to 6 decimal places. Applied only at the
// ledger boundary; intermediate arithmetic stays unrounded.
func Round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// UnrealizedPnl computes qty*(mark-entry) for a long, negated for a short.
func UnrealizedPnl(side types.Side, entry, qty, mark float64) float64 {
	pnl := qty * (mark - entry)
	if side == types.SideShort {
		pnl = -pnl
	}
	return pnl
}

// Roe is the return on the margin a position has locked up.
func Roe(unrealized, marginUsed float64) float64 {
	return unrealized / math.Max(marginUsed, marginEpsilon)
}

// Fee is the commission for transacting a notional at the given rate.
// Maker vs taker changes the rate, never the formula.
func Fee(notional, rate float64) float64 {
	return notional * rate
}

// RealizedPnl is the full round-trip economics of a closed position:
// unrealized PnL at the close price minus both fee legs.
func RealizedPnl(side types.Side, entry, qty, closePrice, feesOpen, feesClose float64) float64 {
	return UnrealizedPnl(side, entry, qty, closePrice) - feesOpen - feesClose
}
