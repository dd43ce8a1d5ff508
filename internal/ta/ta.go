// Package ta computes the indicator summary attached to each decision
// prompt. All functions return NaN when the window is too short; the
// caller drops NaN fields instead of feeding them to the model.
package ta

import (
	"math"

	"llm-perp-bot/internal/types"
)

// Summary is the per-symbol indicator block serialized into the prompt.
type Summary struct {
	LastClose float64 `json:"last_close"`
	Sma20     float64 `json:"sma_20,omitempty"`
	Ema20     float64 `json:"ema_20,omitempty"`
	Rsi14     float64 `json:"rsi_14,omitempty"`
	Atr14     float64 `json:"atr_14,omitempty"`
}

// Summarize computes the standard indicator set over a candle window.
// NaN values are zeroed so the JSON stays valid.
func Summarize(bars []types.Candle) Summary {
	if len(bars) == 0 {
		return Summary{}
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}
	return Summary{
		LastClose: closes[len(closes)-1],
		Sma20:     orZero(SMA(closes, 20)),
		Ema20:     orZero(EMA(closes, 20)),
		Rsi14:     orZero(RSI(closes, 14)),
		Atr14:     orZero(ATR(highs, lows, closes, 14)),
	}
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

func EMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	k := 2.0 / (float64(n) + 1.0)
	ema := SMA(closes[:n], n)
	for i := n; i < len(closes); i++ {
		ema = closes[i]*k + ema*(1.0-k)
	}
	return ema
}

func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return math.NaN()
	}
	if len(closes) < period+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		tr := highs[i] - lows[i]
		tr = math.Max(tr, math.Abs(highs[i]-closes[i-1]))
		tr = math.Max(tr, math.Abs(lows[i]-closes[i-1]))
		sum += tr
	}
	return sum / float64(period)
}
