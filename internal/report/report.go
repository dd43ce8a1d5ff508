// Package report turns the closed-trade history log into a per-symbol
// CSV summary for offline review.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/persist"
)

type symbolAgg struct {
	Symbol      string
	Trades      int
	Wins        int
	GrossPnl    float64
	Fees        float64
	WorstTrade  float64
	BestTrade   float64
	ReasonCount map[string]int
}

// Summarize reads one history log and writes summary rows to outPath.
// A missing or empty history file is not an error; no file is written.
func Summarize(historyPath, outPath string) (string, error) {
	return SummarizeAll([]string{historyPath}, outPath)
}

// SummarizeDir aggregates every history log under dir into one summary.
// Simulation runs leave one log per ledger instance.
func SummarizeDir(dir, outPath string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*_history.jsonl"))
	if err != nil {
		return "", err
	}
	return SummarizeAll(paths, outPath)
}

func SummarizeAll(historyPaths []string, outPath string) (string, error) {
	var records []ledger.HistoryRecord
	for _, path := range historyPaths {
		recs, err := persist.ReadHistory(path)
		if err != nil {
			return "", err
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		return "", nil
	}

	aggs := map[string]*symbolAgg{}
	for _, rec := range records {
		agg := aggs[rec.Symbol]
		if agg == nil {
			agg = &symbolAgg{Symbol: rec.Symbol, ReasonCount: map[string]int{}}
			aggs[rec.Symbol] = agg
		}
		agg.Trades++
		if rec.RealizedPnl >= 0 {
			agg.Wins++
		}
		agg.GrossPnl += rec.RealizedPnl
		agg.Fees += rec.FeesOpen + rec.FeesClose
		agg.ReasonCount[string(rec.CloseReason)]++
		if agg.Trades == 1 || rec.RealizedPnl < agg.WorstTrade {
			agg.WorstTrade = rec.RealizedPnl
		}
		if agg.Trades == 1 || rec.RealizedPnl > agg.BestTrade {
			agg.BestTrade = rec.RealizedPnl
		}
	}

	symbols := make([]string, 0, len(aggs))
	for s := range aggs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()
	header := []string{"symbol", "trades", "wins", "net_pnl", "fees_paid", "best_trade", "worst_trade", "take_profit", "stop_loss", "manual", "timeout", "unknown"}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, s := range symbols {
		a := aggs[s]
		row := []string{
			a.Symbol,
			strconv.Itoa(a.Trades),
			strconv.Itoa(a.Wins),
			fmt.Sprintf("%.6f", ledger.Round6(a.GrossPnl)),
			fmt.Sprintf("%.6f", ledger.Round6(a.Fees)),
			fmt.Sprintf("%.6f", a.BestTrade),
			fmt.Sprintf("%.6f", a.WorstTrade),
			strconv.Itoa(a.ReasonCount["take_profit"]),
			strconv.Itoa(a.ReasonCount["stop_loss"]),
			strconv.Itoa(a.ReasonCount["manual"]),
			strconv.Itoa(a.ReasonCount["timeout"]),
			strconv.Itoa(a.ReasonCount["unknown"]),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}
