package sim

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"llm-perp-bot/internal/ledger"
	"llm-perp-bot/internal/types"
)

// Feed is the private price source of one simulation unit: historical
// bars per symbol, read against the unit's own clock. It answers the
// "current price" query with the close of the latest bar at or before
// the clock's now.
type Feed struct {
	series map[string][]types.Candle // sorted by Ts ascending
	clock  *Clock
}

func NewFeed(series map[string][]types.Candle, clock *Clock) *Feed {
	sorted := make(map[string][]types.Candle, len(series))
	for symbol, bars := range series {
		s := append([]types.Candle(nil), bars...)
		sort.Slice(s, func(i, j int) bool { return s[i].Ts < s[j].Ts })
		sorted[symbol] = s
	}
	return &Feed{series: sorted, clock: clock}
}

// CurrentPrice implements interfaces.PriceSource against the unit clock.
func (f *Feed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	bars := f.series[symbol]
	if len(bars) == 0 {
		return 0, ledger.NewRuntimeError("NoData", "no bars loaded for %s", symbol)
	}
	now := f.clock.Now().UnixMilli()
	// Latest bar at or before now.
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Ts > now })
	if idx == 0 {
		return 0, ledger.NewRuntimeError("NoData", "no bar for %s at or before %d", symbol, now)
	}
	return bars[idx-1].Close, nil
}

// LoadSeriesCSV reads one symbol's bars from a CSV file with columns
// ts,open,high,low,close,volume (header optional, ts in unix millis).
func LoadSeriesCSV(path, symbol string) ([]types.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	bars := make([]types.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, err
		}
		var vals [5]float64
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		bars = append(bars, types.Candle{
			Symbol: symbol,
			Ts:     ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts < bars[j].Ts })
	return bars, nil
}

// LoadDataDir loads <SYMBOL>.csv files for the requested symbols.
func LoadDataDir(dir string, symbols []string) (map[string][]types.Candle, error) {
	series := make(map[string][]types.Candle, len(symbols))
	for _, symbol := range symbols {
		bars, err := LoadSeriesCSV(filepath.Join(dir, symbol+".csv"), symbol)
		if err != nil {
			return nil, err
		}
		series[symbol] = bars
	}
	return series, nil
}
