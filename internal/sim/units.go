package sim

import (
	"fmt"
	"sort"
	"time"

	"llm-perp-bot/internal/types"
)

// BuildUnits slices loaded series into non-overlapping simulation units.
// Each unit gets historyBars of context per symbol and windowBars of
// replay; the timeline is the union of all symbols' bar timestamps so
// symbols with gaps stay aligned.
func BuildUnits(series map[string][]types.Candle, historyBars, windowBars int) []Unit {
	if historyBars < 1 || windowBars < 1 {
		return nil
	}
	timeline := unionTimestamps(series)
	if len(timeline) < historyBars+windowBars {
		return nil
	}

	var units []Unit
	for offset := historyBars; offset+windowBars <= len(timeline); offset += windowBars {
		startTs := timeline[offset]
		histFrom := timeline[offset-historyBars]
		endTs := timeline[offset+windowBars-1]

		unit := Unit{
			ID:      fmt.Sprintf("u%d", startTs),
			Start:   time.UnixMilli(startTs).UTC(),
			History: make(map[string][]types.Candle),
			Replay:  make(map[string][]types.Candle),
		}
		for symbol, bars := range series {
			unit.History[symbol] = sliceRange(bars, histFrom, startTs-1)
			unit.Replay[symbol] = sliceRange(bars, startTs, endTs)
		}
		units = append(units, unit)
	}
	return units
}

func unionTimestamps(series map[string][]types.Candle) []int64 {
	seen := make(map[int64]struct{})
	for _, bars := range series {
		for _, b := range bars {
			seen[b.Ts] = struct{}{}
		}
	}
	timeline := make([]int64, 0, len(seen))
	for ts := range seen {
		timeline = append(timeline, ts)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i] < timeline[j] })
	return timeline
}

// sliceRange returns the bars with from <= Ts <= to. Input must be sorted
// by Ts ascending, which LoadSeriesCSV guarantees.
func sliceRange(bars []types.Candle, from, to int64) []types.Candle {
	lo := sort.Search(len(bars), func(i int) bool { return bars[i].Ts >= from })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Ts > to })
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}
