// Package data provides price series loading, alignment, and the
// pre-simulation consistency guard.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// timestampLayouts lists the accepted UTC timestamp formats, tried in order
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadSeriesCSV reads one symbol's series from a long-format CSV with
// columns timestamp,open,high,low,close,volume. Unparseable price fields
// become zero and are left for the guard to classify; a malformed header
// or timestamp is a hard error.
func LoadSeriesCSV(path, symbol string) (*types.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, required)
		}
	}

	series := &types.PriceSeries{Symbol: symbol}
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		ts, err := parseTimestamp(record[cols["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}

		bar := types.Bar{
			Timestamp: ts,
			Open:      parsePrice(record[cols["open"]]),
			High:      parsePrice(record[cols["high"]]),
			Low:       parsePrice(record[cols["low"]]),
			Close:     parsePrice(record[cols["close"]]),
		}
		if vi, ok := cols["volume"]; ok && vi < len(record) {
			bar.Volume = parsePrice(record[vi])
		}
		series.Bars = append(series.Bars, bar)
	}

	return series, nil
}

// LoadWideCSV reads the quick multi-asset format: a DATE column plus one
// <SYMBOL>_Close column per symbol. Synthetic bars are built with
// open = high = low = close.
func LoadWideCSV(path string) (map[string]*types.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	dateCol := -1
	closeCols := make(map[string]int)
	for i, name := range header {
		trimmed := strings.TrimSpace(name)
		if strings.EqualFold(trimmed, "date") || strings.EqualFold(trimmed, "timestamp") {
			dateCol = i
			continue
		}
		if strings.HasSuffix(trimmed, "_Close") {
			closeCols[strings.TrimSuffix(trimmed, "_Close")] = i
		}
	}
	if dateCol < 0 {
		return nil, fmt.Errorf("%s: missing DATE column", path)
	}
	if len(closeCols) == 0 {
		return nil, fmt.Errorf("%s: no *_Close columns found", path)
	}

	out := make(map[string]*types.PriceSeries, len(closeCols))
	for symbol := range closeCols {
		out[symbol] = &types.PriceSeries{Symbol: symbol}
	}

	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		ts, err := parseTimestamp(record[dateCol])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		for symbol, col := range closeCols {
			price := parsePrice(record[col])
			out[symbol].Bars = append(out[symbol].Bars, types.Bar{
				Timestamp: ts,
				Open:      price,
				High:      price,
				Low:       price,
				Close:     price,
			})
		}
	}

	return out, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

// parsePrice converts a CSV field to decimal. Empty fields, NaN, and
// garbage all map to zero so the guard can flag the bar instead of the
// loader aborting the whole run.
func parsePrice(raw string) decimal.Decimal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// SeriesSet indexes a group of price series for bar lookup on the union timeline
type SeriesSet struct {
	series   map[string]*types.PriceSeries
	at       map[string]map[int64]int
	timeline []time.Time
	symbols  []string
}

// NewSeriesSet builds the union timeline and per-symbol timestamp indexes.
// Within a symbol, the first bar at a timestamp wins; duplicates are left
// in the raw series for the guard to flag.
func NewSeriesSet(seriesMap map[string]*types.PriceSeries) *SeriesSet {
	set := &SeriesSet{
		series: seriesMap,
		at:     make(map[string]map[int64]int, len(seriesMap)),
	}

	stamps := make(map[int64]time.Time)
	for symbol, series := range seriesMap {
		set.symbols = append(set.symbols, symbol)
		index := make(map[int64]int, len(series.Bars))
		for i, bar := range series.Bars {
			key := bar.Timestamp.UnixNano()
			if _, seen := index[key]; !seen {
				index[key] = i
			}
			stamps[key] = bar.Timestamp
		}
		set.at[symbol] = index
	}
	sort.Strings(set.symbols)

	set.timeline = make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		set.timeline = append(set.timeline, ts)
	}
	sort.Slice(set.timeline, func(i, j int) bool { return set.timeline[i].Before(set.timeline[j]) })

	return set
}

// Timeline returns the sorted union of all symbols' timestamps
func (s *SeriesSet) Timeline() []time.Time { return s.timeline }

// Symbols returns all symbols in deterministic sorted order
func (s *SeriesSet) Symbols() []string { return s.symbols }

// BarAt returns the bar for symbol at ts, if one exists
func (s *SeriesSet) BarAt(symbol string, ts time.Time) (types.Bar, bool) {
	index, ok := s.at[symbol]
	if !ok {
		return types.Bar{}, false
	}
	i, ok := index[ts.UnixNano()]
	if !ok {
		return types.Bar{}, false
	}
	return s.series[symbol].Bars[i], true
}

// Series returns the raw series for a symbol
func (s *SeriesSet) Series(symbol string) *types.PriceSeries { return s.series[symbol] }

// SliceByTime returns a copy of the set restricted to timestamps in [start, end).
// Used by the walk-forward harness to build train and test windows without
// mutating the shared input series.
func (s *SeriesSet) SliceByTime(start, end time.Time) map[string]*types.PriceSeries {
	out := make(map[string]*types.PriceSeries, len(s.series))
	for symbol, series := range s.series {
		sliced := &types.PriceSeries{Symbol: symbol}
		for _, bar := range series.Bars {
			if bar.Timestamp.Before(start) || !bar.Timestamp.Before(end) {
				continue
			}
			sliced.Bars = append(sliced.Bars, bar)
		}
		if len(sliced.Bars) > 0 {
			out[symbol] = sliced
		}
	}
	return out
}
