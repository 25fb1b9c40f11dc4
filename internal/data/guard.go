// Package data provides the pre-simulation consistency guard.
// Bad data ruins backtests: the guard classifies, per bar and per symbol,
// which data is usable, so the engine can degrade gracefully instead of
// propagating NaNs through arithmetic.
package data

import (
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Guard classifies, per bar, which symbols have usable data.
// A symbol skipped at one bar can re-enter at a later bar if its data
// recovers; the cumulative skip summary is observable after the run.
type Guard struct {
	logger  *zap.Logger
	set     *SeriesSet
	flags   map[string]map[int64]types.SkipReason
	summary types.SkipSummary
}

// BarCheck is the guard's verdict for one symbol at one bar
type BarCheck struct {
	Symbol string
	Bar    types.Bar
	OK     bool
	Reason types.SkipReason
}

// NewGuard validates every series up front and returns a guard bound to the set
func NewGuard(logger *zap.Logger, set *SeriesSet) *Guard {
	g := &Guard{
		logger:  logger,
		set:     set,
		flags:   make(map[string]map[int64]types.SkipReason, len(set.Symbols())),
		summary: types.NewSkipSummary(),
	}

	for _, symbol := range set.Symbols() {
		g.flags[symbol] = flagSeries(set.Series(symbol))
	}

	return g
}

// flagSeries computes per-bar defect flags for one series.
// The first defect found wins; ordering checks compare against the last
// well-ordered timestamp so a single bad row does not poison its successors.
func flagSeries(series *types.PriceSeries) map[int64]types.SkipReason {
	flags := make(map[int64]types.SkipReason)
	var prev time.Time
	havePrev := false

	for _, bar := range series.Bars {
		key := bar.Timestamp.UnixNano()

		if reason, bad := checkBarFields(bar); bad {
			if _, exists := flags[key]; !exists {
				flags[key] = reason
			}
			continue
		}

		if havePrev {
			if bar.Timestamp.Equal(prev) {
				flags[key] = types.SkipReasonDuplicateTS
				continue
			}
			if bar.Timestamp.Before(prev) {
				flags[key] = types.SkipReasonOutOfOrder
				continue
			}
		}
		prev = bar.Timestamp
		havePrev = true
	}

	return flags
}

// checkBarFields validates prices and the OHLC range invariant
func checkBarFields(bar types.Bar) (types.SkipReason, bool) {
	for _, price := range []decimal.Decimal{bar.Open, bar.High, bar.Low, bar.Close} {
		if price.LessThanOrEqual(decimal.Zero) {
			return types.SkipReasonBadPrice, true
		}
	}
	if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) ||
		bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) ||
		bar.High.LessThan(bar.Low) {
		return types.SkipReasonOHLCRange, true
	}
	return "", false
}

// Check classifies every symbol at the given timestamp. okSymbols is sorted
// for deterministic downstream iteration; skipped symbols are recorded in
// the cumulative summary.
func (g *Guard) Check(ts time.Time) (okSymbols []string, checks map[string]BarCheck) {
	checks = make(map[string]BarCheck, len(g.set.Symbols()))
	key := ts.UnixNano()

	for _, symbol := range g.set.Symbols() {
		bar, exists := g.set.BarAt(symbol, ts)
		if !exists {
			checks[symbol] = BarCheck{Symbol: symbol, OK: false, Reason: types.SkipReasonAlignmentGap}
			g.summary.Record(symbol, types.SkipReasonAlignmentGap)
			continue
		}
		if reason, flagged := g.flags[symbol][key]; flagged {
			checks[symbol] = BarCheck{Symbol: symbol, Bar: bar, OK: false, Reason: reason}
			g.summary.Record(symbol, reason)
			g.logger.Debug("symbol skipped",
				zap.String("symbol", symbol),
				zap.Time("bar", ts),
				zap.String("reason", string(reason)),
			)
			continue
		}
		checks[symbol] = BarCheck{Symbol: symbol, Bar: bar, OK: true}
		okSymbols = append(okSymbols, symbol)
	}

	sort.Strings(okSymbols)
	return okSymbols, checks
}

// UsableSymbols returns the symbols that have at least one clean bar.
// The engine refuses to start when this comes back empty.
func (g *Guard) UsableSymbols() []string {
	var usable []string
	for _, symbol := range g.set.Symbols() {
		flagged := g.flags[symbol]
		clean := false
		for _, bar := range g.set.Series(symbol).Bars {
			if _, bad := flagged[bar.Timestamp.UnixNano()]; !bad {
				clean = true
				break
			}
		}
		if clean {
			usable = append(usable, symbol)
		}
	}
	return usable
}

// Summary returns the cumulative skip counts recorded so far
func (g *Guard) Summary() types.SkipSummary { return g.summary }
