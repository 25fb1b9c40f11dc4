// Package correlation tracks rolling pairwise Pearson correlation of
// per-asset returns over a fixed window.
package correlation

import (
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// Corr is a correlation value with an explicit defined flag.
// OK is false until the pair has a full window of aligned observations,
// or when either series has zero variance inside the window.
type Corr struct {
	Value float64
	OK    bool
}

// Tracker maintains per-pair aligned return windows. A bar contributes an
// observation to a pair only when both symbols produced a valid return at
// that bar, so pairs with mismatched gaps stay honestly undefined longer.
type Tracker struct {
	window  int
	symbols []string
	pairs   map[[2]string]*pairWindow
}

// pairWindow is a fixed-capacity ring of aligned return observations
type pairWindow struct {
	a, b  []float64
	head  int
	count int
}

func newPairWindow(window int) *pairWindow {
	return &pairWindow{
		a: make([]float64, window),
		b: make([]float64, window),
	}
}

func (w *pairWindow) push(ra, rb float64) {
	w.a[w.head] = ra
	w.b[w.head] = rb
	w.head = (w.head + 1) % len(w.a)
	if w.count < len(w.a) {
		w.count++
	}
}

// NewTracker creates a tracker over the given symbols. The symbol set is
// fixed at construction; window is the number of aligned observations per pair.
func NewTracker(window int, symbols []string) *Tracker {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	t := &Tracker{
		window:  window,
		symbols: sorted,
		pairs:   make(map[[2]string]*pairWindow),
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			t.pairs[[2]string{sorted[i], sorted[j]}] = newPairWindow(window)
		}
	}
	return t
}

// Update records this bar's returns and reports the current average absolute
// correlation across all defined pairs. Symbols absent from the map had no
// valid return this bar and contribute nothing to their pairs.
func (t *Tracker) Update(returns map[string]float64) Corr {
	for pair, window := range t.pairs {
		ra, okA := returns[pair[0]]
		rb, okB := returns[pair[1]]
		if okA && okB {
			window.push(ra, rb)
		}
	}
	return t.AvgAbsCorr()
}

// Pair returns the current correlation for two symbols, in either order
func (t *Tracker) Pair(a, b string) Corr {
	if a > b {
		a, b = b, a
	}
	window, ok := t.pairs[[2]string{a, b}]
	if !ok {
		return Corr{}
	}
	return pearson(window)
}

// AvgAbsCorr averages |corr| over the defined pairs only. With no defined
// pair the result is the undefined sentinel, never zero.
func (t *Tracker) AvgAbsCorr() Corr {
	sum := 0.0
	defined := 0
	for _, window := range t.pairs {
		if c := pearson(window); c.OK {
			sum += math.Abs(c.Value)
			defined++
		}
	}
	if defined == 0 {
		return Corr{}
	}
	return Corr{Value: sum / float64(defined), OK: true}
}

// Snapshot packages the current average as a timestamped series point
func (t *Tracker) Snapshot(ts time.Time) types.CorrelationPoint {
	c := t.AvgAbsCorr()
	return types.CorrelationPoint{Timestamp: ts, Value: c.Value, Defined: c.OK}
}

// Window returns the configured observation window
func (t *Tracker) Window() int { return t.window }

// pearson computes the correlation over a full window. Partial windows and
// zero-variance series are undefined.
func pearson(w *pairWindow) Corr {
	if w.count < len(w.a) {
		return Corr{}
	}

	n := float64(w.count)
	var meanA, meanB float64
	for i := 0; i < w.count; i++ {
		meanA += w.a[i]
		meanB += w.b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := 0; i < w.count; i++ {
		da := w.a[i] - meanA
		db := w.b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return Corr{}
	}
	return Corr{Value: cov / math.Sqrt(varA*varB), OK: true}
}
