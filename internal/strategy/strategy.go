// Package strategy defines the signal-generation interface consumed by the
// engine and the reference strategy variants.
package strategy

import (
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// MarketState is the bar-aligned view handed to a strategy each bar.
// It covers only symbols that passed the guard at this bar; History holds
// each symbol's valid closes up to and including the current bar.
type MarketState struct {
	BarIndex  int
	Timestamp time.Time
	Symbols   []string
	Bars      map[string]types.Bar
	History   map[string][]float64
}

// Strategy produces signals from market state. Implementations must be
// side-effect free with respect to engine state; any internal state they
// keep must depend only on the sequence of OnBar calls.
type Strategy interface {
	// OnBar returns the signals for the current bar, possibly none.
	OnBar(state MarketState) []types.Signal
	// Warmup returns the number of valid bars a symbol needs before the
	// strategy will emit a signal for it.
	Warmup() int
}

// Flat never trades. Useful as a baseline and for execution-model testing.
type Flat struct{}

// NewFlat creates a strategy that emits no signals
func NewFlat() *Flat { return &Flat{} }

// OnBar returns no signals
func (f *Flat) OnBar(MarketState) []types.Signal { return nil }

// Warmup returns zero
func (f *Flat) Warmup() int { return 0 }

// SMACross goes long one unit of size when the fast SMA is above the slow
// SMA and flat otherwise, per symbol, in target mode.
type SMACross struct {
	fast int
	slow int
	size decimal.Decimal
}

// NewSMACross creates a fast/slow moving average crossover strategy
func NewSMACross(fast, slow int, size decimal.Decimal) (*SMACross, error) {
	if fast < 1 || slow < 2 {
		return nil, types.NewConfigError("sma cross: periods must be positive, got fast=%d slow=%d", fast, slow)
	}
	if fast >= slow {
		return nil, types.NewConfigError("sma cross: fast period %d must be shorter than slow period %d", fast, slow)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewConfigError("sma cross: size must be positive, got %s", size)
	}
	return &SMACross{fast: fast, slow: slow, size: size}, nil
}

// OnBar emits a target signal per symbol with enough history
func (s *SMACross) OnBar(state MarketState) []types.Signal {
	var signals []types.Signal
	for _, symbol := range state.Symbols {
		history := state.History[symbol]
		if len(history) < s.slow {
			continue
		}

		fast := lastValue(trend.NewSmaWithPeriod[float64](s.fast), history)
		slow := lastValue(trend.NewSmaWithPeriod[float64](s.slow), history)

		target := decimal.Zero
		if fast > slow {
			target = s.size
		}
		signals = append(signals, types.Signal{
			Symbol: symbol,
			Mode:   types.SignalModeTarget,
			Basis:  types.SizeBasisQuantity,
			Value:  target,
		})
	}
	return signals
}

// Warmup returns the slow period
func (s *SMACross) Warmup() int { return s.slow }

// RSIReversion buys oversold dips above a long EMA trend filter and exits
// once RSI normalizes, per symbol, in target mode.
type RSIReversion struct {
	rsiPeriod int
	emaPeriod int
	buyBelow  float64
	exitAbove float64
	size      decimal.Decimal
}

// NewRSIReversion creates an RSI mean-reversion strategy with an EMA trend filter
func NewRSIReversion(rsiPeriod, emaPeriod int, buyBelow, exitAbove float64, size decimal.Decimal) (*RSIReversion, error) {
	if rsiPeriod < 2 || emaPeriod < 2 {
		return nil, types.NewConfigError("rsi reversion: periods must be at least 2, got rsi=%d ema=%d", rsiPeriod, emaPeriod)
	}
	if buyBelow <= 0 || exitAbove <= buyBelow || exitAbove >= 100 {
		return nil, types.NewConfigError("rsi reversion: need 0 < buy_below < exit_above < 100, got %v and %v", buyBelow, exitAbove)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewConfigError("rsi reversion: size must be positive, got %s", size)
	}
	return &RSIReversion{
		rsiPeriod: rsiPeriod,
		emaPeriod: emaPeriod,
		buyBelow:  buyBelow,
		exitAbove: exitAbove,
		size:      size,
	}, nil
}

// OnBar emits entry and exit targets per symbol with enough history.
// Between the entry and exit thresholds no signal is emitted, so the
// portfolio holds whatever position it already has.
func (r *RSIReversion) OnBar(state MarketState) []types.Signal {
	var signals []types.Signal
	for _, symbol := range state.Symbols {
		history := state.History[symbol]
		if len(history) < r.Warmup() {
			continue
		}

		rsi := lastValue(momentum.NewRsiWithPeriod[float64](r.rsiPeriod), history)
		ema := lastValue(trend.NewEmaWithPeriod[float64](r.emaPeriod), history)
		price := history[len(history)-1]

		switch {
		case rsi < r.buyBelow && price > ema:
			signals = append(signals, types.Signal{
				Symbol: symbol,
				Mode:   types.SignalModeTarget,
				Basis:  types.SizeBasisQuantity,
				Value:  r.size,
			})
		case rsi > r.exitAbove:
			signals = append(signals, types.Signal{
				Symbol: symbol,
				Mode:   types.SignalModeTarget,
				Basis:  types.SizeBasisQuantity,
				Value:  decimal.Zero,
			})
		}
	}
	return signals
}

// Warmup returns the longer of the two lookbacks plus the RSI seed bar
func (r *RSIReversion) Warmup() int {
	if r.emaPeriod > r.rsiPeriod+1 {
		return r.emaPeriod
	}
	return r.rsiPeriod + 1
}

// computer is the common shape of indicator/v2 channel transformers
type computer interface {
	Compute(<-chan float64) <-chan float64
}

// lastValue runs an indicator over the full history and returns its most
// recent output. History is recomputed each bar, which keeps strategies
// stateless and deterministic at the cost of some redundant arithmetic.
func lastValue(ind computer, history []float64) float64 {
	out := helper.ChanToSlice(ind.Compute(helper.SliceToChan(history)))
	if len(out) == 0 {
		return 0
	}
	return out[len(out)-1]
}
