package strategy

import (
	"sort"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Factory builds a strategy from a flat parameter map. Factories validate
// their parameters and return ConfigError on bad values.
type Factory func(params map[string]float64) (Strategy, error)

// Registry maps strategy names to factories
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in strategies
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("flat", func(map[string]float64) (Strategy, error) {
		return NewFlat(), nil
	})
	r.Register("sma_cross", func(params map[string]float64) (Strategy, error) {
		fast := intParam(params, "fast", 10)
		slow := intParam(params, "slow", 30)
		size := floatParam(params, "size", 1)
		return NewSMACross(fast, slow, decimal.NewFromFloat(size))
	})
	r.Register("rsi_reversion", func(params map[string]float64) (Strategy, error) {
		rsiPeriod := intParam(params, "rsi_period", 14)
		emaPeriod := intParam(params, "ema_period", 50)
		buyBelow := floatParam(params, "buy_below", 30)
		exitAbove := floatParam(params, "exit_above", 55)
		size := floatParam(params, "size", 1)
		return NewRSIReversion(rsiPeriod, emaPeriod, buyBelow, exitAbove, decimal.NewFromFloat(size))
	})
	return r
}

// Register adds or replaces a factory under the given name
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Build constructs the named strategy with the given parameters
func (r *Registry) Build(name string, params map[string]float64) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, types.NewConfigError("unknown strategy %q (have %v)", name, r.Names())
	}
	return factory(params)
}

// Names lists registered strategy names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intParam(params map[string]float64, key string, fallback int) int {
	if v, ok := params[key]; ok {
		return int(v)
	}
	return fallback
}

func floatParam(params map[string]float64, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return fallback
}
