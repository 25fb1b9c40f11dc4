package engine

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func priceSeries(symbol string, closes ...float64) *types.PriceSeries {
	s := &types.PriceSeries{Symbol: symbol}
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		s.Bars = append(s.Bars, types.Bar{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
		})
	}
	return s
}

func testConfig() types.RunConfig {
	cfg := types.DefaultRunConfig()
	cfg.CorrelationWindow = 3
	return cfg
}

// scriptStrategy replays fixed signals at fixed bar indexes
type scriptStrategy struct {
	at map[int][]types.Signal
}

func (s *scriptStrategy) OnBar(state strategy.MarketState) []types.Signal {
	return s.at[state.BarIndex]
}

func (s *scriptStrategy) Warmup() int { return 0 }

func targetSignal(symbol string, qty float64) types.Signal {
	return types.Signal{
		Symbol: symbol,
		Mode:   types.SignalModeTarget,
		Basis:  types.SizeBasisQuantity,
		Value:  decimal.NewFromFloat(qty),
	}
}

func TestFlatStrategyConstantPriceStaysFlat(t *testing.T) {
	eng, err := NewEngine(zap.NewNop(), testConfig())
	require.NoError(t, err)

	series := map[string]*types.PriceSeries{
		"AAA": priceSeries("AAA", 100, 100, 100, 100, 100, 100, 100, 100, 100, 100),
	}
	result, err := eng.Run(series, strategy.NewFlat())
	require.NoError(t, err)

	require.Len(t, result.EquityCurve, 10)
	assert.Empty(t, result.Fills)
	for _, point := range result.EquityCurve {
		assert.True(t, point.Equity.Equal(testConfig().InitialCapital), "equity %s", point.Equity)
		assert.True(t, point.Drawdown.IsZero())
	}
	assert.Equal(t, 0, result.SkipSummary.SkippedSymbols())
}

func TestRunFailsWhenNoSymbolIsUsable(t *testing.T) {
	eng, err := NewEngine(zap.NewNop(), testConfig())
	require.NoError(t, err)

	_, err = eng.Run(map[string]*types.PriceSeries{
		"BAD": priceSeries("BAD", 0, 0, 0),
	}, strategy.NewFlat())

	require.Error(t, err)
	var cfgErr *types.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InitialCapital = decimal.Zero
	_, err := NewEngine(zap.NewNop(), cfg)
	require.Error(t, err)
}

func TestLatencyShiftsSettlementBar(t *testing.T) {
	cfg := testConfig()
	cfg.LatencyBars = 2
	eng, err := NewEngine(zap.NewNop(), cfg)
	require.NoError(t, err)

	strat := &scriptStrategy{at: map[int][]types.Signal{
		0: {targetSignal("AAA", 1)},
	}}
	result, err := eng.Run(map[string]*types.PriceSeries{
		"AAA": priceSeries("AAA", 100, 101, 102, 103, 104),
	}, strat)
	require.NoError(t, err)

	require.Len(t, result.Fills, 1)
	assert.Equal(t, 2, result.Fills[0].BarIndex)
	// Priced at the submission bar, settled two bars later.
	assert.True(t, result.Fills[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestIdenticalRunsProduceIdenticalResults(t *testing.T) {
	series := func() map[string]*types.PriceSeries {
		return map[string]*types.PriceSeries{
			"AAA": priceSeries("AAA", 100, 103, 99, 104, 108, 102, 105, 110),
			"BBB": priceSeries("BBB", 50, 51, 49, 52, 53, 50, 54, 55),
		}
	}
	strat := func() *scriptStrategy {
		return &scriptStrategy{at: map[int][]types.Signal{
			1: {targetSignal("AAA", 3), targetSignal("BBB", -2)},
			4: {targetSignal("AAA", 0)},
			6: {targetSignal("BBB", 2)},
		}}
	}

	cfg := testConfig()
	cfg.ID = "repeat"
	cfg.SlippageBps = decimal.NewFromInt(10)
	cfg.LatencyBars = 1

	run := func() *types.RunResult {
		eng, err := NewEngine(zap.NewNop(), cfg)
		require.NoError(t, err)
		result, err := eng.Run(series(), strat())
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.Fills, second.Fills)
	assert.Equal(t, first.Correlation, second.Correlation)
}

func TestBadSymbolDoesNotAffectOthers(t *testing.T) {
	strat := func() *scriptStrategy {
		return &scriptStrategy{at: map[int][]types.Signal{
			1: {targetSignal("GOOD", 5)},
		}}
	}

	clean := map[string]*types.PriceSeries{
		"GOOD": priceSeries("GOOD", 100, 101, 102, 103, 104),
	}
	corrupt := priceSeries("BAD", 10, 11, 12, 13, 14)
	corrupt.Bars[2].Close = decimal.Zero
	mixed := map[string]*types.PriceSeries{
		"GOOD": priceSeries("GOOD", 100, 101, 102, 103, 104),
		"BAD":  corrupt,
	}

	eng, err := NewEngine(zap.NewNop(), testConfig())
	require.NoError(t, err)
	baseline, err := eng.Run(clean, strat())
	require.NoError(t, err)

	withBad, err := eng.Run(mixed, strat())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, withBad.SkipSummary.SkippedSymbols(), 1)
	require.Len(t, withBad.EquityCurve, len(baseline.EquityCurve))
	for i := range baseline.EquityCurve {
		assert.True(t, baseline.EquityCurve[i].Equity.Equal(withBad.EquityCurve[i].Equity),
			"bar %d: %s vs %s", i, baseline.EquityCurve[i].Equity, withBad.EquityCurve[i].Equity)
	}
}

func TestEquityCarriesForwardWhenAllSymbolsSkipped(t *testing.T) {
	corrupt := priceSeries("AAA", 100, 100, 100, 100)
	corrupt.Bars[2].Close = decimal.Zero

	eng, err := NewEngine(zap.NewNop(), testConfig())
	require.NoError(t, err)

	strat := &scriptStrategy{at: map[int][]types.Signal{
		0: {targetSignal("AAA", 2)},
	}}
	result, err := eng.Run(map[string]*types.PriceSeries{"AAA": corrupt}, strat)
	require.NoError(t, err)

	// Every union-timeline bar gets exactly one equity point, the skipped
	// bar carrying the prior mark.
	require.Len(t, result.EquityCurve, 4)
	assert.True(t, result.EquityCurve[1].Equity.Equal(result.EquityCurve[2].Equity))
}
