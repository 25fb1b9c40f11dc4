package strategy

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWithHistory(history map[string][]float64) MarketState {
	symbols := make([]string, 0, len(history))
	bars := make(map[string]types.Bar, len(history))
	for symbol, closes := range history {
		symbols = append(symbols, symbol)
		price := decimal.NewFromFloat(closes[len(closes)-1])
		bars[symbol] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Open:      price, High: price, Low: price, Close: price,
		}
	}
	return MarketState{Symbols: symbols, Bars: bars, History: history}
}

func TestFlatEmitsNothing(t *testing.T) {
	f := NewFlat()
	assert.Nil(t, f.OnBar(stateWithHistory(map[string][]float64{"A": {1, 2, 3}})))
	assert.Zero(t, f.Warmup())
}

func TestSMACrossValidatesParameters(t *testing.T) {
	one := decimal.NewFromInt(1)

	_, err := NewSMACross(0, 10, one)
	assert.Error(t, err)
	_, err = NewSMACross(20, 10, one)
	assert.Error(t, err, "fast must be shorter than slow")
	_, err = NewSMACross(5, 10, decimal.Zero)
	assert.Error(t, err)

	s, err := NewSMACross(5, 10, one)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Warmup())
}

func TestSMACrossGoesLongInUptrend(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.NewFromInt(3))
	require.NoError(t, err)

	// Strictly rising closes: the short average leads the long one.
	signals := s.OnBar(stateWithHistory(map[string][]float64{
		"UP": {100, 101, 102, 103, 104, 105},
	}))
	require.Len(t, signals, 1)
	assert.Equal(t, types.SignalModeTarget, signals[0].Mode)
	assert.True(t, signals[0].Value.Equal(decimal.NewFromInt(3)))
}

func TestSMACrossGoesFlatInDowntrend(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.NewFromInt(1))
	require.NoError(t, err)

	signals := s.OnBar(stateWithHistory(map[string][]float64{
		"DOWN": {105, 104, 103, 102, 101, 100},
	}))
	require.Len(t, signals, 1)
	assert.True(t, signals[0].Value.IsZero())
}

func TestSMACrossSkipsSymbolsWithoutWarmup(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.NewFromInt(1))
	require.NoError(t, err)

	signals := s.OnBar(stateWithHistory(map[string][]float64{
		"NEW": {100, 101},
	}))
	assert.Empty(t, signals)
}

func TestRSIReversionValidatesParameters(t *testing.T) {
	one := decimal.NewFromInt(1)

	_, err := NewRSIReversion(1, 50, 30, 55, one)
	assert.Error(t, err)
	_, err = NewRSIReversion(14, 50, 60, 40, one)
	assert.Error(t, err, "exit threshold below entry")
	_, err = NewRSIReversion(14, 50, 30, 120, one)
	assert.Error(t, err)

	r, err := NewRSIReversion(14, 50, 30, 55, one)
	require.NoError(t, err)
	assert.Equal(t, 50, r.Warmup())

	r, err = NewRSIReversion(14, 5, 30, 55, one)
	require.NoError(t, err)
	assert.Equal(t, 15, r.Warmup(), "rsi lookback dominates a short ema")
}
