package broker

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBar(close float64) types.Bar {
	price := decimal.NewFromFloat(close)
	return types.Bar{
		Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	}
}

func testOrder(id, symbol string, side types.OrderSide, qty float64, barIndex int) types.Order {
	return types.Order{
		ID:       id,
		Symbol:   symbol,
		Side:     side,
		Quantity: decimal.NewFromFloat(qty),
		BarIndex: barIndex,
	}
}

func TestNewBrokerRejectsBadConstraints(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.RunConfig
	}{
		{"negative latency", types.RunConfig{LatencyBars: -1}},
		{"negative cap", types.RunConfig{LiquidityCap: decimal.NewFromInt(-1)}},
		{"negative slippage", types.RunConfig{SlippageBps: decimal.NewFromInt(-5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBroker(zap.NewNop(), tt.cfg)
			require.Error(t, err)
			var constraintErr *types.ExecutionConstraintError
			assert.ErrorAs(t, err, &constraintErr)
		})
	}
}

func TestZeroQuantityOrderProducesNoFill(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{})
	require.NoError(t, err)

	b.Submit(testOrder("o1", "BTC", types.OrderSideBuy, 0, 0), testBar(100))
	assert.Empty(t, b.Due(0))
	assert.Equal(t, 0, b.PendingCount())
}

func TestLatencyDelaysSettlementExactly(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{LatencyBars: 3})
	require.NoError(t, err)

	b.Submit(testOrder("o1", "BTC", types.OrderSideBuy, 10, 2), testBar(100))

	for barIndex := 2; barIndex < 5; barIndex++ {
		assert.Empty(t, b.Due(barIndex), "bar %d must not settle early", barIndex)
	}
	fills := b.Due(5)
	require.Len(t, fills, 1)
	assert.Equal(t, 5, fills[0].BarIndex)
	assert.Equal(t, 0, b.PendingCount())
}

func TestZeroLatencySettlesSameBar(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{})
	require.NoError(t, err)

	b.Submit(testOrder("o1", "ETH", types.OrderSideSell, 2, 7), testBar(50))
	fills := b.Due(7)
	require.Len(t, fills, 1)
	assert.Equal(t, 7, fills[0].BarIndex)
}

func TestSlippageSymmetry(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{SlippageBps: decimal.NewFromInt(25)})
	require.NoError(t, err)

	b.Submit(testOrder("buy", "BTC", types.OrderSideBuy, 1, 0), testBar(100))
	b.Submit(testOrder("sell", "BTC", types.OrderSideSell, 1, 0), testBar(100))

	fills := b.Due(0)
	require.Len(t, fills, 2)

	byID := map[string]types.Fill{}
	for _, f := range fills {
		byID[f.OrderID] = f
	}
	assert.True(t, byID["buy"].Price.Equal(decimal.NewFromFloat(100.25)),
		"buy price %s", byID["buy"].Price)
	assert.True(t, byID["sell"].Price.Equal(decimal.NewFromFloat(99.75)),
		"sell price %s", byID["sell"].Price)
}

func TestLiquidityCapDropsRemainderByDefault(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{LiquidityCap: decimal.NewFromInt(50)})
	require.NoError(t, err)

	b.Submit(testOrder("o1", "BTC", types.OrderSideBuy, 100, 0), testBar(10))

	fills := b.Due(0)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Quantity.Equal(decimal.NewFromInt(50)))
	assert.True(t, fills[0].Remainder.Equal(decimal.NewFromInt(50)))
	assert.True(t, b.UnfilledQuantity().Equal(decimal.NewFromInt(50)))

	// Dropped remainder never comes back.
	b.ResubmitCarried(1, map[string]types.Bar{"BTC": testBar(10)})
	assert.Empty(t, b.Due(1))
}

func TestLiquidityCapCarriesRemainderAcrossBars(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{
		LiquidityCap: decimal.NewFromInt(40),
		Remainder:    types.RemainderCarry,
	})
	require.NoError(t, err)

	b.Submit(testOrder("o1", "BTC", types.OrderSideBuy, 100, 0), testBar(10))
	first := b.Due(0)
	require.Len(t, first, 1)
	assert.True(t, first[0].Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, b.UnfilledQuantity().Equal(decimal.NewFromInt(60)))

	b.ResubmitCarried(1, map[string]types.Bar{"BTC": testBar(12)})
	second := b.Due(1)
	require.Len(t, second, 1)
	assert.True(t, second[0].Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, second[0].Price.Equal(decimal.NewFromInt(12)))

	b.ResubmitCarried(2, map[string]types.Bar{"BTC": testBar(12)})
	third := b.Due(2)
	require.Len(t, third, 1)
	assert.True(t, third[0].Quantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, b.UnfilledQuantity().IsZero())
}

func TestCarriedRemainderWaitsForValidBar(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{
		LiquidityCap: decimal.NewFromInt(30),
		Remainder:    types.RemainderCarry,
	})
	require.NoError(t, err)

	b.Submit(testOrder("o1", "ETH", types.OrderSideSell, 50, 0), testBar(20))
	b.Due(0)

	// ETH has no valid bar at bar 1; the remainder stays queued.
	b.ResubmitCarried(1, map[string]types.Bar{"BTC": testBar(10)})
	assert.Empty(t, b.Due(1))
	assert.True(t, b.UnfilledQuantity().Equal(decimal.NewFromInt(20)))

	b.ResubmitCarried(2, map[string]types.Bar{"ETH": testBar(21)})
	fills := b.Due(2)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Quantity.Equal(decimal.NewFromInt(20)))
}

func TestDueReturnsFillsInDeterministicOrder(t *testing.T) {
	b, err := NewBroker(zap.NewNop(), types.RunConfig{})
	require.NoError(t, err)

	b.Submit(testOrder("o2", "ETH", types.OrderSideBuy, 1, 0), testBar(10))
	b.Submit(testOrder("o1", "ETH", types.OrderSideBuy, 1, 0), testBar(10))
	b.Submit(testOrder("o3", "BTC", types.OrderSideBuy, 1, 0), testBar(10))

	fills := b.Due(0)
	require.Len(t, fills, 3)
	assert.Equal(t, "BTC", fills[0].Symbol)
	assert.Equal(t, "o1", fills[1].OrderID)
	assert.Equal(t, "o2", fills[2].OrderID)
}
