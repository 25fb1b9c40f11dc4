// Package broker simulates order execution under microstructure frictions:
// symmetric slippage, settlement latency, and per-bar liquidity caps.
package broker

import (
	"sort"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// Broker turns orders into fills. Fills settle latency_bars after
// submission; an order larger than the liquidity cap produces a partial
// fill whose remainder is dropped or carried per configuration.
type Broker struct {
	logger *zap.Logger
	cfg    types.RunConfig

	queue    map[int][]types.Fill // due bar index -> settled-at-that-bar fills
	carried  []carriedOrder
	unfilled decimal.Decimal // total quantity never executed (dropped or expired)
}

// carriedOrder is the resubmittable remainder of a capped order
type carriedOrder struct {
	order types.Order
}

// NewBroker validates execution constraints at construction time.
// Negative caps and latencies are rejected here, never at submission.
func NewBroker(logger *zap.Logger, cfg types.RunConfig) (*Broker, error) {
	if cfg.LatencyBars < 0 {
		return nil, types.NewExecutionConstraintError("latency bars must be non-negative, got %d", cfg.LatencyBars)
	}
	if cfg.LiquidityCap.LessThan(decimal.Zero) {
		return nil, types.NewExecutionConstraintError("liquidity cap must be non-negative, got %s", cfg.LiquidityCap)
	}
	if cfg.SlippageBps.LessThan(decimal.Zero) {
		return nil, types.NewExecutionConstraintError("slippage bps must be non-negative, got %s", cfg.SlippageBps)
	}
	if cfg.Remainder == "" {
		cfg.Remainder = types.RemainderDrop
	}

	return &Broker{
		logger: logger,
		cfg:    cfg,
		queue:  make(map[int][]types.Fill),
	}, nil
}

// Submit executes an order against the given bar. The fill is priced off
// the bar close with symmetric slippage and queued for settlement at
// barIndex + latency. A zero-quantity order produces nothing.
func (b *Broker) Submit(order types.Order, bar types.Bar) {
	if order.Quantity.IsZero() {
		return
	}

	fillQty := order.Quantity
	remainder := decimal.Zero
	if b.cfg.LiquidityCap.GreaterThan(decimal.Zero) && fillQty.GreaterThan(b.cfg.LiquidityCap) {
		fillQty = b.cfg.LiquidityCap
		remainder = order.Quantity.Sub(fillQty)
	}

	fill := types.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  fillQty,
		Price:     b.fillPrice(order.Side, bar.Close),
		BarIndex:  order.BarIndex + b.cfg.LatencyBars,
		Timestamp: bar.Timestamp,
		Remainder: remainder,
	}
	b.queue[fill.BarIndex] = append(b.queue[fill.BarIndex], fill)

	if remainder.IsZero() {
		return
	}

	switch b.cfg.Remainder {
	case types.RemainderCarry:
		rest := order
		rest.Quantity = remainder
		b.carried = append(b.carried, carriedOrder{order: rest})
		b.logger.Debug("order capped, remainder carried",
			zap.String("symbol", order.Symbol),
			zap.String("filled", fillQty.String()),
			zap.String("remainder", remainder.String()),
		)
	default:
		b.unfilled = b.unfilled.Add(remainder)
		b.logger.Debug("order capped, remainder dropped",
			zap.String("symbol", order.Symbol),
			zap.String("remainder", remainder.String()),
		)
	}
}

// ResubmitCarried replays carried remainders at the current bar's prices.
// Remainders for symbols without a valid bar stay queued for a later bar.
func (b *Broker) ResubmitCarried(barIndex int, bars map[string]types.Bar) {
	if len(b.carried) == 0 {
		return
	}

	pending := b.carried
	b.carried = nil
	for _, c := range pending {
		current, valid := bars[c.order.Symbol]
		if !valid {
			b.carried = append(b.carried, c)
			continue
		}
		resubmitted := c.order
		resubmitted.BarIndex = barIndex
		b.Submit(resubmitted, current)
	}
}

// Due releases all fills whose settlement bar has been reached, in
// deterministic order (symbol, then order ID).
func (b *Broker) Due(barIndex int) []types.Fill {
	fills := b.queue[barIndex]
	if fills == nil {
		return nil
	}
	delete(b.queue, barIndex)

	sort.Slice(fills, func(i, j int) bool {
		if fills[i].Symbol != fills[j].Symbol {
			return fills[i].Symbol < fills[j].Symbol
		}
		return fills[i].OrderID < fills[j].OrderID
	})
	return fills
}

// PendingCount returns the number of fills still awaiting settlement
func (b *Broker) PendingCount() int {
	n := 0
	for _, fills := range b.queue {
		n += len(fills)
	}
	return n
}

// UnfilledQuantity returns the cumulative quantity that was never executed:
// dropped remainders plus carried remainders still outstanding.
func (b *Broker) UnfilledQuantity() decimal.Decimal {
	total := b.unfilled
	for _, c := range b.carried {
		total = total.Add(c.order.Quantity)
	}
	return total
}

// fillPrice applies symmetric slippage: buys pay up, sells receive less
func (b *Broker) fillPrice(side types.OrderSide, close decimal.Decimal) decimal.Decimal {
	slip := b.cfg.SlippageBps.Div(bpsDivisor)
	if side == types.OrderSideBuy {
		return close.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return close.Mul(decimal.NewFromInt(1).Sub(slip))
}
