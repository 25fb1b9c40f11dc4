// Package portfolio owns per-asset positions and aggregate cash/equity,
// translating strategy signals into orders and applying settled fills.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio tracks cash, positions, peak equity, and the realized trade log.
// Positions are mutated only by applying fills; each asset is sized and
// executed independently with no cross-asset netting.
type Portfolio struct {
	logger      *zap.Logger
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*position
	peakEquity  decimal.Decimal
	trades      []types.Trade
	open        map[string]*openTrade
	orderSeq    int
}

// position is the mutable per-asset state. Quantity is signed; LastPrice
// holds the most recent valid close so a symbol guarded out for the rest
// of a run is still marked at its last known good price.
type position struct {
	quantity  decimal.Decimal
	avgPrice  decimal.Decimal
	lastPrice decimal.Decimal
	markedAt  time.Time
}

// openTrade pairs entries with exits for the trade log
type openTrade struct {
	entryTime  time.Time
	entryPrice decimal.Decimal
	quantity   decimal.Decimal
	direction  string
}

// NewPortfolio creates a portfolio with the given starting cash
func NewPortfolio(logger *zap.Logger, initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		logger:      logger,
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*position),
		peakEquity:  initialCash,
		open:        make(map[string]*openTrade),
	}
}

// ApplySignals converts the bar's signals into orders. Symbols without a
// valid bar are skipped entirely: no order, position held unchanged.
// Orders are returned in signal order so execution stays deterministic.
func (p *Portfolio) ApplySignals(signals []types.Signal, valid map[string]types.Bar, barIndex int) []types.Order {
	var orders []types.Order

	for _, signal := range signals {
		bar, ok := valid[signal.Symbol]
		if !ok {
			continue
		}
		if bar.Close.LessThanOrEqual(decimal.Zero) {
			continue
		}

		desired := p.sizeSignal(signal, bar.Close)
		delta := desired
		if signal.Mode == types.SignalModeTarget {
			delta = desired.Sub(p.quantityOf(signal.Symbol))
		}
		if delta.IsZero() {
			continue
		}

		side := types.OrderSideBuy
		if delta.Sign() < 0 {
			side = types.OrderSideSell
		}
		p.orderSeq++
		orders = append(orders, types.Order{
			ID:        fmt.Sprintf("ord-%08d", p.orderSeq),
			Symbol:    signal.Symbol,
			Side:      side,
			Quantity:  delta.Abs(),
			BarIndex:  barIndex,
			CreatedAt: bar.Timestamp,
		})
	}

	return orders
}

// sizeSignal converts a signal value into an asset quantity
func (p *Portfolio) sizeSignal(signal types.Signal, close decimal.Decimal) decimal.Decimal {
	switch signal.Basis {
	case types.SizeBasisNotional:
		return signal.Value.Div(close)
	case types.SizeBasisWeight:
		return signal.Value.Mul(p.equity()).Div(close)
	default:
		return signal.Value
	}
}

// Settle applies settled fills to cash and positions and returns how many
// positions changed
func (p *Portfolio) Settle(fills []types.Fill) int {
	updated := 0
	for _, fill := range fills {
		p.applyFill(fill)
		updated++
	}
	return updated
}

// applyFill mutates cash, position, and the trade log for one fill
func (p *Portfolio) applyFill(fill types.Fill) {
	qty := fill.Quantity
	if fill.Side == types.OrderSideSell {
		qty = qty.Neg()
	}

	pos := p.positions[fill.Symbol]
	if pos == nil {
		pos = &position{lastPrice: fill.Price}
		p.positions[fill.Symbol] = pos
	}

	old := pos.quantity
	next := old.Add(qty)

	// Buying reduces cash; selling adds to it.
	p.cash = p.cash.Sub(qty.Mul(fill.Price))

	switch {
	case old.IsZero():
		pos.avgPrice = fill.Price
		p.openPosition(fill.Symbol, next, fill.Price, fill.Timestamp)
	case old.Sign() == qty.Sign():
		// Adding to an existing position: volume-weighted entry price.
		totalAbs := old.Abs().Add(qty.Abs())
		pos.avgPrice = pos.avgPrice.Mul(old.Abs()).Add(fill.Price.Mul(qty.Abs())).Div(totalAbs)
		if t := p.open[fill.Symbol]; t != nil {
			t.quantity = next
			t.entryPrice = pos.avgPrice
		}
	default:
		p.closeAgainst(fill.Symbol, pos, old, next, qty, fill.Price, fill.Timestamp)
	}

	pos.quantity = next
	pos.lastPrice = fill.Price
	pos.markedAt = fill.Timestamp
	if next.IsZero() {
		pos.avgPrice = decimal.Zero
		delete(p.positions, fill.Symbol)
	}
}

// openPosition seeds a trade-log entry for a freshly opened position
func (p *Portfolio) openPosition(symbol string, qty, price decimal.Decimal, ts time.Time) {
	direction := "long"
	if qty.Sign() < 0 {
		direction = "short"
	}
	p.open[symbol] = &openTrade{
		entryTime:  ts,
		entryPrice: price,
		quantity:   qty,
		direction:  direction,
	}
}

// closeAgainst handles a fill that offsets the existing position, including
// full closes and reversals that seed a new trade for the residual exposure
func (p *Portfolio) closeAgainst(symbol string, pos *position, old, next, qty, price decimal.Decimal, ts time.Time) {
	closedQty := decimal.Min(qty.Abs(), old.Abs())

	var pnl decimal.Decimal
	if old.Sign() > 0 {
		pnl = price.Sub(pos.avgPrice).Mul(closedQty)
	} else {
		pnl = pos.avgPrice.Sub(price).Mul(closedQty)
	}

	t := p.open[symbol]
	if t != nil && qty.Abs().GreaterThanOrEqual(old.Abs()) {
		p.trades = append(p.trades, types.Trade{
			Symbol:     symbol,
			Direction:  t.direction,
			Quantity:   closedQty,
			EntryTime:  t.entryTime,
			EntryPrice: t.entryPrice,
			ExitTime:   ts,
			ExitPrice:  price,
			PnL:        pnl,
		})
		delete(p.open, symbol)
		pos.avgPrice = decimal.Zero
	} else if t != nil {
		t.quantity = next
	}

	// Reversal: the residual exposure is a brand-new trade at the fill price.
	if !next.IsZero() && old.Sign()*next.Sign() < 0 {
		pos.avgPrice = price
		p.openPosition(symbol, next, price, ts)
	}
}

// MarkToMarket refreshes last prices from the bar's valid closes and
// returns the equity curve point for this bar. Symbols without a valid
// bar keep their previous mark.
func (p *Portfolio) MarkToMarket(valid map[string]types.Bar, ts time.Time) types.EquityCurvePoint {
	for symbol, pos := range p.positions {
		if bar, ok := valid[symbol]; ok {
			pos.lastPrice = bar.Close
			pos.markedAt = bar.Timestamp
		}
	}

	equity := p.equity()
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}

	drawdown := decimal.Zero
	if p.peakEquity.GreaterThan(decimal.Zero) {
		drawdown = p.peakEquity.Sub(equity).Div(p.peakEquity)
	}

	return types.EquityCurvePoint{
		Timestamp: ts,
		Equity:    equity,
		Cash:      p.cash,
		Drawdown:  drawdown,
	}
}

// equity is cash plus the mark-to-market value of every position
func (p *Portfolio) equity() decimal.Decimal {
	total := p.cash
	for _, pos := range p.positions {
		total = total.Add(pos.quantity.Mul(pos.lastPrice))
	}
	return total
}

// Cash returns available cash
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// Equity returns total equity
func (p *Portfolio) Equity() decimal.Decimal { return p.equity() }

// Quantity returns the signed holding in one symbol
func (p *Portfolio) Quantity(symbol string) decimal.Decimal { return p.quantityOf(symbol) }

func (p *Portfolio) quantityOf(symbol string) decimal.Decimal {
	if pos := p.positions[symbol]; pos != nil {
		return pos.quantity
	}
	return decimal.Zero
}

// Positions returns a frozen copy of all open positions
func (p *Portfolio) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = types.Position{
			Symbol:    symbol,
			Quantity:  pos.quantity,
			AvgPrice:  pos.avgPrice,
			LastPrice: pos.lastPrice,
			MarkedAt:  pos.markedAt,
		}
	}
	return out
}

// Trades returns the realized trade log in close order
func (p *Portfolio) Trades() []types.Trade {
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Symbols returns all symbols with open positions, sorted
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.positions))
	for symbol := range p.positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
