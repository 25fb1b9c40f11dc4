// Package types provides shared type definitions for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV candlestick for one symbol.
// Fields that were missing or unparseable in the source data are zero;
// the data guard classifies bars with non-positive prices as invalid.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// PriceSeries is an ordered sequence of bars for one symbol.
// It is read-only once a simulation starts.
type PriceSeries struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// SignalMode dictates how a signal value is interpreted
type SignalMode string

const (
	SignalModeTarget SignalMode = "target" // size position to the requested level
	SignalModeDelta  SignalMode = "delta"  // apply the requested change directly
)

// SizeBasis dictates the unit of a signal value
type SizeBasis string

const (
	SizeBasisQuantity SizeBasis = "quantity" // units of the asset
	SizeBasisNotional SizeBasis = "notional" // cash value at the current close
	SizeBasisWeight   SizeBasis = "weight"   // fraction of current equity
)

// Signal is one strategy output for one symbol at one bar
type Signal struct {
	Symbol string          `json:"symbol"`
	Mode   SignalMode      `json:"mode"`
	Basis  SizeBasis       `json:"basis"`
	Value  decimal.Decimal `json:"value"`
}

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a request to transact a quantity in one asset at a given bar.
// Quantity is always positive; Side carries the direction.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	BarIndex  int             `json:"barIndex"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SignedQuantity returns the order quantity with buys positive and sells negative
func (o *Order) SignedQuantity() decimal.Decimal {
	if o.Side == OrderSideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

// Fill is the realized execution of part or all of an order.
// Immutable once created. BarIndex is the settlement bar, which trails the
// order's submission bar by the configured latency.
type Fill struct {
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	BarIndex  int             `json:"barIndex"`
	Timestamp time.Time       `json:"timestamp"`
	Remainder decimal.Decimal `json:"remainder"`
}

// Notional returns the cash value of the fill
func (f *Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// Position is the current signed holding in one asset
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	MarkedAt  time.Time       `json:"markedAt"`
}

// MarketValue returns the position's mark-to-market value at its last valid price
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.LastPrice)
}

// Trade represents one closed round trip derived from fills
type Trade struct {
	Symbol     string          `json:"symbol"`
	Direction  string          `json:"direction"` // "long" or "short"
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entryTime"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitTime   time.Time       `json:"exitTime"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	PnL        decimal.Decimal `json:"pnl"`
}

// EquityCurvePoint is one appended entry per processed bar
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// SkipReason classifies why a symbol's bar was excluded
type SkipReason string

const (
	SkipReasonBadPrice     SkipReason = "bad_price"      // missing, zero, or negative OHLC field
	SkipReasonOHLCRange    SkipReason = "ohlc_range"     // low ≤ open,close ≤ high violated
	SkipReasonDuplicateTS  SkipReason = "duplicate_ts"   // timestamp repeats the prior bar
	SkipReasonOutOfOrder   SkipReason = "out_of_order"   // timestamp not strictly increasing
	SkipReasonAlignmentGap SkipReason = "alignment_gap"  // no bar where other symbols have data
)

// SkipSummary aggregates guard exclusions over a run.
// Total counts symbol-bars, not distinct symbols.
type SkipSummary struct {
	Total   int                           `json:"total"`
	Symbols map[string]int                `json:"symbols"`
	Reasons map[string]map[SkipReason]int `json:"reasons"`
}

// NewSkipSummary creates an empty skip summary
func NewSkipSummary() SkipSummary {
	return SkipSummary{
		Symbols: make(map[string]int),
		Reasons: make(map[string]map[SkipReason]int),
	}
}

// Record adds one exclusion to the summary
func (s *SkipSummary) Record(symbol string, reason SkipReason) {
	s.Total++
	s.Symbols[symbol]++
	if s.Reasons[symbol] == nil {
		s.Reasons[symbol] = make(map[SkipReason]int)
	}
	s.Reasons[symbol][reason]++
}

// SkippedSymbols returns the number of distinct symbols that were skipped at least once
func (s *SkipSummary) SkippedSymbols() int {
	return len(s.Symbols)
}

// CorrelationPoint is one rolling average-absolute-correlation observation.
// Defined is false until enough aligned observations exist for any pair.
type CorrelationPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Defined   bool      `json:"defined"`
}

// RunResult bundles everything produced by a completed simulation.
// All slices are frozen once the run returns.
type RunResult struct {
	ID            string              `json:"id"`
	EquityCurve   []EquityCurvePoint  `json:"equityCurve"`
	Fills         []Fill              `json:"fills"`
	Trades        []Trade             `json:"trades"`
	SkipSummary   SkipSummary         `json:"skipSummary"`
	Correlation   []CorrelationPoint  `json:"correlation"`
	Positions     map[string]Position `json:"positions"`
	InitialCash   decimal.Decimal     `json:"initialCash"`
	BarsProcessed int                 `json:"barsProcessed"`
	StartedAt     time.Time           `json:"startedAt"`
	CompletedAt   time.Time           `json:"completedAt"`
	Duration      time.Duration       `json:"duration"`
}

// FinalEquity returns the last equity curve value, or initial cash for an empty curve
func (r *RunResult) FinalEquity() decimal.Decimal {
	if len(r.EquityCurve) == 0 {
		return r.InitialCash
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}

// Fold is one walk-forward unit: train range, test range, and the winner
type Fold struct {
	Index      int                `json:"index"`
	TrainStart time.Time          `json:"trainStart"`
	TrainEnd   time.Time          `json:"trainEnd"`
	TestStart  time.Time          `json:"testStart"`
	TestEnd    time.Time          `json:"testEnd"`
	Params     map[string]float64 `json:"params"`
}

// FoldReport carries a fold's winning parameters and both metric sets
type FoldReport struct {
	Fold             Fold               `json:"fold"`
	ScoreMetric      string             `json:"scoreMetric"`
	InSampleScore    float64            `json:"inSampleScore"`
	InSampleStats    map[string]float64 `json:"inSampleStats"`
	OutSampleStats   map[string]float64 `json:"outSampleStats"`
	CandidatesTried  int                `json:"candidatesTried"`
	CandidatesFailed int                `json:"candidatesFailed"`
}
