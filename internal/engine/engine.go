// Package engine runs the bar-by-bar simulation loop, coordinating the
// guard, strategy, portfolio, broker, and correlation tracker.
package engine

import (
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/broker"
	"github.com/atlas-desktop/backtest-engine/internal/correlation"
	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/portfolio"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine advances simulated time one bar at a time over the union timeline
// of all symbols. A single run is strictly sequential: bar t+1 is not
// processed until bar t's settlement and recording are complete.
type Engine struct {
	logger *zap.Logger
	cfg    types.RunConfig
}

// NewEngine validates the configuration and creates an engine
func NewEngine(logger *zap.Logger, cfg types.RunConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{logger: logger, cfg: cfg}, nil
}

// Run simulates the strategy over the given series and returns the frozen
// result. Per-symbol data defects degrade gracefully mid-run; the only
// fatal conditions are broker construction failure and an input set with
// zero usable symbols.
func (e *Engine) Run(seriesMap map[string]*types.PriceSeries, strat strategy.Strategy) (*types.RunResult, error) {
	startedAt := time.Now()

	set := data.NewSeriesSet(seriesMap)
	guard := data.NewGuard(e.logger, set)
	if len(guard.UsableSymbols()) == 0 {
		return nil, types.NewConfigError("no usable symbols: every series failed the data guard")
	}

	brk, err := broker.NewBroker(e.logger, e.cfg)
	if err != nil {
		return nil, err
	}
	pf := portfolio.NewPortfolio(e.logger, e.cfg.InitialCapital)
	tracker := correlation.NewTracker(e.cfg.CorrelationWindow, set.Symbols())

	runID := e.cfg.ID
	if runID == "" {
		runID = uuid.New().String()
	}
	e.logger.Info("run starting",
		zap.String("runId", runID),
		zap.Int("symbols", len(set.Symbols())),
		zap.Int("bars", len(set.Timeline())),
	)

	histories := make(map[string][]float64, len(set.Symbols()))
	lastClose := make(map[string]float64, len(set.Symbols()))

	result := &types.RunResult{
		ID:          runID,
		InitialCash: e.cfg.InitialCapital,
		StartedAt:   startedAt,
	}

	for t, ts := range set.Timeline() {
		okSymbols, checks := guard.Check(ts)

		valid := make(map[string]types.Bar, len(okSymbols))
		for _, symbol := range okSymbols {
			bar := checks[symbol].Bar
			valid[symbol] = bar
			histories[symbol] = append(histories[symbol], bar.Close.InexactFloat64())
		}

		signals := strat.OnBar(strategy.MarketState{
			BarIndex:  t,
			Timestamp: ts,
			Symbols:   okSymbols,
			Bars:      valid,
			History:   histories,
		})

		// Carried remainders replay before this bar's fresh orders so a
		// capped order's leftover is never starved by newer flow.
		brk.ResubmitCarried(t, valid)
		for _, order := range pf.ApplySignals(signals, valid, t) {
			brk.Submit(order, valid[order.Symbol])
		}

		due := brk.Due(t)
		pf.Settle(due)
		result.Fills = append(result.Fills, due...)

		result.EquityCurve = append(result.EquityCurve, pf.MarkToMarket(valid, ts))

		returns := make(map[string]float64, len(okSymbols))
		for _, symbol := range okSymbols {
			close := valid[symbol].Close.InexactFloat64()
			if prev, seen := lastClose[symbol]; seen && prev != 0 {
				returns[symbol] = close/prev - 1
			}
			lastClose[symbol] = close
		}
		tracker.Update(returns)
		result.Correlation = append(result.Correlation, tracker.Snapshot(ts))

		result.BarsProcessed++
	}

	result.Trades = pf.Trades()
	result.Positions = pf.Positions()
	result.SkipSummary = guard.Summary()
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	e.logger.Info("run complete",
		zap.String("runId", runID),
		zap.Int("bars", result.BarsProcessed),
		zap.Int("fills", len(result.Fills)),
		zap.Int("skippedSymbols", result.SkipSummary.SkippedSymbols()),
		zap.String("finalEquity", result.FinalEquity().String()),
		zap.Duration("elapsed", result.Duration),
	)
	return result, nil
}
