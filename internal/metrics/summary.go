// Package metrics summarizes completed runs into flat statistics reports.
// Everything here is a pure function of the run result; nothing mutates
// its inputs.
package metrics

import (
	"math"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// periodsPerYear annualizes daily-bar statistics
const periodsPerYear = 252.0

// Report is a flat key to value mapping with stable insertion order,
// so serialized reports line up row for row across runs.
type Report struct {
	keys   []string
	values map[string]float64
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{values: make(map[string]float64)}
}

// Set records a value, preserving first-insertion key order
func (r *Report) Set(key string, value float64) {
	if _, seen := r.values[key]; !seen {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns a value and whether it was set
func (r *Report) Get(key string) (float64, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order
func (r *Report) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Summarize reduces a run to its statistics report. benchmarkReturns, when
// non-empty, must be aligned bar-for-bar with the equity curve's returns
// and adds Beta and Alpha.
func Summarize(result *types.RunResult, benchmarkReturns []float64) *Report {
	report := NewReport()

	equity := make([]float64, len(result.EquityCurve))
	for i, point := range result.EquityCurve {
		equity[i] = point.Equity.InexactFloat64()
	}
	returns := barReturns(equity)

	initial := result.InitialCash.InexactFloat64()
	final := result.FinalEquity().InexactFloat64()

	totalReturn := 0.0
	if initial != 0 {
		totalReturn = final/initial - 1
	}
	report.Set("TotalReturn", totalReturn)
	report.Set("AnnualizedReturn", annualize(totalReturn, len(returns)))

	vol := stddev(returns) * math.Sqrt(periodsPerYear)
	report.Set("AnnualizedVolatility", vol)
	report.Set("SharpeAnnualized", ratio(mean(returns)*periodsPerYear, vol))
	report.Set("Sortino", ratio(mean(returns)*periodsPerYear, downsideDeviation(returns)*math.Sqrt(periodsPerYear)))

	maxDD := maxDrawdown(result.EquityCurve)
	report.Set("MaxDrawdown", maxDD)
	report.Set("Calmar", ratio(annualize(totalReturn, len(returns)), maxDD))

	report.Set("Turnover", turnover(result.Fills, equity))
	report.Set("AvgAbsCorr", finalCorrelation(result.Correlation))
	report.Set("SkippedSymbols", float64(result.SkipSummary.SkippedSymbols()))
	report.Set("SkippedBars", float64(result.SkipSummary.Total))
	report.Set("Fills", float64(len(result.Fills)))
	report.Set("Trades", float64(len(result.Trades)))
	report.Set("WinRate", winRate(result.Trades))
	report.Set("ProfitFactor", profitFactor(result.Trades))

	if len(benchmarkReturns) > 0 {
		beta, alpha := activeStats(returns, benchmarkReturns)
		report.Set("Beta", beta)
		report.Set("Alpha", alpha)
	}

	return report
}

// barReturns converts an equity series to simple per-bar returns
func barReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// annualize scales a total return over n bars to a yearly rate
func annualize(totalReturn float64, bars int) float64 {
	if bars == 0 || totalReturn <= -1 {
		return 0
	}
	return math.Pow(1+totalReturn, periodsPerYear/float64(bars)) - 1
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// downsideDeviation is the root mean square of negative returns only
func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		if x < 0 {
			sum += x * x
		}
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// ratio divides, mapping a zero denominator to zero instead of Inf
func ratio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// maxDrawdown returns the deepest recorded peak-to-trough decline
func maxDrawdown(curve []types.EquityCurvePoint) float64 {
	worst := 0.0
	for _, point := range curve {
		if dd := point.Drawdown.InexactFloat64(); dd > worst {
			worst = dd
		}
	}
	return worst
}

// turnover is total absolute fill notional over average equity
func turnover(fills []types.Fill, equity []float64) float64 {
	avgEquity := mean(equity)
	if avgEquity == 0 {
		return 0
	}
	notional := 0.0
	for i := range fills {
		notional += math.Abs(fills[i].Notional().InexactFloat64())
	}
	return notional / avgEquity
}

// finalCorrelation returns the last defined average absolute correlation,
// or zero when the window never filled
func finalCorrelation(series []types.CorrelationPoint) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Defined {
			return series[i].Value
		}
	}
	return 0
}

func winRate(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for i := range trades {
		if trades[i].PnL.Sign() > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

func profitFactor(trades []types.Trade) float64 {
	grossProfit, grossLoss := 0.0, 0.0
	for i := range trades {
		pnl := trades[i].PnL.InexactFloat64()
		if pnl > 0 {
			grossProfit += pnl
		} else {
			grossLoss -= pnl
		}
	}
	return ratio(grossProfit, grossLoss)
}

// activeStats regresses run returns on benchmark returns over the common
// prefix, giving annualized alpha and the beta slope
func activeStats(returns, benchmark []float64) (beta, alpha float64) {
	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return 0, 0
	}
	r := returns[:n]
	b := benchmark[:n]

	meanR, meanB := mean(r), mean(b)
	var cov, varB float64
	for i := 0; i < n; i++ {
		cov += (r[i] - meanR) * (b[i] - meanB)
		varB += (b[i] - meanB) * (b[i] - meanB)
	}
	beta = ratio(cov, varB)
	alpha = (meanR - beta*meanB) * periodsPerYear
	return beta, alpha
}
