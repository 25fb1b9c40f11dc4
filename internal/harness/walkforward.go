// Package harness orchestrates repeated engine runs for grid search and
// walk-forward parameter selection.
package harness

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/internal/metrics"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/workers"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CandidateFailure marks one parameter set that errored or timed out.
// It is isolated: logged, excluded from selection, never fatal to the
// harness run.
type CandidateFailure struct {
	Params map[string]float64
	Reason string
	Cause  error
}

func (e *CandidateFailure) Error() string {
	return fmt.Sprintf("candidate %v failed: %s", e.Params, e.Reason)
}

func (e *CandidateFailure) Unwrap() error { return e.Cause }

// Harness runs grid-search and walk-forward studies. Candidate simulations
// share nothing but the read-only price series, so they evaluate in
// parallel on a bounded worker pool.
type Harness struct {
	logger     *zap.Logger
	runCfg     types.RunConfig
	cfg        types.WalkForwardConfig
	registerer prometheus.Registerer
}

// NewHarness validates both configurations and creates a harness.
// A non-nil registerer instruments the candidate pool.
func NewHarness(logger *zap.Logger, runCfg types.RunConfig, cfg types.WalkForwardConfig, registerer prometheus.Registerer) (*Harness, error) {
	if err := runCfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Harness{logger: logger, runCfg: runCfg, cfg: cfg, registerer: registerer}, nil
}

// span is one fold's half-open index ranges on the union timeline
type span struct {
	trainStart, trainEnd int
	testStart, testEnd   int
}

// folds partitions n bars into walk-forward spans. The train window expands
// from the start when anchored and rolls otherwise; test windows are
// contiguous and never overlap their own train range.
func (h *Harness) folds(n int) []span {
	step := h.cfg.Step
	if step <= 0 {
		step = h.cfg.TestWindow
	}

	var out []span
	for testStart := h.cfg.TrainWindow; testStart+h.cfg.TestWindow <= n; testStart += step {
		trainStart := 0
		if !h.cfg.Anchored {
			trainStart = testStart - h.cfg.TrainWindow
		}
		out = append(out, span{
			trainStart: trainStart,
			trainEnd:   testStart,
			testStart:  testStart,
			testEnd:    testStart + h.cfg.TestWindow,
		})
	}
	return out
}

// WalkForward selects the best in-sample candidate per fold and scores it
// out-of-sample. Folds are reported in index order. A fold where every
// candidate fails carries its failure counts and no winning parameters.
func (h *Harness) WalkForward(seriesMap map[string]*types.PriceSeries, factory strategy.Factory, grid map[string][]float64) ([]types.FoldReport, error) {
	set := data.NewSeriesSet(seriesMap)
	timeline := set.Timeline()
	if len(timeline) < h.cfg.TrainWindow+h.cfg.TestWindow {
		return nil, types.NewConfigError("need at least %d bars for one fold, got %d",
			h.cfg.TrainWindow+h.cfg.TestWindow, len(timeline))
	}

	candidates := EnumerateGrid(grid)
	spans := h.folds(len(timeline))
	h.logger.Info("walk-forward starting",
		zap.Int("folds", len(spans)),
		zap.Int("candidates", len(candidates)),
		zap.Bool("anchored", h.cfg.Anchored),
		zap.String("scoreMetric", h.cfg.ScoreMetric),
	)

	pool := workers.NewPool(h.logger, &workers.PoolConfig{
		Name:            "walkforward",
		NumWorkers:      h.cfg.Workers,
		QueueSize:       len(candidates) + 1,
		ShutdownTimeout: 10 * time.Second,
	}, h.registerer)
	pool.Start()
	defer pool.Stop()

	reports := make([]types.FoldReport, 0, len(spans))
	for i, s := range spans {
		trainSeries := set.SliceByTime(timeline[s.trainStart], timeline[s.testStart])
		testSeries := set.SliceByTime(timeline[s.testStart], exclusiveEnd(timeline, s.testEnd))

		outcomes := h.evaluateAll(pool, trainSeries, factory, candidates)
		winner, inSample, failed := h.selectWinner(candidates, outcomes)

		fold := types.Fold{
			Index:      i,
			TrainStart: timeline[s.trainStart],
			TrainEnd:   timeline[s.trainEnd-1],
			TestStart:  timeline[s.testStart],
			TestEnd:    timeline[s.testEnd-1],
		}
		report := types.FoldReport{
			Fold:             fold,
			ScoreMetric:      h.cfg.ScoreMetric,
			CandidatesTried:  len(candidates),
			CandidatesFailed: failed,
		}

		if winner < 0 {
			h.logger.Error("fold failed: no candidate survived selection",
				zap.Int("fold", i),
				zap.Int("candidates", len(candidates)),
			)
			reports = append(reports, report)
			continue
		}

		report.Fold.Params = candidates[winner].Params
		report.InSampleScore = scoreFromReport(inSample, h.cfg.ScoreMetric)
		report.InSampleStats = reportToMap(inSample)

		out := h.evaluateCandidate(testSeries, factory, candidates[winner])
		if out.err != nil {
			h.logger.Error("out-of-sample run failed",
				zap.Int("fold", i),
				zap.Any("params", candidates[winner].Params),
				zap.Error(out.err),
			)
		} else {
			report.OutSampleStats = reportToMap(out.report)
		}

		h.logger.Info("fold complete",
			zap.Int("fold", i),
			zap.Any("params", report.Fold.Params),
			zap.Float64("inSampleScore", report.InSampleScore),
		)
		reports = append(reports, report)
	}

	return reports, nil
}

// CandidateReport is one grid-search result in enumeration order
type CandidateReport struct {
	Params map[string]float64 `json:"params"`
	Score  float64            `json:"score"`
	Stats  map[string]float64 `json:"stats"`
	Failed bool               `json:"failed"`
	Reason string             `json:"reason,omitempty"`
}

// GridSearch evaluates every candidate over the full series, no folds.
// Results keep enumeration order; BestCandidate picks the winner.
func (h *Harness) GridSearch(seriesMap map[string]*types.PriceSeries, factory strategy.Factory, grid map[string][]float64) ([]CandidateReport, error) {
	candidates := EnumerateGrid(grid)
	h.logger.Info("grid search starting", zap.Int("candidates", len(candidates)))

	pool := workers.NewPool(h.logger, &workers.PoolConfig{
		Name:            "gridsearch",
		NumWorkers:      h.cfg.Workers,
		QueueSize:       len(candidates) + 1,
		ShutdownTimeout: 10 * time.Second,
	}, h.registerer)
	pool.Start()
	defer pool.Stop()

	outcomes := h.evaluateAll(pool, seriesMap, factory, candidates)

	reports := make([]CandidateReport, len(candidates))
	for i, c := range candidates {
		if outcomes[i].err != nil {
			reports[i] = CandidateReport{Params: c.Params, Failed: true, Reason: outcomes[i].err.Error()}
			continue
		}
		reports[i] = CandidateReport{
			Params: c.Params,
			Score:  scoreFromReport(outcomes[i].report, h.cfg.ScoreMetric),
			Stats:  reportToMap(outcomes[i].report),
		}
	}
	return reports, nil
}

// BestCandidate returns the index of the highest-scoring surviving
// candidate, first seen winning ties. ok is false when all failed.
func BestCandidate(reports []CandidateReport) (best int, ok bool) {
	best = -1
	for i := range reports {
		if reports[i].Failed {
			continue
		}
		if best < 0 || reports[i].Score > reports[best].Score {
			best = i
		}
	}
	return best, best >= 0
}

// candidateOutcome is one evaluated candidate's report or failure
type candidateOutcome struct {
	report *metrics.Report
	err    error
}

// evaluateAll runs every candidate over the series on the pool. Each task
// owns exactly one result slot, so the reducer reads race-free after the
// wait completes.
func (h *Harness) evaluateAll(pool *workers.Pool, seriesMap map[string]*types.PriceSeries, factory strategy.Factory, candidates []Candidate) []candidateOutcome {
	outcomes := make([]candidateOutcome, len(candidates))
	var wg sync.WaitGroup

	for i, c := range candidates {
		i, c := i, c
		wg.Add(1)
		task := func() error {
			defer wg.Done()
			outcomes[i] = h.evaluateCandidate(seriesMap, factory, c)
			return outcomes[i].err
		}
		if err := pool.SubmitFunc(task); err != nil {
			// Queue pressure falls back to inline evaluation.
			task()
		}
	}
	wg.Wait()
	return outcomes
}

// evaluateCandidate runs one simulation, honoring the candidate timeout.
// A timed-out simulation's eventual result is discarded.
func (h *Harness) evaluateCandidate(seriesMap map[string]*types.PriceSeries, factory strategy.Factory, c Candidate) candidateOutcome {
	done := make(chan candidateOutcome, 1)
	go func() {
		done <- h.runCandidate(seriesMap, factory, c)
	}()

	if h.cfg.CandidateTimeout <= 0 {
		return <-done
	}
	select {
	case out := <-done:
		return out
	case <-time.After(h.cfg.CandidateTimeout):
		return candidateOutcome{err: &CandidateFailure{
			Params: c.Params,
			Reason: fmt.Sprintf("timed out after %s", h.cfg.CandidateTimeout),
		}}
	}
}

// runCandidate builds the strategy, runs the engine, and summarizes
func (h *Harness) runCandidate(seriesMap map[string]*types.PriceSeries, factory strategy.Factory, c Candidate) candidateOutcome {
	strat, err := factory(c.Params)
	if err != nil {
		return candidateOutcome{err: &CandidateFailure{Params: c.Params, Reason: "strategy construction", Cause: err}}
	}

	cfg := h.runCfg
	cfg.ID = fmt.Sprintf("candidate-%d", c.Index)
	eng, err := engine.NewEngine(h.logger, cfg)
	if err != nil {
		return candidateOutcome{err: &CandidateFailure{Params: c.Params, Reason: "engine construction", Cause: err}}
	}

	result, err := eng.Run(seriesMap, strat)
	if err != nil {
		return candidateOutcome{err: &CandidateFailure{Params: c.Params, Reason: "simulation", Cause: err}}
	}
	return candidateOutcome{report: metrics.Summarize(result, nil)}
}

// selectWinner picks the surviving candidate with the highest in-sample
// score. Strict greater-than comparison keeps the first-seen candidate on
// ties, which makes selection reproducible across runs.
func (h *Harness) selectWinner(candidates []Candidate, outcomes []candidateOutcome) (winner int, report *metrics.Report, failed int) {
	winner = -1
	bestScore := 0.0
	for i := range candidates {
		if outcomes[i].err != nil {
			h.logger.Warn("candidate excluded from selection",
				zap.Any("params", candidates[i].Params),
				zap.Error(outcomes[i].err),
			)
			failed++
			continue
		}
		score := scoreFromReport(outcomes[i].report, h.cfg.ScoreMetric)
		if winner < 0 || score > bestScore {
			winner = i
			bestScore = score
			report = outcomes[i].report
		}
	}
	return winner, report, failed
}

// scoreKeyAliases maps CLI-friendly metric names to report keys
var scoreKeyAliases = map[string]string{
	"sharpe":       "SharpeAnnualized",
	"sortino":      "Sortino",
	"calmar":       "Calmar",
	"return":       "TotalReturn",
	"total_return": "TotalReturn",
}

// scoreFromReport resolves the configured metric against a report,
// accepting either an alias or an exact report key
func scoreFromReport(report *metrics.Report, metric string) float64 {
	key := metric
	if alias, ok := scoreKeyAliases[metric]; ok {
		key = alias
	}
	v, _ := report.Get(key)
	return v
}

func reportToMap(report *metrics.Report) map[string]float64 {
	out := make(map[string]float64, len(report.Keys()))
	for _, key := range report.Keys() {
		v, _ := report.Get(key)
		out[key] = v
	}
	return out
}

// exclusiveEnd returns a timestamp strictly after index end-1 but not past
// any later timeline entry, for half-open series slicing
func exclusiveEnd(timeline []time.Time, end int) time.Time {
	if end < len(timeline) {
		return timeline[end]
	}
	return timeline[len(timeline)-1].Add(time.Nanosecond)
}
