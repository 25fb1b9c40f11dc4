// Package main provides the backtest command line interface: single runs,
// grid search, and walk-forward studies over CSV price data.
package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlas-desktop/backtest-engine/internal/config"
	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/internal/harness"
	"github.com/atlas-desktop/backtest-engine/internal/metrics"
	"github.com/atlas-desktop/backtest-engine/internal/report"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// csvList collects repeatable -csv flags
type csvList []string

func (l *csvList) String() string { return strings.Join(*l, ",") }

func (l *csvList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func main() {
	var csvArgs csvList
	mode := flag.String("mode", "run", "Execution mode (run, grid, walkforward)")
	flag.Var(&csvArgs, "csv", "Price data: symbol=path for long format, bare path for wide format (repeatable)")
	configPath := flag.String("config", "", "Configuration file (YAML or JSON)")
	strategyName := flag.String("strategy", "flat", "Strategy name")
	params := flag.String("params", "", "Strategy parameters, e.g. \"fast=10 slow=30\"")
	gridSpec := flag.String("grid", "", "Parameter grid, e.g. \"fast=5,10 slow=20,50\"")
	benchmark := flag.String("benchmark", "", "Symbol whose returns benchmark the run (Beta/Alpha)")
	outDir := flag.String("out", ".", "Output directory for CSV reports")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	seed := flag.Int64("seed", 0, "Deterministic seed (overrides config when non-zero)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if err := run(logger, *mode, csvArgs, *configPath, *strategyName, *params, *gridSpec, *benchmark, *outDir, *seed); err != nil {
		logger.Error("backtest failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, mode string, csvArgs csvList, configPath, strategyName, params, gridSpec, benchmark, outDir string, seed int64) error {
	cfg, err := config.Load(logger, configPath)
	if err != nil {
		return err
	}
	if seed != 0 {
		cfg.Run.Seed = seed
	}

	seriesMap, err := loadSeries(csvArgs)
	if err != nil {
		return err
	}
	if len(seriesMap) == 0 {
		return types.NewConfigError("no price data: pass at least one -csv")
	}
	logger.Info("price data loaded", zap.Int("symbols", len(seriesMap)))

	registry := strategy.NewRegistry()
	factory := func(p map[string]float64) (strategy.Strategy, error) {
		return registry.Build(strategyName, p)
	}

	switch mode {
	case "run":
		return runSingle(logger, cfg, seriesMap, factory, params, benchmark, outDir)
	case "grid":
		return runGrid(logger, cfg, seriesMap, factory, gridSpec, outDir)
	case "walkforward":
		return runWalkForward(logger, cfg, seriesMap, factory, gridSpec, outDir)
	default:
		return types.NewConfigError("unknown mode %q (want run, grid, or walkforward)", mode)
	}
}

func runSingle(logger *zap.Logger, cfg *config.Config, seriesMap map[string]*types.PriceSeries, factory strategy.Factory, params, benchmark, outDir string) error {
	p, err := parseParams(params)
	if err != nil {
		return err
	}
	strat, err := factory(p)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(logger, cfg.Run)
	if err != nil {
		return err
	}
	result, err := eng.Run(seriesMap, strat)
	if err != nil {
		return err
	}

	summary := metrics.Summarize(result, benchmarkReturns(seriesMap, benchmark))
	for _, key := range summary.Keys() {
		value, _ := summary.Get(key)
		logger.Info("metric", zap.String("name", key), zap.Float64("value", value))
	}

	if err := report.SaveCSV(filepath.Join(outDir, "equity.csv"), func(w io.Writer) error {
		return report.WriteEquityCurve(w, result.EquityCurve)
	}); err != nil {
		return err
	}
	if err := report.SaveCSV(filepath.Join(outDir, "fills.csv"), func(w io.Writer) error {
		return report.WriteFills(w, result.Fills)
	}); err != nil {
		return err
	}
	if err := report.SaveCSV(filepath.Join(outDir, "trades.csv"), func(w io.Writer) error {
		return report.WriteTrades(w, result.Trades)
	}); err != nil {
		return err
	}
	return report.SaveCSV(filepath.Join(outDir, "metrics.csv"), func(w io.Writer) error {
		return report.WriteMetrics(w, summary)
	})
}

func runGrid(logger *zap.Logger, cfg *config.Config, seriesMap map[string]*types.PriceSeries, factory strategy.Factory, gridSpec, outDir string) error {
	grid, err := harness.ParseGridSpec(gridSpec)
	if err != nil {
		return err
	}
	h, err := harness.NewHarness(logger, cfg.Run, cfg.WalkForward, nil)
	if err != nil {
		return err
	}
	candidates, err := h.GridSearch(seriesMap, factory, grid)
	if err != nil {
		return err
	}

	if best, ok := harness.BestCandidate(candidates); ok {
		logger.Info("grid search complete",
			zap.Any("bestParams", candidates[best].Params),
			zap.Float64("bestScore", candidates[best].Score),
		)
	} else {
		logger.Warn("grid search complete: every candidate failed")
	}

	return report.SaveCSV(filepath.Join(outDir, "candidates.csv"), func(w io.Writer) error {
		return report.WriteCandidates(w, candidates)
	})
}

func runWalkForward(logger *zap.Logger, cfg *config.Config, seriesMap map[string]*types.PriceSeries, factory strategy.Factory, gridSpec, outDir string) error {
	grid, err := harness.ParseGridSpec(gridSpec)
	if err != nil {
		return err
	}
	h, err := harness.NewHarness(logger, cfg.Run, cfg.WalkForward, nil)
	if err != nil {
		return err
	}
	folds, err := h.WalkForward(seriesMap, factory, grid)
	if err != nil {
		return err
	}

	logger.Info("walk-forward complete", zap.Int("folds", len(folds)))
	return report.SaveCSV(filepath.Join(outDir, "folds.csv"), func(w io.Writer) error {
		return report.WriteFoldReports(w, folds)
	})
}

// loadSeries resolves every -csv argument. symbol=path pairs load the long
// format; bare paths load the wide *_Close format.
func loadSeries(csvArgs csvList) (map[string]*types.PriceSeries, error) {
	out := make(map[string]*types.PriceSeries)
	for _, arg := range csvArgs {
		if symbol, path, ok := strings.Cut(arg, "="); ok && !strings.Contains(symbol, string(os.PathSeparator)) {
			series, err := data.LoadSeriesCSV(path, symbol)
			if err != nil {
				return nil, err
			}
			out[symbol] = series
			continue
		}
		wide, err := data.LoadWideCSV(arg)
		if err != nil {
			return nil, err
		}
		for symbol, series := range wide {
			if _, dup := out[symbol]; dup {
				return nil, types.NewConfigError("symbol %q loaded twice", symbol)
			}
			out[symbol] = series
		}
	}
	return out, nil
}

// parseParams reads single-valued strategy parameters from grid syntax
func parseParams(raw string) (map[string]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]float64{}, nil
	}
	grid, err := harness.ParseGridSpec(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(grid))
	for name, values := range grid {
		if len(values) != 1 {
			return nil, types.NewConfigError("parameter %q has %d values, want exactly one", name, len(values))
		}
		out[name] = values[0]
	}
	return out, nil
}

// benchmarkReturns derives simple returns from one loaded symbol's closes
func benchmarkReturns(seriesMap map[string]*types.PriceSeries, symbol string) []float64 {
	if symbol == "" {
		return nil
	}
	series, ok := seriesMap[symbol]
	if !ok || len(series.Bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series.Bars)-1)
	for i := 1; i < len(series.Bars); i++ {
		prev := series.Bars[i-1].Close.InexactFloat64()
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, series.Bars[i].Close.InexactFloat64()/prev-1)
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
