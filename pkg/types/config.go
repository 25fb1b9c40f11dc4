// Package types provides configuration types for the backtest engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RemainderPolicy dictates what happens to the unfilled part of a capped order
type RemainderPolicy string

const (
	// RemainderDrop discards the unfilled remainder.
	RemainderDrop RemainderPolicy = "drop"
	// RemainderCarry resubmits the remainder at the next bar's price,
	// still subject to the liquidity cap.
	RemainderCarry RemainderPolicy = "carry"
)

// RunConfig configures a single simulation run.
// It is passed by value into every component constructor; no process-wide
// mutable configuration survives across runs.
type RunConfig struct {
	ID             string          `json:"id" mapstructure:"id"`
	InitialCapital decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`

	// Execution model
	SlippageBps  decimal.Decimal `json:"slippageBps" mapstructure:"slippage_bps"`
	LatencyBars  int             `json:"latencyBars" mapstructure:"latency_bars"`
	LiquidityCap decimal.Decimal `json:"liquidityCap" mapstructure:"liquidity_cap"` // unit quantity per bar per order; zero disables the cap
	Remainder    RemainderPolicy `json:"remainder" mapstructure:"remainder"`

	// Correlation tracking
	CorrelationWindow int `json:"correlationWindow" mapstructure:"correlation_window"`

	// Seed for any randomized strategy state; two runs with the same
	// inputs and seed produce identical results.
	Seed int64 `json:"seed" mapstructure:"seed"`
}

// DefaultRunConfig returns a RunConfig with conventional defaults
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialCapital:    decimal.NewFromInt(100_000),
		SlippageBps:       decimal.Zero,
		LatencyBars:       0,
		LiquidityCap:      decimal.Zero,
		Remainder:         RemainderDrop,
		CorrelationWindow: 90,
	}
}

// Validate checks the configuration before a simulation starts
func (c *RunConfig) Validate() error {
	if c.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return NewConfigError("initial capital must be positive, got %s", c.InitialCapital)
	}
	if c.SlippageBps.LessThan(decimal.Zero) {
		return NewConfigError("slippage bps must be non-negative, got %s", c.SlippageBps)
	}
	if c.LatencyBars < 0 {
		return NewConfigError("latency bars must be non-negative, got %d", c.LatencyBars)
	}
	if c.LiquidityCap.LessThan(decimal.Zero) {
		return NewConfigError("liquidity cap must be non-negative, got %s", c.LiquidityCap)
	}
	switch c.Remainder {
	case RemainderDrop, RemainderCarry, "":
	default:
		return NewConfigError("unknown remainder policy %q", c.Remainder)
	}
	if c.CorrelationWindow < 2 {
		return NewConfigError("correlation window must be at least 2, got %d", c.CorrelationWindow)
	}
	return nil
}

// WalkForwardConfig configures fold generation and candidate selection
type WalkForwardConfig struct {
	TrainWindow int    `json:"trainWindow" mapstructure:"train_window"` // bars in the first train window
	TestWindow  int    `json:"testWindow" mapstructure:"test_window"`   // bars per test window
	Step        int    `json:"step" mapstructure:"step"`                // bars to advance per fold; defaults to TestWindow
	Anchored    bool   `json:"anchored" mapstructure:"anchored"`        // expanding train window when true, rolling otherwise
	ScoreMetric string `json:"scoreMetric" mapstructure:"score_metric"`

	// Harness parallelism
	Workers          int           `json:"workers" mapstructure:"workers"`
	CandidateTimeout time.Duration `json:"candidateTimeout" mapstructure:"candidate_timeout"` // zero disables the timeout
}

// DefaultWalkForwardConfig returns conventional walk-forward settings
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{
		TrainWindow: 504,
		TestWindow:  252,
		Anchored:    true,
		ScoreMetric: "sharpe",
		Workers:     4,
	}
}

// Validate checks walk-forward settings
func (c *WalkForwardConfig) Validate() error {
	if c.TrainWindow < 2 {
		return NewConfigError("train window must be at least 2 bars, got %d", c.TrainWindow)
	}
	if c.TestWindow < 1 {
		return NewConfigError("test window must be at least 1 bar, got %d", c.TestWindow)
	}
	if c.Step < 0 {
		return NewConfigError("step must be non-negative, got %d", c.Step)
	}
	if c.ScoreMetric == "" {
		return NewConfigError("score metric must be set")
	}
	if c.Workers < 0 {
		return NewConfigError("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// ConfigError is a fatal configuration problem detected before a simulation starts
type ConfigError struct {
	Reason string
}

// NewConfigError creates a ConfigError with a formatted reason
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// ExecutionConstraintError is a fatal broker construction problem
type ExecutionConstraintError struct {
	Reason string
}

// NewExecutionConstraintError creates an ExecutionConstraintError with a formatted reason
func NewExecutionConstraintError(format string, args ...any) *ExecutionConstraintError {
	return &ExecutionConstraintError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ExecutionConstraintError) Error() string { return "execution constraint: " + e.Reason }
