// Package config loads run and walk-forward configuration from files and
// BACKTEST_* environment overrides.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config bundles everything a CLI invocation needs
type Config struct {
	Run         types.RunConfig
	WalkForward types.WalkForwardConfig
}

// Load reads configuration from an optional YAML/JSON file, applies
// BACKTEST_* environment overrides, and validates the result. An empty
// path loads defaults plus environment only.
func Load(logger *zap.Logger, path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, types.NewConfigError("read config %s: %v", path, err)
		}
		logger.Info("configuration loaded", zap.String("file", v.ConfigFileUsed()))
	}

	cfg := &Config{
		Run:         types.DefaultRunConfig(),
		WalkForward: types.DefaultWalkForwardConfig(),
	}
	// Environment values arrive as strings, so decoding is weakly typed.
	opts := func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			decimalHook(),
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}
	if err := v.Unmarshal(&cfg.Run, opts); err != nil {
		return nil, types.NewConfigError("decode run config: %v", err)
	}
	if err := v.Unmarshal(&cfg.WalkForward, opts); err != nil {
		return nil, types.NewConfigError("decode walk-forward config: %v", err)
	}

	if err := cfg.Run.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.WalkForward.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides resolve even
// without a config file
func setDefaults(v *viper.Viper) {
	run := types.DefaultRunConfig()
	v.SetDefault("initial_capital", run.InitialCapital.String())
	v.SetDefault("slippage_bps", run.SlippageBps.String())
	v.SetDefault("latency_bars", run.LatencyBars)
	v.SetDefault("liquidity_cap", run.LiquidityCap.String())
	v.SetDefault("remainder", string(run.Remainder))
	v.SetDefault("correlation_window", run.CorrelationWindow)
	v.SetDefault("seed", run.Seed)

	wf := types.DefaultWalkForwardConfig()
	v.SetDefault("train_window", wf.TrainWindow)
	v.SetDefault("test_window", wf.TestWindow)
	v.SetDefault("step", wf.Step)
	v.SetDefault("anchored", wf.Anchored)
	v.SetDefault("score_metric", wf.ScoreMetric)
	v.SetDefault("workers", wf.Workers)
	v.SetDefault("candidate_timeout", wf.CandidateTimeout)
}

// decimalHook decodes strings and numbers into decimal.Decimal fields
func decimalHook() mapstructure.DecodeHookFunc {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			d, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("bad decimal %q: %w", value, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		}
		return data, nil
	}
}
