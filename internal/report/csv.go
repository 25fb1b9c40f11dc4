// Package report serializes run outputs to row-oriented CSV files for
// downstream inspection.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/harness"
	"github.com/atlas-desktop/backtest-engine/internal/metrics"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// WriteEquityCurve writes one row per bar
func WriteEquityCurve(w io.Writer, curve []types.EquityCurvePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity", "cash", "drawdown"}); err != nil {
		return err
	}
	for _, point := range curve {
		record := []string{
			point.Timestamp.UTC().Format(time.RFC3339),
			point.Equity.String(),
			point.Cash.String(),
			point.Drawdown.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFills writes one row per fill in settlement order
func WriteFills(w io.Writer, fills []types.Fill) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"order_id", "symbol", "side", "quantity", "price", "bar_index", "timestamp", "remainder"}); err != nil {
		return err
	}
	for i := range fills {
		f := &fills[i]
		record := []string{
			f.OrderID,
			f.Symbol,
			string(f.Side),
			f.Quantity.String(),
			f.Price.String(),
			strconv.Itoa(f.BarIndex),
			f.Timestamp.UTC().Format(time.RFC3339),
			f.Remainder.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrades writes the realized trade log
func WriteTrades(w io.Writer, trades []types.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"symbol", "direction", "quantity", "entry_time", "entry_price", "exit_time", "exit_price", "pnl"}); err != nil {
		return err
	}
	for i := range trades {
		t := &trades[i]
		record := []string{
			t.Symbol,
			t.Direction,
			t.Quantity.String(),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.EntryPrice.String(),
			t.ExitTime.UTC().Format(time.RFC3339),
			t.ExitPrice.String(),
			t.PnL.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetrics writes key,value rows in the report's stable key order
func WriteMetrics(w io.Writer, report *metrics.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"metric", "value"}); err != nil {
		return err
	}
	for _, key := range report.Keys() {
		value, _ := report.Get(key)
		if err := cw.Write([]string{key, formatFloat(value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFoldReports writes one row per fold with the winning parameters and
// the score-metric value in and out of sample
func WriteFoldReports(w io.Writer, folds []types.FoldReport) error {
	cw := csv.NewWriter(w)
	header := []string{
		"fold", "train_start", "train_end", "test_start", "test_end",
		"params", "score_metric", "in_sample_score", "out_sample_score",
		"candidates_tried", "candidates_failed",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range folds {
		fr := &folds[i]
		outScore := 0.0
		if fr.OutSampleStats != nil {
			outScore = fr.OutSampleStats[scoreKey(fr)]
		}
		record := []string{
			strconv.Itoa(fr.Fold.Index),
			fr.Fold.TrainStart.UTC().Format(time.RFC3339),
			fr.Fold.TrainEnd.UTC().Format(time.RFC3339),
			fr.Fold.TestStart.UTC().Format(time.RFC3339),
			fr.Fold.TestEnd.UTC().Format(time.RFC3339),
			formatParams(fr.Fold.Params),
			fr.ScoreMetric,
			formatFloat(fr.InSampleScore),
			formatFloat(outScore),
			strconv.Itoa(fr.CandidatesTried),
			strconv.Itoa(fr.CandidatesFailed),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCandidates writes grid-search results in enumeration order
func WriteCandidates(w io.Writer, reports []harness.CandidateReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"candidate", "params", "score", "failed", "reason"}); err != nil {
		return err
	}
	for i := range reports {
		cr := &reports[i]
		record := []string{
			strconv.Itoa(i),
			formatParams(cr.Params),
			formatFloat(cr.Score),
			strconv.FormatBool(cr.Failed),
			cr.Reason,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes a report section to a file path using the given writer
func SaveCSV(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// scoreKey resolves the report key the fold was scored on, for the
// out-of-sample column
func scoreKey(fr *types.FoldReport) string {
	if fr.InSampleStats == nil {
		return fr.ScoreMetric
	}
	for key := range fr.InSampleStats {
		if strings.EqualFold(key, fr.ScoreMetric) {
			return key
		}
	}
	switch fr.ScoreMetric {
	case "sharpe":
		return "SharpeAnnualized"
	case "sortino":
		return "Sortino"
	case "calmar":
		return "Calmar"
	case "return", "total_return":
		return "TotalReturn"
	}
	return fr.ScoreMetric
}

// formatParams renders a parameter map as "k=v;k=v" with sorted keys
func formatParams(params map[string]float64) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatFloat(params[key]))
	}
	return strings.Join(parts, ";")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
