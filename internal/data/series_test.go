package data

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSeriesCSVLongFormat(t *testing.T) {
	path := writeTempCSV(t, "btc.csv", `timestamp,open,high,low,close,volume
2024-01-01,100,110,95,105,1000
2024-01-02,105,120,104,118,1500
`)

	series, err := LoadSeriesCSV(path, "BTC")
	require.NoError(t, err)
	require.Len(t, series.Bars, 2)
	assert.Equal(t, "BTC", series.Symbol)
	assert.True(t, series.Bars[0].Close.Equal(decimal.NewFromInt(105)))
	assert.True(t, series.Bars[1].Volume.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), series.Bars[1].Timestamp)
}

func TestLoadSeriesCSVMapsBadPricesToZero(t *testing.T) {
	path := writeTempCSV(t, "gap.csv", `timestamp,open,high,low,close,volume
2024-01-01,100,110,95,NaN,1000
2024-01-02,105,120,104,,1500
`)

	series, err := LoadSeriesCSV(path, "X")
	require.NoError(t, err)
	assert.True(t, series.Bars[0].Close.IsZero())
	assert.True(t, series.Bars[1].Close.IsZero())
}

func TestLoadSeriesCSVRejectsMissingColumn(t *testing.T) {
	path := writeTempCSV(t, "bad.csv", "timestamp,open,high,low\n2024-01-01,1,2,0\n")
	_, err := LoadSeriesCSV(path, "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close")
}

func TestLoadSeriesCSVRejectsBadTimestamp(t *testing.T) {
	path := writeTempCSV(t, "bad.csv", `timestamp,open,high,low,close
not-a-date,1,2,0,1
`)
	_, err := LoadSeriesCSV(path, "X")
	require.Error(t, err)
}

func TestLoadWideCSV(t *testing.T) {
	path := writeTempCSV(t, "wide.csv", `DATE,BTC_Close,ETH_Close
2024-01-01,42000,2500
2024-01-02,43100,2550
`)

	seriesMap, err := LoadWideCSV(path)
	require.NoError(t, err)
	require.Len(t, seriesMap, 2)

	btc := seriesMap["BTC"]
	require.Len(t, btc.Bars, 2)
	// Synthetic bars carry the close into every OHLC field.
	assert.True(t, btc.Bars[0].Open.Equal(btc.Bars[0].Close))
	assert.True(t, btc.Bars[1].Close.Equal(decimal.NewFromInt(43100)))
}

func TestSeriesSetUnionTimelineAndLookup(t *testing.T) {
	set := NewSeriesSet(map[string]*types.PriceSeries{
		"AAA": flatSeries("AAA", 3, 10),
		"BBB": flatSeries("BBB", 5, 20),
	})

	assert.Equal(t, []string{"AAA", "BBB"}, set.Symbols())
	assert.Len(t, set.Timeline(), 5)

	bar, ok := set.BarAt("AAA", day0.AddDate(0, 0, 2))
	require.True(t, ok)
	assert.True(t, bar.Close.Equal(decimal.NewFromInt(10)))

	_, ok = set.BarAt("AAA", day0.AddDate(0, 0, 4))
	assert.False(t, ok)
}

func TestSliceByTimeIsHalfOpen(t *testing.T) {
	set := NewSeriesSet(map[string]*types.PriceSeries{
		"AAA": flatSeries("AAA", 5, 10),
	})

	sliced := set.SliceByTime(day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 3))
	require.Contains(t, sliced, "AAA")
	require.Len(t, sliced["AAA"].Bars, 2)
	assert.Equal(t, day0.AddDate(0, 0, 1), sliced["AAA"].Bars[0].Timestamp)
	assert.Equal(t, day0.AddDate(0, 0, 2), sliced["AAA"].Bars[1].Timestamp)

	// A window covering nothing drops the symbol entirely.
	empty := set.SliceByTime(day0.AddDate(0, 0, 10), day0.AddDate(0, 0, 20))
	assert.NotContains(t, empty, "AAA")
}
