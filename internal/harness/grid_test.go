package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGridSpec(t *testing.T) {
	grid, err := ParseGridSpec("fast=5,10 slow=20,50")
	require.NoError(t, err)
	assert.Equal(t, map[string][]float64{
		"fast": {5, 10},
		"slow": {20, 50},
	}, grid)
}

func TestParseGridSpecSingleValue(t *testing.T) {
	grid, err := ParseGridSpec("size=2.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5}, grid["size"])
}

func TestParseGridSpecRejectsMalformedEntries(t *testing.T) {
	for _, spec := range []string{"", "fast", "=5", "fast=a,b", "fast=5 slow=x"} {
		_, err := ParseGridSpec(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestEnumerateGridOrderIsDeterministic(t *testing.T) {
	grid := map[string][]float64{
		"b": {1, 2},
		"a": {10, 20},
	}

	candidates := EnumerateGrid(grid)
	require.Len(t, candidates, 4)

	// Sorted names, last varying fastest.
	assert.Equal(t, map[string]float64{"a": 10, "b": 1}, candidates[0].Params)
	assert.Equal(t, map[string]float64{"a": 10, "b": 2}, candidates[1].Params)
	assert.Equal(t, map[string]float64{"a": 20, "b": 1}, candidates[2].Params)
	assert.Equal(t, map[string]float64{"a": 20, "b": 2}, candidates[3].Params)

	for i, c := range candidates {
		assert.Equal(t, i, c.Index)
	}
}

func TestEnumerateGridEmptyGivesOneCandidate(t *testing.T) {
	candidates := EnumerateGrid(nil)
	require.Len(t, candidates, 1)
	assert.Empty(t, candidates[0].Params)
}
