package harness

import (
	"sort"
	"strconv"
	"strings"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// Candidate is one parameter set in enumeration order. Index is the
// deterministic tie-break: between equal scores the lower index wins.
type Candidate struct {
	Index  int
	Params map[string]float64
}

// ParseGridSpec parses a grid from the compact CLI form
// "fast=5,10 slow=20,50". Whitespace separates parameters; commas
// separate values.
func ParseGridSpec(spec string) (map[string][]float64, error) {
	grid := make(map[string][]float64)
	for _, field := range strings.Fields(spec) {
		name, raw, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, types.NewConfigError("grid entry %q is not name=v1,v2,...", field)
		}
		var values []float64
		for _, part := range strings.Split(raw, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, types.NewConfigError("grid entry %q: bad value %q", field, part)
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return nil, types.NewConfigError("grid entry %q has no values", field)
		}
		grid[name] = values
	}
	if len(grid) == 0 {
		return nil, types.NewConfigError("empty grid spec")
	}
	return grid, nil
}

// EnumerateGrid expands a grid into the cross product of all parameter
// values. Enumeration order is deterministic: parameter names are sorted,
// the last name varies fastest, and values keep their given order.
func EnumerateGrid(grid map[string][]float64) []Candidate {
	if len(grid) == 0 {
		return []Candidate{{Index: 0, Params: map[string]float64{}}}
	}

	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 1
	for _, name := range names {
		total *= len(grid[name])
	}

	candidates := make([]Candidate, 0, total)
	indexes := make([]int, len(names))
	for i := 0; i < total; i++ {
		params := make(map[string]float64, len(names))
		for j, name := range names {
			params[name] = grid[name][indexes[j]]
		}
		candidates = append(candidates, Candidate{Index: i, Params: params})

		for j := len(names) - 1; j >= 0; j-- {
			indexes[j]++
			if indexes[j] < len(grid[names[j]]) {
				break
			}
			indexes[j] = 0
		}
	}
	return candidates
}
