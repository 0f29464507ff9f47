package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultPrecision is the number of decimals coordinates are rounded to before tiles are merged.
const DefaultPrecision = 5

// MergeOptions controls Merge.
type MergeOptions struct {
	// Precision is the decimal rounding applied to both axes. Zero means DefaultPrecision.
	Precision int
	// Variable restricts the merge to tiles carrying this variable. Empty accepts the first one seen.
	Variable string
}

// MergeStats describes what Merge did with its input.
type MergeStats struct {
	Used       []string `json:"used"`
	Discarded  []string `json:"discarded"`
	Overwrites int      `json:"overwrites"`
}

// RoundCoord rounds v to precision decimals, half to even.
func RoundCoord(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.RoundToEven(v*p) / p
}

// axisIndex maps rounded coordinate values to positions in first-encounter order.
type axisIndex struct {
	values []float64
	pos    map[float64]int
}

func newAxisIndex() *axisIndex {
	return &axisIndex{pos: make(map[float64]int)}
}

func (a *axisIndex) add(v float64) int {
	if i, ok := a.pos[v]; ok {
		return i
	}
	a.pos[v] = len(a.values)
	a.values = append(a.values, v)
	return a.pos[v]
}

// Merge combines tile grids into one grid keyed by rounded coordinate value.
//
// Tiles are processed in natural tile-name order (digit runs compare as numbers,
// so box_2_1 precedes box_10_1, matching Partition). Where two tiles define a value at the
// same rounded (lon, lat), the later tile wins; a hole never erases a value. The
// returned axes are unique but in first-encounter order: pass the result through
// Reconcile to obtain a valid CanonicalGrid.
func Merge(tiles []*TileGrid, opts MergeOptions) (*CanonicalGrid, MergeStats, error) {
	precision := opts.Precision
	if precision <= 0 {
		precision = DefaultPrecision
	}

	ordered := make([]*TileGrid, len(tiles))
	copy(ordered, tiles)
	sort.SliceStable(ordered, func(a, b int) bool {
		return naturalLess(tileKey(ordered[a]), tileKey(ordered[b]))
	})

	var stats MergeStats
	variable := opts.Variable
	used := make([]*TileGrid, 0, len(ordered))
	for _, t := range ordered {
		if t.Empty() || (variable != "" && t.Variable != variable) {
			stats.Discarded = append(stats.Discarded, tileKey(t))
			continue
		}
		if variable == "" {
			variable = t.Variable
		}
		used = append(used, t)
		stats.Used = append(stats.Used, t.Tile)
	}
	if len(used) == 0 {
		return nil, stats, fmt.Errorf("%w: %d tile(s) offered, none carried data", ErrNoUsableTiles, len(tiles))
	}

	// First pass: union of rounded axes.
	lonAxis, latAxis := newAxisIndex(), newAxisIndex()
	lonPos := make([][]int, len(used))
	latPos := make([][]int, len(used))
	for k, t := range used {
		lonPos[k] = roundAxis(t.Lon, precision, lonAxis)
		latPos[k] = roundAxis(t.Lat, precision, latAxis)
	}

	// Second pass: write values, later tiles winning.
	merged := NewCanonicalGrid(variable, lonAxis.values, latAxis.values)
	for k, t := range used {
		for y, row := range t.Values {
			gy := latPos[k][y]
			if gy < 0 {
				continue
			}
			for x, v := range row {
				gx := lonPos[k][x]
				if gx < 0 || IsMissing(v) {
					continue
				}
				prev := merged.Values[gy][gx]
				if !IsMissing(prev) && prev != v {
					stats.Overwrites++
				}
				merged.Values[gy][gx] = v
			}
		}
	}

	return merged, stats, nil
}

// roundAxis rounds every coordinate, registers it and returns its merged position.
// Non-finite coordinates map to -1 and their cells are skipped.
func roundAxis(axis []float64, precision int, idx *axisIndex) []int {
	out := make([]int, len(axis))
	for i, v := range axis {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = -1
			continue
		}
		out[i] = idx.add(RoundCoord(v, precision))
	}
	return out
}

func tileKey(t *TileGrid) string {
	if t == nil {
		return ""
	}
	return t.Tile
}

// naturalLess orders names with embedded digit runs compared by numeric value.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			si, sj := i, j
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			na := strings.TrimLeft(a[si:i], "0")
			nb := strings.TrimLeft(b[sj:j], "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if a[i] != b[j] {
			return a[i] < b[j]
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
