package domain

import (
	"fmt"
	"math"
	"sort"
)

// Reconcile deduplicates and sorts both axes of grid, reordering the data to match.
//
// For each axis the first occurrence of every distinct value is kept and later
// duplicates are dropped, then the survivors are sorted ascending. The axes are
// handled independently. A single-valued axis is valid.
func Reconcile(grid *CanonicalGrid) (*CanonicalGrid, error) {
	if grid == nil {
		return nil, fmt.Errorf("reconcile: nil grid")
	}
	if len(grid.Lon) == 0 || len(grid.Lat) == 0 {
		return nil, fmt.Errorf("reconcile: grid has an empty axis")
	}
	if len(grid.Values) != len(grid.Lat) {
		return nil, fmt.Errorf("reconcile: %d value rows for %d latitudes", len(grid.Values), len(grid.Lat))
	}
	for y, row := range grid.Values {
		if len(row) != len(grid.Lon) {
			return nil, fmt.Errorf("reconcile: row %d has %d values for %d longitudes", y, len(row), len(grid.Lon))
		}
	}

	lonIdx, err := uniqueSorted(grid.Lon)
	if err != nil {
		return nil, fmt.Errorf("reconcile longitude: %w", err)
	}
	latIdx, err := uniqueSorted(grid.Lat)
	if err != nil {
		return nil, fmt.Errorf("reconcile latitude: %w", err)
	}

	out := &CanonicalGrid{
		Variable: grid.Variable,
		Units:    grid.Units,
		LongName: grid.LongName,
		Lon:      make([]float64, len(lonIdx)),
		Lat:      make([]float64, len(latIdx)),
		Values:   make([][]float64, len(latIdx)),
	}
	for x, src := range lonIdx {
		out.Lon[x] = grid.Lon[src]
	}
	for y, srcY := range latIdx {
		out.Lat[y] = grid.Lat[srcY]
		row := make([]float64, len(lonIdx))
		for x, srcX := range lonIdx {
			row[x] = grid.Values[srcY][srcX]
		}
		out.Values[y] = row
	}

	return out, nil
}

// uniqueSorted returns the first-occurrence index of each distinct value, ordered by value.
func uniqueSorted(axis []float64) ([]int, error) {
	seen := make(map[float64]struct{}, len(axis))
	idx := make([]int, 0, len(axis))
	for i, v := range axis {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("coordinate %d is NaN", i)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return axis[idx[a]] < axis[idx[b]]
	})
	return idx, nil
}
