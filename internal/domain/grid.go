package domain

import (
	"fmt"
	"math"
	"time"
)

// Missing is the explicit hole marker used in every grid.
var Missing = math.NaN()

// IsMissing reports whether v is a hole.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// TileGrid is the single-variable field returned by a fetcher for one tile.
type TileGrid struct {
	Tile     string      // Tile name, e.g. "box_1_1".
	Variable string      // Data variable name, e.g. "NO2".
	Lon      []float64   // X axis (longitude).
	Lat      []float64   // Y axis (latitude).
	Values   [][]float64 // Values[y][x] corresponds to (Lon[x], Lat[y]).
}

// Empty reports whether the tile carries no usable data variable.
func (t *TileGrid) Empty() bool {
	if t == nil || t.Variable == "" || len(t.Lon) == 0 || len(t.Lat) == 0 {
		return true
	}
	if len(t.Values) != len(t.Lat) {
		return true
	}
	for _, row := range t.Values {
		if len(row) != len(t.Lon) {
			return true
		}
	}
	return false
}

// CanonicalGrid is the reconciled field over the full area.
type CanonicalGrid struct {
	Variable string
	Units    string
	LongName string
	Lon      []float64   // Strictly increasing after Reconcile.
	Lat      []float64   // Strictly increasing after Reconcile.
	Values   [][]float64 // Values[y][x]; holes are Missing.
}

// NewCanonicalGrid allocates a grid over lon × lat with every cell set to Missing.
func NewCanonicalGrid(variable string, lon, lat []float64) *CanonicalGrid {
	values := make([][]float64, len(lat))
	for y := range values {
		row := make([]float64, len(lon))
		for x := range row {
			row[x] = Missing
		}
		values[y] = row
	}
	return &CanonicalGrid{
		Variable: variable,
		Lon:      append([]float64(nil), lon...),
		Lat:      append([]float64(nil), lat...),
		Values:   values,
	}
}

// Shape returns (rows, cols) = (len(Lat), len(Lon)).
func (g *CanonicalGrid) Shape() (int, int) {
	return len(g.Lat), len(g.Lon)
}

// Validate checks matrix shape and that both axes are strictly increasing.
func (g *CanonicalGrid) Validate() error {
	if len(g.Lon) == 0 || len(g.Lat) == 0 {
		return fmt.Errorf("grid must have at least one coordinate per axis")
	}
	if len(g.Values) != len(g.Lat) {
		return fmt.Errorf("number of value rows (%d) must match latitude coordinates (%d)", len(g.Values), len(g.Lat))
	}
	for i, row := range g.Values {
		if len(row) != len(g.Lon) {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(g.Lon))
		}
	}
	for i := 1; i < len(g.Lon); i++ {
		if g.Lon[i] <= g.Lon[i-1] {
			return fmt.Errorf("longitude coordinates must be strictly increasing (index %d)", i)
		}
	}
	for i := 1; i < len(g.Lat); i++ {
		if g.Lat[i] <= g.Lat[i-1] {
			return fmt.Errorf("latitude coordinates must be strictly increasing (index %d)", i)
		}
	}
	return nil
}

// Count returns the number of non-hole cells.
func (g *CanonicalGrid) Count() int {
	n := 0
	for _, row := range g.Values {
		for _, v := range row {
			if !IsMissing(v) {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy so that stage handoffs never share mutable state.
func (g *CanonicalGrid) Clone() *CanonicalGrid {
	if g == nil {
		return nil
	}
	values := make([][]float64, len(g.Values))
	for y, row := range g.Values {
		values[y] = append([]float64(nil), row...)
	}
	return &CanonicalGrid{
		Variable: g.Variable,
		Units:    g.Units,
		LongName: g.LongName,
		Lon:      append([]float64(nil), g.Lon...),
		Lat:      append([]float64(nil), g.Lat...),
		Values:   values,
	}
}

// WithValues returns a copy of the grid metadata and axes carrying values.
func (g *CanonicalGrid) WithValues(values [][]float64) *CanonicalGrid {
	return &CanonicalGrid{
		Variable: g.Variable,
		Units:    g.Units,
		LongName: g.LongName,
		Lon:      append([]float64(nil), g.Lon...),
		Lat:      append([]float64(nil), g.Lat...),
		Values:   values,
	}
}

// FillMethod tags a grid variant.
type FillMethod string

const (
	// MethodOriginal is the canonical grid with holes left in place.
	MethodOriginal FillMethod = "original"
	// MethodLinear is filled by linear scattered-data interpolation.
	MethodLinear FillMethod = "linear"
	// MethodCubic is filled by the cubic estimator.
	MethodCubic FillMethod = "cubic"
)

// Methods lists every variant in output order.
var Methods = []FillMethod{MethodOriginal, MethodLinear, MethodCubic}

// ParseFillMethod validates a method name.
func ParseFillMethod(s string) (FillMethod, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown fill method %q", s)
}

// FilledGrid is a grid variant produced by the gap filler.
type FilledGrid struct {
	Method FillMethod
	Grid   *CanonicalGrid
	// Fallback is set when the estimator failed and Grid is a copy of the original.
	Fallback error
}

// Degraded reports whether the variant fell back to the original grid.
func (f FilledGrid) Degraded() bool {
	return f.Fallback != nil
}

// GridArtifact describes one persisted grid.
type GridArtifact struct {
	Date        time.Time  `json:"date"`
	Method      FillMethod `json:"method"`
	Path        string     `json:"path"`
	Cells       int        `json:"cells"`
	FilledCells int        `json:"filled_cells"`
	Fallback    string     `json:"fallback,omitempty"`
}

// Scale multiplies every non-hole value by factor and sets the unit metadata.
// The input grid is not modified.
func Scale(grid *CanonicalGrid, factor float64, units, longName string) *CanonicalGrid {
	out := grid.Clone()
	for _, row := range out.Values {
		for x, v := range row {
			if !IsMissing(v) {
				row[x] = v * factor
			}
		}
	}
	out.Units = units
	out.LongName = longName
	return out
}
