// Package domain holds the gridded-field model and the pure tiling, merge and
// reconciliation algorithms of the daily pipeline.
package domain

import (
	"fmt"
	"math"
)

// Extent is a geographic bounding box in degrees.
type Extent struct {
	West  float64 `json:"west" mapstructure:"west"`
	East  float64 `json:"east" mapstructure:"east"`
	South float64 `json:"south" mapstructure:"south"`
	North float64 `json:"north" mapstructure:"north"`
}

// Validate checks that the bounds are finite and ordered.
func (e Extent) Validate() error {
	for _, v := range []float64{e.West, e.East, e.South, e.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: extent bounds must be finite, got %+v", ErrInvalidConfiguration, e)
		}
	}
	if e.West >= e.East {
		return fmt.Errorf("%w: west (%.6f) must be < east (%.6f)", ErrInvalidConfiguration, e.West, e.East)
	}
	if e.South >= e.North {
		return fmt.Errorf("%w: south (%.6f) must be < north (%.6f)", ErrInvalidConfiguration, e.South, e.North)
	}
	return nil
}

// Width returns the longitude span in degrees.
func (e Extent) Width() float64 { return e.East - e.West }

// Height returns the latitude span in degrees.
func (e Extent) Height() float64 { return e.North - e.South }

// Divisions is the number of tiles per axis.
type Divisions struct {
	X int `json:"x" mapstructure:"x"`
	Y int `json:"y" mapstructure:"y"`
}

// Validate rejects zero or negative counts.
func (d Divisions) Validate() error {
	if d.X <= 0 || d.Y <= 0 {
		return fmt.Errorf("%w: divisions must be positive, got x=%d y=%d", ErrInvalidConfiguration, d.X, d.Y)
	}
	return nil
}

// Count returns the total number of tiles.
func (d Divisions) Count() int { return d.X * d.Y }

// Tile is one sub-extent of a partitioning run.
type Tile struct {
	Name   string `json:"name"`
	I      int    `json:"i"`
	J      int    `json:"j"`
	Extent Extent `json:"extent"`
}

// TileName returns the deterministic name of tile (i, j), e.g. "box_1_1".
func TileName(i, j int) string {
	return fmt.Sprintf("box_%d_%d", i+1, j+1)
}

// Partition divides extent into div.X × div.Y non-overlapping tiles whose union is extent.
//
// Tiles are ordered by column (i) then row (j). The last column and row take the
// outer bound directly so accumulated floating-point error never opens a gap.
func Partition(extent Extent, div Divisions) ([]Tile, error) {
	if err := extent.Validate(); err != nil {
		return nil, err
	}
	if err := div.Validate(); err != nil {
		return nil, err
	}

	lonStep := extent.Width() / float64(div.X)
	latStep := extent.Height() / float64(div.Y)

	edge := func(origin, step float64, k, n int, outer float64) float64 {
		if k == n {
			return outer
		}
		return origin + float64(k)*step
	}

	tiles := make([]Tile, 0, div.Count())
	for i := 0; i < div.X; i++ {
		for j := 0; j < div.Y; j++ {
			tiles = append(tiles, Tile{
				Name: TileName(i, j),
				I:    i,
				J:    j,
				Extent: Extent{
					West:  edge(extent.West, lonStep, i, div.X, extent.East),
					East:  edge(extent.West, lonStep, i+1, div.X, extent.East),
					South: edge(extent.South, latStep, j, div.Y, extent.North),
					North: edge(extent.South, latStep, j+1, div.Y, extent.North),
				},
			})
		}
	}
	return tiles, nil
}
