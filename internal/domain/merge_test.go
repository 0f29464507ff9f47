package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constTile(name string, lon, lat []float64, v float64) *TileGrid {
	values := make([][]float64, len(lat))
	for y := range values {
		values[y] = make([]float64, len(lon))
		for x := range values[y] {
			values[y][x] = v
		}
	}
	return &TileGrid{Tile: name, Variable: "NO2", Lon: lon, Lat: lat, Values: values}
}

func mergeAndReconcile(t *testing.T, tiles ...*TileGrid) *CanonicalGrid {
	t.Helper()
	merged, _, err := Merge(tiles, MergeOptions{})
	require.NoError(t, err)
	grid, err := Reconcile(merged)
	require.NoError(t, err)
	require.NoError(t, grid.Validate())
	return grid
}

// TestMerge_SeamNoiseCollapses checks that edges differing below the rounding
// precision become a single shared column.
func TestMerge_SeamNoiseCollapses(t *testing.T) {
	left := constTile("box_1_1", []float64{99.98, 99.99, 100.0000000001}, []float64{-5, -4.99}, 1)
	right := constTile("box_2_1", []float64{99.9999999999, 100.01, 100.02}, []float64{-5, -4.99}, 2)

	grid := mergeAndReconcile(t, left, right)

	assert.Equal(t, []float64{99.98, 99.99, 100, 100.01, 100.02}, grid.Lon)
	assert.Equal(t, []float64{-5, -4.99}, grid.Lat)
	// Shared seam column takes the later tile (box_2_1).
	assert.Equal(t, 2.0, grid.Values[0][2])
	assert.Equal(t, 1.0, grid.Values[0][1])
}

// TestMerge_LaterTileWinsByName checks the deterministic conflict rule.
func TestMerge_LaterTileWinsByName(t *testing.T) {
	a := constTile("box_1_1", []float64{100.000001}, []float64{-5.000001}, 7.1)
	b := constTile("box_1_2", []float64{99.999999}, []float64{-4.999999}, 7.3)

	for _, order := range [][]*TileGrid{{a, b}, {b, a}} {
		merged, stats, err := Merge(order, MergeOptions{})
		require.NoError(t, err)
		grid, err := Reconcile(merged)
		require.NoError(t, err)

		require.Equal(t, []float64{100}, grid.Lon)
		require.Equal(t, []float64{-5}, grid.Lat)
		assert.Equal(t, 7.3, grid.Values[0][0])
		assert.Equal(t, 1, stats.Overwrites)
		assert.Equal(t, []string{"box_1_1", "box_1_2"}, stats.Used)
	}
}

func TestMerge_HoleDoesNotEraseValue(t *testing.T) {
	a := constTile("box_1_1", []float64{1, 2}, []float64{1}, 3)
	b := constTile("box_2_1", []float64{2, 3}, []float64{1}, math.NaN())

	grid := mergeAndReconcile(t, a, b)

	assert.Equal(t, []float64{1, 2, 3}, grid.Lon)
	assert.Equal(t, 3.0, grid.Values[0][1])
	assert.True(t, IsMissing(grid.Values[0][2]))
}

func TestMerge_DiscardsEmptyTiles(t *testing.T) {
	good := constTile("box_1_1", []float64{1, 2}, []float64{1, 2}, 5)
	noVar := constTile("box_2_1", []float64{3}, []float64{1}, 9)
	noVar.Variable = ""
	zeroExtent := &TileGrid{Tile: "box_3_1", Variable: "NO2"}
	otherVar := constTile("box_4_1", []float64{4}, []float64{1}, 9)
	otherVar.Variable = "CO"

	merged, stats, err := Merge([]*TileGrid{zeroExtent, good, nil, noVar, otherVar}, MergeOptions{Variable: "NO2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"box_1_1"}, stats.Used)
	assert.ElementsMatch(t, []string{"", "box_2_1", "box_3_1", "box_4_1"}, stats.Discarded)
	assert.Equal(t, []float64{1, 2}, merged.Lon)
	assert.Equal(t, "NO2", merged.Variable)
}

func TestMerge_NoUsableTiles(t *testing.T) {
	_, _, err := Merge(nil, MergeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoUsableTiles))

	empty := &TileGrid{Tile: "box_1_1", Variable: "NO2"}
	_, stats, err := Merge([]*TileGrid{empty}, MergeOptions{})
	assert.True(t, errors.Is(err, ErrNoUsableTiles))
	assert.Equal(t, []string{"box_1_1"}, stats.Discarded)
}

func TestMerge_DescendingTileAxes(t *testing.T) {
	tile := &TileGrid{
		Tile:     "box_1_1",
		Variable: "NO2",
		Lon:      []float64{1, 2},
		Lat:      []float64{6, 5},
		Values:   [][]float64{{61, 62}, {51, 52}},
	}

	grid := mergeAndReconcile(t, tile)

	assert.Equal(t, []float64{5, 6}, grid.Lat)
	assert.Equal(t, [][]float64{{51, 52}, {61, 62}}, grid.Values)
}

// TestMerge_Idempotent checks that identical input yields identical coordinates and values.
func TestMerge_Idempotent(t *testing.T) {
	build := func() []*TileGrid {
		return []*TileGrid{
			constTile("box_2_1", []float64{1.000004, 1.5}, []float64{0, 0.5}, 2),
			constTile("box_1_1", []float64{0.5, 0.999996}, []float64{0, 0.5}, 1),
		}
	}
	a := mergeAndReconcile(t, build()...)
	b := mergeAndReconcile(t, build()...)
	assert.Equal(t, a.Lon, b.Lon)
	assert.Equal(t, a.Lat, b.Lat)
	assert.Equal(t, a.Values, b.Values)
}

func TestRoundCoord(t *testing.T) {
	assert.Equal(t, 100.0, RoundCoord(100.0000049, 5))
	assert.Equal(t, 100.00001, RoundCoord(100.0000051, 5))
	assert.Equal(t, -5.0, RoundCoord(-4.9999999, 5))
	assert.Equal(t, 0.12, RoundCoord(0.1234, 2))
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, naturalLess("box_2_1", "box_10_1"))
	assert.False(t, naturalLess("box_10_1", "box_2_1"))
	assert.True(t, naturalLess("box_1_2", "box_1_10"))
	assert.True(t, naturalLess("box_1_1", "box_1_2"))
	assert.False(t, naturalLess("box_1_1", "box_1_1"))
	assert.True(t, naturalLess("box_1", "box_1_1"))
	assert.True(t, naturalLess("", "box_1_1"))
}

func TestMerge_NumericTileOrder(t *testing.T) {
	tiles, err := Partition(Extent{West: 0, East: 12, South: 0, North: 1}, Divisions{X: 12, Y: 1})
	require.NoError(t, err)

	var grids []*TileGrid
	for k, tile := range tiles {
		// Every tile claims the same cell; the last tile in partition order must win.
		grids = append(grids, constTile(tile.Name, []float64{50}, []float64{5}, float64(k+1)))
	}
	merged, stats, err := Merge([]*TileGrid{grids[11], grids[1], grids[9], grids[0]}, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"box_1_1", "box_2_1", "box_10_1", "box_12_1"}, stats.Used)
	assert.Equal(t, 12.0, merged.Values[0][0])
}
