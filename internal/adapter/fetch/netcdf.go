package fetch

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/ncio"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

var (
	latNames = []string{"y", "lat", "latitude"}
	lonNames = []string{"x", "lon", "longitude"}
)

// readTileFile reads a single-variable tile from a NetCDF file.
//
// The data variable may be 2-D in either axis order or 3-D with a leading
// length-1 dimension (a reduced time axis). _FillValue and missing_value
// cells become holes. A file without the variable yields an empty TileGrid
// rather than an error so the merger can discard it.
func readTileFile(path, tileName, variable string) (*domain.TileGrid, error) {
	var tile *domain.TileGrid
	err := ncio.Do(func() error {
		var err error
		tile, err = decodeTileFile(path, tileName, variable)
		return err
	})
	return tile, err
}

//nolint:gocyclo // Variable-name and dimension-order fallbacks.
func decodeTileFile(path, tileName, variable string) (*domain.TileGrid, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	latData, err := readAxis(nc, latNames)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lonData, err := readAxis(nc, lonNames)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}

	tile := &domain.TileGrid{Tile: tileName, Lon: lonData, Lat: latData}

	dataVar, err := nc.Var(variable)
	if err != nil {
		// Variable absent: usable coordinates, no data.
		return tile, nil
	}

	dims, err := dataVar.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	lens := make([]uint64, 0, len(dims))
	for _, d := range dims {
		n, err := d.Len()
		if err != nil {
			return nil, fmt.Errorf("failed to get dimension length: %w", err)
		}
		lens = append(lens, n)
	}
	// Drop leading length-1 dimensions (time).
	for len(lens) > 2 && lens[0] == 1 {
		lens = lens[1:]
	}
	if len(lens) != 2 {
		return nil, fmt.Errorf("expected 2D data for %s, got %dD", variable, len(lens))
	}

	nLat, nLon := len(latData), len(lonData)
	if nLat == 0 || nLon == 0 || lens[0]*lens[1] == 0 {
		return tile, nil
	}

	flat, err := readFloat64s(dataVar, int(lens[0]*lens[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", variable, err)
	}
	if fv, ok := getFillValue(dataVar); ok {
		for i, v := range flat {
			if v == fv {
				flat[i] = domain.Missing
			}
		}
	}

	var values [][]float64
	switch {
	case lens[0] == uint64(nLat) && lens[1] == uint64(nLon):
		// Data is [lat, lon].
		values = reshape(flat, nLat, nLon)
	case lens[0] == uint64(nLon) && lens[1] == uint64(nLat):
		// Data is [lon, lat] - need to transpose.
		values = transpose2D(reshape(flat, nLon, nLat))
	default:
		return nil, fmt.Errorf("dimension mismatch: data is [%d, %d], expected [%d, %d] or [%d, %d]",
			lens[0], lens[1], nLat, nLon, nLon, nLat)
	}

	tile.Variable = variable
	tile.Values = values
	return tile, nil
}

// readAxis reads the first 1-D coordinate variable found under names.
func readAxis(nc netcdf.Dataset, names []string) ([]float64, error) {
	for _, name := range names {
		v, err := nc.Var(name)
		if err != nil {
			continue
		}
		dims, err := v.Dims()
		if err != nil || len(dims) != 1 {
			continue
		}
		n, err := dims[0].Len()
		if err != nil {
			return nil, err
		}
		return readFloat64s(v, int(n))
	}
	return nil, fmt.Errorf("coordinate variable not found (tried: %v)", names)
}

// getFillValue returns the _FillValue or missing_value attribute if present as float64.
func getFillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		a := v.Attr(name)
		if n, err := a.Len(); err != nil || n == 0 {
			continue
		}
		buf64 := make([]float64, 1)
		if err := a.ReadFloat64s(buf64); err == nil {
			return buf64[0], !math.IsNaN(buf64[0])
		}
		buf32 := make([]float32, 1)
		if err := a.ReadFloat32s(buf32); err == nil {
			return float64(buf32[0]), !math.IsNaN(float64(buf32[0]))
		}
		bufi := make([]int32, 1)
		if err := a.ReadInt32s(bufi); err == nil {
			return float64(bufi[0]), true
		}
	}
	return 0, false
}

// readFloat64s reads n values of a numeric variable as float64.
func readFloat64s(v netcdf.Var, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	out := make([]float64, n)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(out); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, n)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, n)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
	return out, nil
}

func reshape(flat []float64, rows, cols int) [][]float64 {
	values := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		values[i] = flat[i*cols : (i+1)*cols]
	}
	return values
}

// transpose2D transposes a 2D array.
func transpose2D(data [][]float64) [][]float64 {
	if len(data) == 0 {
		return data
	}
	nRows, nCols := len(data), len(data[0])
	transposed := make([][]float64, nCols)
	for i := 0; i < nCols; i++ {
		transposed[i] = make([]float64, nRows)
		for j := 0; j < nRows; j++ {
			transposed[i][j] = data[j][i]
		}
	}
	return transposed
}
