// Package netcdf persists filled grids as daily NetCDF4 artifacts.
package netcdf

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	cdf "github.com/fhs/go-netcdf/netcdf"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/ncio"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

const (
	timeUnits = "days since 1970-01-01"
	source    = "Sentinel-5P TROPOMI L2 NO2, daily tiled acquisition"
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Writer stores one artifact per fill method and date under Dir.
type Writer struct {
	Dir    string
	Region string
}

// NewWriter creates a writer for region, e.g. "Indonesia".
func NewWriter(dir, region string) *Writer {
	return &Writer{Dir: dir, Region: region}
}

// ArtifactName returns e.g. "NO2_Indonesia_Daily_20240131_linear_interp.nc".
func ArtifactName(region string, date time.Time, method domain.FillMethod) string {
	return fmt.Sprintf("NO2_%s_Daily_%s_%s.nc", region, date.Format("20060102"), suffix(method))
}

func suffix(method domain.FillMethod) string {
	if method == domain.MethodOriginal {
		return string(method)
	}
	return string(method) + "_interp"
}

// Write persists the variant for date, replacing any previous artifact with the same name.
func (w *Writer) Write(filled domain.FilledGrid, date time.Time) (domain.GridArtifact, error) {
	grid := filled.Grid
	if grid == nil {
		return domain.GridArtifact{}, fmt.Errorf("%s: %w", filled.Method, domain.ErrEmptyGrid)
	}
	if err := grid.Validate(); err != nil {
		return domain.GridArtifact{}, fmt.Errorf("%s: invalid grid: %w", filled.Method, err)
	}
	cells := grid.Count()
	if cells == 0 {
		return domain.GridArtifact{}, fmt.Errorf("%s: %w", filled.Method, domain.ErrEmptyGrid)
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return domain.GridArtifact{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(w.Dir, ArtifactName(w.Region, date, filled.Method))

	// The NetCDF library creates the file itself, so reserve a unique name and let it clobber.
	tmp, err := os.CreateTemp(w.Dir, ".artifact-*.nc")
	if err != nil {
		return domain.GridArtifact{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	status := "ok"
	if filled.Degraded() {
		status = "fallback: " + filled.Fallback.Error()
	}
	err = ncio.Do(func() error { return writeFile(tmpPath, grid, filled.Method, status, date) })
	if err != nil {
		return domain.GridArtifact{}, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return domain.GridArtifact{}, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	art := domain.GridArtifact{
		Date:        date,
		Method:      filled.Method,
		Path:        path,
		Cells:       len(grid.Lat) * len(grid.Lon),
		FilledCells: cells,
	}
	if filled.Degraded() {
		art.Fallback = filled.Fallback.Error()
	}
	return art, nil
}

//nolint:gocyclo // One step per NetCDF definition call.
func writeFile(path string, grid *domain.CanonicalGrid, method domain.FillMethod, status string, date time.Time) (err error) {
	ds, err := cdf.CreateFile(path, cdf.CLOBBER|cdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	timeDim, err := ds.AddDim("time", 1)
	if err != nil {
		return err
	}
	yDim, err := ds.AddDim("y", uint64(len(grid.Lat)))
	if err != nil {
		return err
	}
	xDim, err := ds.AddDim("x", uint64(len(grid.Lon)))
	if err != nil {
		return err
	}

	timeVar, err := ds.AddVar("time", cdf.INT, []cdf.Dim{timeDim})
	if err != nil {
		return err
	}
	yVar, err := ds.AddVar("y", cdf.DOUBLE, []cdf.Dim{yDim})
	if err != nil {
		return err
	}
	xVar, err := ds.AddVar("x", cdf.DOUBLE, []cdf.Dim{xDim})
	if err != nil {
		return err
	}
	dataVar, err := ds.AddVar(grid.Variable, cdf.FLOAT, []cdf.Dim{timeDim, yDim, xDim})
	if err != nil {
		return err
	}

	attrs := []struct {
		a     cdf.Attr
		value string
	}{
		{timeVar.Attr("units"), timeUnits},
		{timeVar.Attr("calendar"), "gregorian"},
		{timeVar.Attr("standard_name"), "time"},
		{yVar.Attr("units"), "degrees_north"},
		{yVar.Attr("standard_name"), "latitude"},
		{xVar.Attr("units"), "degrees_east"},
		{xVar.Attr("standard_name"), "longitude"},
		{dataVar.Attr("units"), grid.Units},
		{dataVar.Attr("long_name"), grid.LongName},
		{ds.Attr("fill_method"), string(method)},
		{ds.Attr("fill_status"), status},
		{ds.Attr("source"), source},
	}
	for _, at := range attrs {
		if at.value == "" {
			continue
		}
		if err := at.a.WriteBytes([]byte(at.value)); err != nil {
			return fmt.Errorf("attribute %s: %w", at.a.Name(), err)
		}
	}
	if err := dataVar.Attr("_FillValue").WriteFloat32s([]float32{float32(math.NaN())}); err != nil {
		return fmt.Errorf("attribute _FillValue: %w", err)
	}

	if err := ds.EndDef(); err != nil {
		return err
	}

	days := int32(date.UTC().Truncate(24*time.Hour).Sub(epoch) / (24 * time.Hour))
	if err := timeVar.WriteInt32s([]int32{days}); err != nil {
		return fmt.Errorf("write time: %w", err)
	}
	if err := yVar.WriteFloat64s(grid.Lat); err != nil {
		return fmt.Errorf("write y: %w", err)
	}
	if err := xVar.WriteFloat64s(grid.Lon); err != nil {
		return fmt.Errorf("write x: %w", err)
	}

	flat := make([]float32, 0, len(grid.Lat)*len(grid.Lon))
	for _, row := range grid.Values {
		for _, v := range row {
			flat = append(flat, float32(v))
		}
	}
	if err := dataVar.WriteFloat32s(flat); err != nil {
		return fmt.Errorf("write %s: %w", grid.Variable, err)
	}
	return nil
}

// Artifact is a persisted grid read back from disk.
type Artifact struct {
	Grid       *domain.CanonicalGrid
	Date       time.Time
	Method     domain.FillMethod
	FillStatus string
}

// Read loads an artifact written by Writer.
func Read(path, variable string) (*Artifact, error) {
	var art *Artifact
	err := ncio.Do(func() error {
		var err error
		art, err = readArtifact(path, variable)
		return err
	})
	return art, err
}

func readArtifact(path, variable string) (*Artifact, error) {
	ds, err := cdf.OpenFile(path, cdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = ds.Close() }()

	lat, err := readDoubles(ds, "y")
	if err != nil {
		return nil, err
	}
	lon, err := readDoubles(ds, "x")
	if err != nil {
		return nil, err
	}

	dataVar, err := ds.Var(variable)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", variable, err)
	}
	flat := make([]float32, len(lat)*len(lon))
	if err := dataVar.ReadFloat32s(flat); err != nil {
		return nil, fmt.Errorf("read %s: %w", variable, err)
	}

	grid := domain.NewCanonicalGrid(variable, lon, lat)
	for y := range lat {
		for x := range lon {
			if v := flat[y*len(lon)+x]; !math.IsNaN(float64(v)) {
				grid.Values[y][x] = float64(v)
			}
		}
	}
	grid.Units = readText(dataVar.Attr("units"))
	grid.LongName = readText(dataVar.Attr("long_name"))

	out := &Artifact{
		Grid:       grid,
		Method:     domain.FillMethod(readText(ds.Attr("fill_method"))),
		FillStatus: readText(ds.Attr("fill_status")),
	}
	timeVar, err := ds.Var("time")
	if err != nil {
		return nil, fmt.Errorf("variable time: %w", err)
	}
	days := make([]int32, 1)
	if err := timeVar.ReadInt32s(days); err != nil {
		return nil, fmt.Errorf("read time: %w", err)
	}
	out.Date = epoch.AddDate(0, 0, int(days[0]))
	return out, nil
}

func readDoubles(ds cdf.Dataset, name string) ([]float64, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	n, err := v.Len()
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	if err := v.ReadFloat64s(out); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

func readText(a cdf.Attr) string {
	n, err := a.Len()
	if err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return ""
	}
	return string(buf)
}

