// Package main generates synthetic per-tile NO2 NetCDF files for local runs
// of the daily pipeline.
package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/fetch"
	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/ncio"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
	"github.com/alberthnahas/sentinel-no2-daily/internal/logging"
)

const fillValue float32 = -9999

type options struct {
	outDir     string
	variable   string
	date       string
	extent     domain.Extent
	divisions  domain.Divisions
	resolution float64
	holes      float64
	emptyTiles []string
	seed       int64
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "tile-generator",
		Short:         "Write synthetic NO2 tile files in the layout the local fetcher reads",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New("info", "console")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return generate(opts, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.outDir, "out", "./data/tiles", "output directory for tile files")
	f.StringVar(&opts.variable, "variable", "NO2", "data variable name")
	f.StringVar(&opts.date, "date", time.Now().UTC().Format("2006-01-02"), "acquisition date, YYYY-MM-DD")
	f.Float64Var(&opts.extent.West, "west", 95, "western bound")
	f.Float64Var(&opts.extent.East, "east", 141, "eastern bound")
	f.Float64Var(&opts.extent.South, "south", -11, "southern bound")
	f.Float64Var(&opts.extent.North, "north", 6, "northern bound")
	f.IntVar(&opts.divisions.X, "x-divisions", 5, "tile columns")
	f.IntVar(&opts.divisions.Y, "y-divisions", 2, "tile rows")
	f.Float64Var(&opts.resolution, "resolution", 0.05, "grid resolution in degrees")
	f.Float64Var(&opts.holes, "holes", 0.2, "fraction of cells left as fill values")
	f.StringSliceVar(&opts.emptyTiles, "empty", nil, "tiles written without a data variable (e.g. box_1_2)")
	f.Int64Var(&opts.seed, "seed", 1, "random seed for hole placement")
	return cmd
}

func generate(opts options, logger *zap.Logger) error {
	date, err := time.Parse("2006-01-02", opts.date)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}
	if opts.resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %v", opts.resolution)
	}
	if opts.holes < 0 || opts.holes >= 1 {
		return fmt.Errorf("holes must be in [0, 1), got %v", opts.holes)
	}
	tiles, err := domain.Partition(opts.extent, opts.divisions)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	empty := make(map[string]bool, len(opts.emptyTiles))
	for _, name := range opts.emptyTiles {
		empty[name] = true
	}

	rng := rand.New(rand.NewSource(opts.seed))
	for _, tile := range tiles {
		path := filepath.Join(opts.outDir, fetch.TileFileName(opts.variable, tile.Name, date))
		lon := axis(tile.Extent.West, tile.Extent.East, opts.resolution)
		lat := axis(tile.Extent.South, tile.Extent.North, opts.resolution)

		var values []float32
		if !empty[tile.Name] {
			values = field(lon, lat, opts.holes, rng)
		}
		err := ncio.Do(func() error { return writeTile(path, opts.variable, lon, lat, values) })
		if err != nil {
			return fmt.Errorf("tile %s: %w", tile.Name, err)
		}
		logger.Info("tile written",
			zap.String("tile", tile.Name),
			zap.String("path", path),
			zap.Int("x", len(lon)),
			zap.Int("y", len(lat)),
			zap.Bool("empty", values == nil))
	}
	return nil
}

// axis samples [lo, hi] inclusive at step.
func axis(lo, hi, step float64) []float64 {
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// field is a smooth column-density pattern in mol/m², row-major by latitude.
func field(lon, lat []float64, holes float64, rng *rand.Rand) []float32 {
	out := make([]float32, 0, len(lat)*len(lon))
	for _, y := range lat {
		for _, x := range lon {
			if rng.Float64() < holes {
				out = append(out, fillValue)
				continue
			}
			v := 4e-5 +
				2e-5*math.Sin(x*math.Pi/15) +
				1.5e-5*math.Cos(y*math.Pi/10) +
				5e-6*math.Sin((x+y)*math.Pi/7)
			out = append(out, float32(math.Max(v, 1e-6)))
		}
	}
	return out
}

// writeTile writes y/x axes and, unless values is nil, a (y, x) data variable.
func writeTile(path, variable string, lon, lat []float64, values []float32) error {
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer ds.Close()

	yDim, err := ds.AddDim("y", uint64(len(lat)))
	if err != nil {
		return err
	}
	xDim, err := ds.AddDim("x", uint64(len(lon)))
	if err != nil {
		return err
	}
	yVar, err := ds.AddVar("y", netcdf.DOUBLE, []netcdf.Dim{yDim})
	if err != nil {
		return err
	}
	xVar, err := ds.AddVar("x", netcdf.DOUBLE, []netcdf.Dim{xDim})
	if err != nil {
		return err
	}

	var dataVar netcdf.Var
	if values != nil {
		dataVar, err = ds.AddVar(variable, netcdf.FLOAT, []netcdf.Dim{yDim, xDim})
		if err != nil {
			return err
		}
		if err := dataVar.Attr("_FillValue").WriteFloat32s([]float32{fillValue}); err != nil {
			return err
		}
		if err := dataVar.Attr("units").WriteBytes([]byte("mol m-2")); err != nil {
			return err
		}
	}

	if err := ds.EndDef(); err != nil {
		return err
	}
	if err := yVar.WriteFloat64s(lat); err != nil {
		return err
	}
	if err := xVar.WriteFloat64s(lon); err != nil {
		return err
	}
	if values != nil {
		if err := dataVar.WriteFloat32s(values); err != nil {
			return err
		}
	}
	return nil
}
