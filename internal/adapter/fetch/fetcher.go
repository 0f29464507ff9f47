// Package fetch acquires per-tile fields from the acquisition service or from disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// Fetcher returns the gridded field of one tile for one date.
//
// Timeouts and cancellation are the fetcher's concern and follow ctx.
type Fetcher interface {
	Fetch(ctx context.Context, tile domain.Tile, date time.Time) (*domain.TileGrid, error)
}

// TileResult is the outcome of fetching one tile: exactly one of Grid and Err is set.
type TileResult struct {
	Tile     domain.Tile
	Grid     *domain.TileGrid
	Err      error
	Duration time.Duration
}

// OK reports whether the tile produced a grid.
func (r TileResult) OK() bool {
	return r.Err == nil && r.Grid != nil
}

// Observer is notified after every tile fetch.
type Observer func(TileResult)

// FetchAll fetches every tile with at most workers concurrent calls.
//
// A failing tile never stops the others; its error wraps domain.ErrTileFetch.
// Results are returned in tile order regardless of completion order.
func FetchAll(ctx context.Context, f Fetcher, tiles []domain.Tile, date time.Time, workers int, logger *zap.Logger, observe Observer) []TileResult {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]TileResult, len(tiles))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, tile := range tiles {
		g.Go(func() error {
			results[i] = fetchOne(ctx, f, tile, date, logger)
			if observe != nil {
				observe(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func fetchOne(ctx context.Context, f Fetcher, tile domain.Tile, date time.Time, logger *zap.Logger) TileResult {
	start := time.Now()
	res := TileResult{Tile: tile}

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", domain.ErrTileFetch, tile.Name, err)
		return res
	}

	logger.Info("fetching tile", zap.String("tile", tile.Name), zap.Any("extent", tile.Extent))
	grid, err := f.Fetch(ctx, tile, date)
	res.Duration = time.Since(start)
	switch {
	case err != nil:
		if !errors.Is(err, domain.ErrTileFetch) {
			err = fmt.Errorf("%w: %s: %w", domain.ErrTileFetch, tile.Name, err)
		}
		res.Err = err
		logger.Warn("tile fetch failed", zap.String("tile", tile.Name), zap.Error(err))
	case grid == nil:
		res.Err = fmt.Errorf("%w: %s: fetcher returned no grid", domain.ErrTileFetch, tile.Name)
		logger.Warn("tile fetch returned nothing", zap.String("tile", tile.Name))
	default:
		if grid.Tile == "" {
			grid.Tile = tile.Name
		}
		res.Grid = grid
		logger.Info("tile fetched",
			zap.String("tile", tile.Name),
			zap.Int("lon", len(grid.Lon)),
			zap.Int("lat", len(grid.Lat)),
			zap.Duration("took", res.Duration))
	}
	return res
}

// Grids collects the grids of successful results, in result order.
func Grids(results []TileResult) []*domain.TileGrid {
	out := make([]*domain.TileGrid, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Grid)
		}
	}
	return out
}

// TileFileName is the on-disk name of a tile for date, e.g. "NO2_box_1_1_20240131.nc".
func TileFileName(variable, tile string, date time.Time) string {
	return fmt.Sprintf("%s_%s_%s.nc", variable, tile, date.Format("20060102"))
}
