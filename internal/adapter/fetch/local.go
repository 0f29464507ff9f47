package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// LocalFetcher reads tiles that were already downloaded into a directory.
type LocalFetcher struct {
	dir      string
	variable string
}

// NewLocalFetcher creates a fetcher reading {variable}_{tile}_{YYYYMMDD}.nc files from dir.
func NewLocalFetcher(dir, variable string) *LocalFetcher {
	return &LocalFetcher{dir: dir, variable: variable}
}

// Path returns the file a tile is read from.
func (f *LocalFetcher) Path(tile domain.Tile, date time.Time) string {
	return filepath.Join(f.dir, TileFileName(f.variable, tile.Name, date))
}

// Fetch reads the tile file for date.
func (f *LocalFetcher) Fetch(ctx context.Context, tile domain.Tile, date time.Time) (*domain.TileGrid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.Path(tile, date)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tile file %s: %w", path, err)
	}
	grid, err := readTileFile(path, tile.Name, f.variable)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s from %s: %w", tile.Name, path, err)
	}
	return grid, nil
}
