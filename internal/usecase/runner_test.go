package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/catalog"
	ncstore "github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/netcdf"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// gatedFetcher blocks every fetch until release is closed.
type gatedFetcher struct {
	gridFetcher
	release chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, tile domain.Tile, date time.Time) (*domain.TileGrid, error) {
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.gridFetcher.Fetch(ctx, tile, date)
}

func TestRunner_StartAndComplete(t *testing.T) {
	p := NewPipeline(testOptions(), &gridFetcher{}, nil, ncstore.NewWriter(t.TempDir(), "Test"))
	r := NewRunner(context.Background(), p, 10)

	state, err := r.Start(runDate)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRunning, state.Status)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), state.Date)

	r.Wait()
	got, ok := r.Get(state.RunID)
	require.True(t, ok)
	assert.Equal(t, catalog.StatusSucceeded, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, state.RunID, got.Report.RunID)
	assert.Len(t, got.Report.Artifacts(), 3)

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestRunner_OneRunPerDate(t *testing.T) {
	f := &gatedFetcher{release: make(chan struct{})}
	p := NewPipeline(testOptions(), f, nil, ncstore.NewWriter(t.TempDir(), "Test"))
	r := NewRunner(context.Background(), p, 10)

	first, err := r.Start(runDate)
	require.NoError(t, err)

	dup, err := r.Start(runDate)
	assert.True(t, errors.Is(err, ErrRunInProgress))
	assert.Equal(t, first.RunID, dup.RunID)

	other, err := r.Start(runDate.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, other.RunID)

	close(f.release)
	r.Wait()

	runs := r.List()
	assert.Len(t, runs, 2)
	for _, s := range runs {
		assert.Equal(t, catalog.StatusSucceeded, s.Status)
	}

	// The date is free again once the run has finished.
	_, err = r.Start(runDate)
	require.NoError(t, err)
	r.Wait()
}

func TestRunner_RejectsInvalidConfiguration(t *testing.T) {
	opts := testOptions()
	opts.Divisions.X = 0
	p := NewPipeline(opts, &gridFetcher{}, nil, ncstore.NewWriter(t.TempDir(), "Test"))
	r := NewRunner(context.Background(), p, 10)

	_, err := r.Start(runDate)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
	assert.Empty(t, r.List())
}

func TestRunner_EvictsOldFinishedRuns(t *testing.T) {
	p := NewPipeline(testOptions(), &gridFetcher{}, nil, ncstore.NewWriter(t.TempDir(), "Test"))
	r := NewRunner(context.Background(), p, 2)

	for i := 0; i < 4; i++ {
		_, err := r.Start(runDate.AddDate(0, 0, i))
		require.NoError(t, err)
		r.Wait()
	}
	assert.Len(t, r.List(), 2)
}
