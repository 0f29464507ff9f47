package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

var day = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	clock := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return c
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	require.NoError(t, c.StartRun(ctx, "run-1", day, 10))
	run, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, 10, run.TilesTotal)
	assert.True(t, run.Date.Equal(day))
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, c.FinishRun(ctx, "run-1", StatusFailed, 0, 10, domain.ErrEmptyAcquisition))
	run, err = c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 10, run.TilesFailed)
	assert.Equal(t, "empty acquisition", run.Error)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.After(run.StartedAt))
}

func TestGetRun_NotFound(t *testing.T) {
	c := openTest(t)
	_, err := c.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = c.FinishRun(context.Background(), "missing", StatusSucceeded, 0, 0, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.StartRun(ctx, id, day, 10))
	}

	runs, err := c.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestPutArtifact_ReplacesPerDateAndMethod(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	require.NoError(t, c.StartRun(ctx, "run-1", day, 10))
	require.NoError(t, c.StartRun(ctx, "run-2", day, 10))

	put := func(runID string, method domain.FillMethod, filled int, fallback string) {
		require.NoError(t, c.PutArtifact(ctx, runID, domain.GridArtifact{
			Date:        day,
			Method:      method,
			Path:        "/out/" + string(method) + ".nc",
			Cells:       100,
			FilledCells: filled,
			Fallback:    fallback,
		}))
	}
	put("run-1", domain.MethodCubic, 90, "")
	put("run-1", domain.MethodOriginal, 40, "")
	put("run-1", domain.MethodLinear, 70, "")
	put("run-2", domain.MethodLinear, 40, "insufficient samples")

	arts, err := c.Artifacts(ctx, day)
	require.NoError(t, err)
	require.Len(t, arts, 3)
	assert.Equal(t, domain.MethodOriginal, arts[0].Method)
	assert.Equal(t, domain.MethodLinear, arts[1].Method)
	assert.Equal(t, domain.MethodCubic, arts[2].Method)
	assert.Equal(t, 40, arts[1].FilledCells)
	assert.Equal(t, "insufficient samples", arts[1].Fallback)
	assert.True(t, arts[0].Date.Equal(day))

	none, err := c.Artifacts(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPutArtifact_UnknownRun(t *testing.T) {
	c := openTest(t)
	err := c.PutArtifact(context.Background(), "ghost", domain.GridArtifact{Date: day, Method: domain.MethodOriginal, Path: "x"})
	assert.Error(t, err)
}

func TestOpen_ReopenKeepsSchemaAndRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.StartRun(ctx, "run-1", day, 4))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	version, dirty, err := schemaVersion(c.db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.False(t, dirty)

	run, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, run.TilesTotal)
}
