package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

const fill = float32(-9999)

var testDate = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

type layout int

const (
	latLon layout = iota
	lonLat
	timeLatLon
)

// createTileNC writes a tile with y/x axes and an NO2 variable laid out as requested.
// values is always given as [lat][lon].
func createTileNC(t *testing.T, path string, lon, lat []float64, values [][]float32, l layout) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	require.NoError(t, err)
	defer f.Close()

	yDim, err := f.AddDim("y", uint64(len(lat)))
	require.NoError(t, err)
	xDim, err := f.AddDim("x", uint64(len(lon)))
	require.NoError(t, err)
	vy, err := f.AddVar("y", netcdf.DOUBLE, []netcdf.Dim{yDim})
	require.NoError(t, err)
	vx, err := f.AddVar("x", netcdf.DOUBLE, []netcdf.Dim{xDim})
	require.NoError(t, err)

	var dims []netcdf.Dim
	flat := make([]float32, 0, len(lat)*len(lon))
	switch l {
	case latLon, timeLatLon:
		dims = []netcdf.Dim{yDim, xDim}
		if l == timeLatLon {
			tDim, err := f.AddDim("t", 1)
			require.NoError(t, err)
			dims = append([]netcdf.Dim{tDim}, dims...)
		}
		for _, row := range values {
			flat = append(flat, row...)
		}
	case lonLat:
		dims = []netcdf.Dim{xDim, yDim}
		for x := range lon {
			for y := range lat {
				flat = append(flat, values[y][x])
			}
		}
	}
	vd, err := f.AddVar("NO2", netcdf.FLOAT, dims)
	require.NoError(t, err)
	require.NoError(t, vd.Attr("_FillValue").WriteFloat32s([]float32{fill}))

	require.NoError(t, f.EndDef())
	require.NoError(t, vy.WriteFloat64s(lat))
	require.NoError(t, vx.WriteFloat64s(lon))
	require.NoError(t, vd.WriteFloat32s(flat))
}

// createAxesOnlyNC writes a tile that has coordinates but no data variable.
func createAxesOnlyNC(t *testing.T, path string) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	require.NoError(t, err)
	defer f.Close()

	latDim, err := f.AddDim("lat", 2)
	require.NoError(t, err)
	lonDim, err := f.AddDim("lon", 2)
	require.NoError(t, err)
	vlat, err := f.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	require.NoError(t, err)
	vlon, err := f.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	require.NoError(t, err)
	require.NoError(t, f.EndDef())
	require.NoError(t, vlat.WriteFloat64s([]float64{-1, 0}))
	require.NoError(t, vlon.WriteFloat64s([]float64{100, 101}))
}

var (
	fixtureLon    = []float64{95.0, 95.5, 96.0}
	fixtureLat    = []float64{-1.0, -0.5}
	fixtureValues = [][]float32{
		{1, 2, 3},
		{4, fill, 6},
	}
	testTile = domain.Tile{Name: "box_1_1", Extent: domain.Extent{West: 95, East: 96, South: -1, North: -0.5}}
)

func assertFixture(t *testing.T, grid *domain.TileGrid) {
	t.Helper()
	require.False(t, grid.Empty())
	assert.Equal(t, "box_1_1", grid.Tile)
	assert.Equal(t, "NO2", grid.Variable)
	assert.Equal(t, fixtureLon, grid.Lon)
	assert.Equal(t, fixtureLat, grid.Lat)
	require.Len(t, grid.Values, 2)
	assert.Equal(t, []float64{1, 2, 3}, grid.Values[0])
	assert.Equal(t, 4.0, grid.Values[1][0])
	assert.True(t, domain.IsMissing(grid.Values[1][1]), "fill value should become a hole")
	assert.Equal(t, 6.0, grid.Values[1][2])
}

func TestTileFileName(t *testing.T) {
	assert.Equal(t, "NO2_box_2_1_20240131.nc", TileFileName("NO2", "box_2_1", testDate))
}

func TestLocalFetcher_Layouts(t *testing.T) {
	cases := []struct {
		name   string
		layout layout
	}{
		{"lat-lon", latLon},
		{"lon-lat", lonLat},
		{"time-lat-lon", timeLatLon},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			f := NewLocalFetcher(dir, "NO2")
			createTileNC(t, f.Path(testTile, testDate), fixtureLon, fixtureLat, fixtureValues, tc.layout)

			grid, err := f.Fetch(context.Background(), testTile, testDate)
			require.NoError(t, err)
			assertFixture(t, grid)
		})
	}
}

func TestLocalFetcher_MissingVariableIsEmpty(t *testing.T) {
	dir := t.TempDir()
	f := NewLocalFetcher(dir, "NO2")
	createAxesOnlyNC(t, f.Path(testTile, testDate))

	grid, err := f.Fetch(context.Background(), testTile, testDate)
	require.NoError(t, err)
	assert.True(t, grid.Empty())
	assert.Equal(t, []float64{100, 101}, grid.Lon)
}

func TestLocalFetcher_MissingFile(t *testing.T) {
	f := NewLocalFetcher(t.TempDir(), "NO2")
	_, err := f.Fetch(context.Background(), testTile, testDate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLocalFetcher_NotNetCDF(t *testing.T) {
	dir := t.TempDir()
	f := NewLocalFetcher(dir, "NO2")
	require.NoError(t, os.WriteFile(f.Path(testTile, testDate), []byte("<html>quota exceeded</html>"), 0o644))

	_, err := f.Fetch(context.Background(), testTile, testDate)
	assert.Error(t, err)
}

type fakeFetcher struct {
	mu      sync.Mutex
	fail    map[string]bool
	delay   map[string]time.Duration
	calls   []string
	running int32
	peak    int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, tile domain.Tile, _ time.Time) (*domain.TileGrid, error) {
	n := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, tile.Name)
	f.mu.Unlock()

	if d := f.delay[tile.Name]; d > 0 {
		time.Sleep(d)
	}
	if f.fail[tile.Name] {
		return nil, fmt.Errorf("service unavailable")
	}
	return &domain.TileGrid{
		Variable: "NO2",
		Lon:      []float64{tile.Extent.West},
		Lat:      []float64{tile.Extent.South},
		Values:   [][]float64{{1}},
	}, nil
}

func TestFetchAll_IsolatesFailuresAndKeepsOrder(t *testing.T) {
	tiles, err := domain.Partition(domain.Extent{West: 0, East: 4, South: 0, North: 2}, domain.Divisions{X: 4, Y: 2})
	require.NoError(t, err)

	f := &fakeFetcher{
		fail:  map[string]bool{"box_2_1": true, "box_4_2": true},
		delay: map[string]time.Duration{"box_1_1": 20 * time.Millisecond},
	}
	var observed int32
	results := FetchAll(context.Background(), f, tiles, testDate, 3, nil, func(TileResult) {
		atomic.AddInt32(&observed, 1)
	})

	require.Len(t, results, len(tiles))
	assert.EqualValues(t, len(tiles), observed)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.peak), int32(3))

	for i, r := range results {
		assert.Equal(t, tiles[i].Name, r.Tile.Name)
		if f.fail[r.Tile.Name] {
			assert.False(t, r.OK())
			assert.True(t, errors.Is(r.Err, domain.ErrTileFetch))
			assert.Contains(t, r.Err.Error(), r.Tile.Name)
			continue
		}
		require.True(t, r.OK(), r.Tile.Name)
		assert.Equal(t, r.Tile.Name, r.Grid.Tile, "tile name is filled in")
	}

	grids := Grids(results)
	assert.Len(t, grids, len(tiles)-2)
	assert.Equal(t, "box_1_1", grids[0].Tile)
}

func TestFetchAll_Cancelled(t *testing.T) {
	tiles, err := domain.Partition(domain.Extent{West: 0, East: 2, South: 0, North: 1}, domain.Divisions{X: 2, Y: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := FetchAll(ctx, &fakeFetcher{}, tiles, testDate, 2, nil, nil)
	for _, r := range results {
		assert.True(t, errors.Is(r.Err, domain.ErrTileFetch))
		assert.True(t, errors.Is(r.Err, context.Canceled))
	}
}

func TestFetchAll_LocalFetcherConcurrentReads(t *testing.T) {
	tiles, err := domain.Partition(domain.Extent{West: 0, East: 8, South: 0, North: 2}, domain.Divisions{X: 8, Y: 2})
	require.NoError(t, err)

	dir := t.TempDir()
	f := NewLocalFetcher(dir, "NO2")
	for _, tile := range tiles {
		createTileNC(t, f.Path(tile, testDate), fixtureLon, fixtureLat, fixtureValues, latLon)
	}

	for range 25 {
		results := FetchAll(context.Background(), f, tiles, testDate, 8, nil, nil)
		require.Len(t, results, len(tiles))
		for _, r := range results {
			require.True(t, r.OK(), "%s: %v", r.Tile.Name, r.Err)
			assert.Equal(t, fixtureLon, r.Grid.Lon)
			assert.Equal(t, 6.0, r.Grid.Values[1][2])
		}
	}
}

func fixtureBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.nc")
	createTileNC(t, path, fixtureLon, fixtureLat, fixtureValues, latLon)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestHTTPFetcher_URL(t *testing.T) {
	f := NewHTTPFetcher("https://example.test/no2?bbox={west},{south},{east},{north}&date={date}&id={tile}", t.TempDir(), "NO2")
	got := f.URL(testTile, testDate)
	assert.Equal(t, "https://example.test/no2?bbox=95,-1,96,-0.5&date=2024-01-31&id=box_1_1", got)
}

func TestHTTPFetcher_RetriesTransientFailures(t *testing.T) {
	body := fixtureBytes(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/tiles/box_1_1/2024-01-31", r.URL.Path)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(srv.URL+"/tiles/{tile}/{date}", dir, "NO2", WithRetries(5, time.Millisecond))
	grid, err := f.Fetch(context.Background(), testTile, testDate)
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits)
	assertFixture(t, grid)

	_, err = os.Stat(filepath.Join(dir, "NO2_box_1_1_20240131.nc"))
	assert.NoError(t, err, "download is kept in the tile directory")
}

func TestHTTPFetcher_ClientErrorIsPermanent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/{tile}", t.TempDir(), "NO2", WithRetries(5, time.Millisecond))
	_, err := f.Fetch(context.Background(), testTile, testDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.EqualValues(t, 1, hits)
}

func TestHTTPFetcher_GivesUpAfterRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, t.TempDir(), "NO2", WithRetries(2, time.Millisecond))
	_, err := f.Fetch(context.Background(), testTile, testDate)
	require.Error(t, err)
	assert.EqualValues(t, 3, hits)
}

func TestHTTPFetcher_NoContentIsEmptyTile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, t.TempDir(), "NO2", WithRetries(2, time.Millisecond))
	grid, err := f.Fetch(context.Background(), testTile, testDate)
	require.NoError(t, err)
	assert.True(t, grid.Empty())
	assert.Equal(t, "box_1_1", grid.Tile)
}

func TestHTTPFetcher_RemovesStaleFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(srv.URL, dir, "NO2", WithRetries(0, time.Millisecond))
	stale := filepath.Join(dir, "NO2_box_1_1_20240131.nc")
	createTileNC(t, stale, fixtureLon, fixtureLat, fixtureValues, latLon)

	_, err := f.Fetch(context.Background(), testTile, testDate)
	require.Error(t, err)
	_, err = os.Stat(stale)
	assert.True(t, errors.Is(err, os.ErrNotExist), "stale tile must not be reused after a failed download")
}
