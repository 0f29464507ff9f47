package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// HTTPFetcher downloads each tile as a NetCDF file and decodes it with a LocalFetcher.
//
// The URL template may reference {tile}, {date}, {west}, {east}, {south} and {north}.
// Downloads land in the tile directory under the same name LocalFetcher reads,
// so a later run can reuse them.
type HTTPFetcher struct {
	urlTemplate     string
	client          *http.Client
	local           *LocalFetcher
	maxRetries      uint64
	initialInterval time.Duration
	logger          *zap.Logger
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client (and with it the request timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithRetries sets the retry budget and the first backoff interval.
func WithRetries(maxRetries uint64, initial time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.maxRetries = maxRetries
		f.initialInterval = initial
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher downloading into dir.
func NewHTTPFetcher(urlTemplate, dir, variable string, opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		urlTemplate:     urlTemplate,
		client:          &http.Client{Timeout: 5 * time.Minute},
		local:           NewLocalFetcher(dir, variable),
		maxRetries:      3,
		initialInterval: time.Second,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL expands the template for tile and date.
func (f *HTTPFetcher) URL(tile domain.Tile, date time.Time) string {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	r := strings.NewReplacer(
		"{tile}", tile.Name,
		"{date}", date.Format("2006-01-02"),
		"{west}", format(tile.Extent.West),
		"{east}", format(tile.Extent.East),
		"{south}", format(tile.Extent.South),
		"{north}", format(tile.Extent.North),
	)
	return r.Replace(f.urlTemplate)
}

// errNoContent marks a tile the service has no data for.
var errNoContent = errors.New("no content")

// Fetch downloads the tile, replacing any stale copy, then decodes it.
func (f *HTTPFetcher) Fetch(ctx context.Context, tile domain.Tile, date time.Time) (*domain.TileGrid, error) {
	path := f.local.Path(tile, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tile directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale tile file: %w", err)
	}

	url := f.URL(tile, date)
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, f.maxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		return f.download(ctx, url, path)
	}, policy, func(err error, wait time.Duration) {
		f.logger.Warn("tile download failed, retrying",
			zap.String("tile", tile.Name),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if errors.Is(err, errNoContent) {
		f.logger.Info("no data for tile", zap.String("tile", tile.Name))
		return &domain.TileGrid{Tile: tile.Name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", tile.Name, err)
	}

	return f.local.Fetch(ctx, tile, date)
}

// download fetches url into path atomically. 4xx responses are not retried.
func (f *HTTPFetcher) download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return backoff.Permanent(errNoContent)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*.nc")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
