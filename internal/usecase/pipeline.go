package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/fetch"
	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/interp"
	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/catalog"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
	"github.com/alberthnahas/sentinel-no2-daily/internal/metrics"
)

// Default unit conversion: mol/m² to molecules/cm².
const (
	DefaultScaleFactor = 6.022e19
	DefaultUnits       = "molecules/cm^2"
	DefaultLongName    = "Tropospheric vertical column of Nitrogen Dioxide"
)

// Persister stores one grid variant for a date.
type Persister interface {
	Write(filled domain.FilledGrid, date time.Time) (domain.GridArtifact, error)
}

// Recorder keeps a durable record of runs and their artifacts.
type Recorder interface {
	StartRun(ctx context.Context, id string, date time.Time, tilesTotal int) error
	FinishRun(ctx context.Context, id string, status catalog.RunStatus, tilesOK, tilesFailed int, runErr error) error
	PutArtifact(ctx context.Context, runID string, art domain.GridArtifact) error
}

// Options is the static configuration of a pipeline.
type Options struct {
	Extent    domain.Extent
	Divisions domain.Divisions
	Variable  string
	Precision int
	Workers   int

	ScaleFactor float64
	Units       string
	LongName    string
}

// Validate checks the area and tiling before any work starts.
func (o Options) Validate() error {
	if err := o.Extent.Validate(); err != nil {
		return err
	}
	if err := o.Divisions.Validate(); err != nil {
		return err
	}
	if o.Precision < 0 {
		return fmt.Errorf("%w: precision must not be negative, got %d", domain.ErrInvalidConfiguration, o.Precision)
	}
	return nil
}

// Pipeline runs the daily acquisition, merge, fill and persist sequence.
type Pipeline struct {
	opts      Options
	fetcher   fetch.Fetcher
	filler    *interp.Filler
	persister Persister
	recorder  Recorder
	metrics   *metrics.Pipeline
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithRecorder records runs and artifacts, e.g. in the SQLite catalog.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMetrics reports stage timings and outcomes.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires a pipeline. A nil filler uses the default linear and cubic estimators.
func NewPipeline(opts Options, f fetch.Fetcher, filler *interp.Filler, persister Persister, options ...Option) *Pipeline {
	if opts.Variable == "" {
		opts.Variable = "NO2"
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ScaleFactor == 0 {
		opts.ScaleFactor = DefaultScaleFactor
		opts.Units = DefaultUnits
		opts.LongName = DefaultLongName
	}
	p := &Pipeline{
		opts:      opts,
		fetcher:   f,
		persister: persister,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, o := range options {
		o(p)
	}
	if filler == nil {
		filler = interp.NewFiller(p.logger)
	}
	p.filler = filler
	return p
}

// Options returns the pipeline configuration.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Tiles returns the partition of the configured extent.
func (p *Pipeline) Tiles() ([]domain.Tile, error) {
	return domain.Partition(p.opts.Extent, p.opts.Divisions)
}

// Run processes one date.
//
// Configuration errors are returned before any tile is fetched. If no tile
// yields usable data the run fails with domain.ErrEmptyAcquisition and nothing is
// written. Otherwise every variant is persisted; persistence failures are joined
// into the returned error alongside the report of what did complete.
func (p *Pipeline) Run(ctx context.Context, date time.Time) (*RunReport, error) {
	return p.RunWithID(ctx, p.newID(), date)
}

// RunWithID is Run with a caller-assigned run id.
func (p *Pipeline) RunWithID(ctx context.Context, id string, date time.Time) (*RunReport, error) {
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}
	tiles, err := p.Tiles()
	if err != nil {
		return nil, err
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	report := &RunReport{RunID: id, Date: day, Status: catalog.StatusRunning}
	started := p.now()
	log := p.logger.With(zap.String("run_id", report.RunID), zap.String("date", day.Format("2006-01-02")))
	log.Info("pipeline run started", zap.Int("tiles", len(tiles)), zap.Any("extent", p.opts.Extent))

	if p.recorder != nil {
		if err := p.recorder.StartRun(ctx, report.RunID, day, len(tiles)); err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		}
	}

	runErr := p.run(ctx, day, tiles, report, log)

	report.Elapsed = p.now().Sub(started)
	report.Status = catalog.StatusSucceeded
	if runErr != nil {
		report.Status = catalog.StatusFailed
		report.Error = runErr.Error()
	}
	p.finish(ctx, report, runErr, log)
	return report, runErr
}

func (p *Pipeline) run(ctx context.Context, day time.Time, tiles []domain.Tile, report *RunReport, log *zap.Logger) error {
	stage := p.stage("fetch")
	results := fetch.FetchAll(ctx, p.fetcher, tiles, day, p.opts.Workers, log, p.observeTile)
	stage()
	report.Tiles = tileReports(results)

	if err := ctx.Err(); err != nil {
		return err
	}

	stage = p.stage("merge")
	merged, stats, err := domain.Merge(fetch.Grids(results), domain.MergeOptions{
		Precision: p.opts.Precision,
		Variable:  p.opts.Variable,
	})
	stage()
	report.Merge = stats
	if err != nil {
		if errors.Is(err, domain.ErrNoUsableTiles) {
			log.Error("no usable tiles, nothing to write",
				zap.Int("failed", report.TileCount(TileFailed)),
				zap.Int("empty", report.TileCount(TileEmpty)))
			return fmt.Errorf("%w: %w", domain.ErrEmptyAcquisition, err)
		}
		return fmt.Errorf("merge: %w", err)
	}

	stage = p.stage("reconcile")
	grid, err := domain.Reconcile(merged)
	stage()
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if grid.Count() == 0 {
		log.Error("merged grid holds no valid values, nothing to write")
		return fmt.Errorf("%w: %w", domain.ErrEmptyAcquisition, domain.ErrEmptyGrid)
	}
	rows, cols := grid.Shape()
	log.Info("tiles merged",
		zap.Int("used", len(stats.Used)),
		zap.Int("discarded", len(stats.Discarded)),
		zap.Int("overwrites", stats.Overwrites),
		zap.Int("rows", rows),
		zap.Int("cols", cols),
		zap.Int("valid", grid.Count()))

	stage = p.stage("fill")
	variants := p.filler.Fill(ctx, grid)
	stage()
	if err := ctx.Err(); err != nil {
		return err
	}

	stage = p.stage("persist")
	err = p.persist(ctx, day, variants, report, log)
	stage()
	return err
}

// persist scales and writes every variant concurrently.
func (p *Pipeline) persist(ctx context.Context, day time.Time, variants []domain.FilledGrid, report *RunReport, log *zap.Logger) error {
	report.Variants = make([]VariantReport, len(variants))
	errs := make([]error, len(variants))

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for i, v := range variants {
		g.Go(func() error {
			scaled := v
			scaled.Grid = domain.Scale(v.Grid, p.opts.ScaleFactor, p.opts.Units, p.opts.LongName)

			vr := VariantReport{Method: v.Method, FilledCells: scaled.Grid.Count()}
			if v.Degraded() {
				vr.Fallback = v.Fallback.Error()
				if p.metrics != nil {
					p.metrics.FillFallbacks.WithLabelValues(string(v.Method)).Inc()
				}
			}

			art, err := p.persister.Write(scaled, day)
			if err != nil {
				errs[i] = fmt.Errorf("persist %s: %w", v.Method, err)
				vr.Error = err.Error()
				log.Error("failed to persist variant", zap.String("method", string(v.Method)), zap.Error(err))
			} else {
				vr.Artifact = &art
				log.Info("variant persisted",
					zap.String("method", string(v.Method)),
					zap.String("path", art.Path),
					zap.Int("filled_cells", art.FilledCells),
					zap.Bool("fallback", v.Degraded()))
				if p.metrics != nil {
					p.metrics.FilledCells.WithLabelValues(string(v.Method)).Set(float64(art.FilledCells))
				}
				if p.recorder != nil {
					mu.Lock()
					rerr := p.recorder.PutArtifact(context.WithoutCancel(ctx), report.RunID, art)
					mu.Unlock()
					if rerr != nil {
						log.Warn("failed to record artifact", zap.String("method", string(v.Method)), zap.Error(rerr))
					}
				}
			}
			report.Variants[i] = vr
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Pipeline) finish(ctx context.Context, report *RunReport, runErr error, log *zap.Logger) {
	ok, failed := report.TileCount(TileOK), report.TileCount(TileFailed)
	if p.recorder != nil {
		if err := p.recorder.FinishRun(context.WithoutCancel(ctx), report.RunID, report.Status, ok, failed, runErr); err != nil {
			log.Warn("failed to record run finish", zap.Error(err))
		}
	}
	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(string(report.Status)).Inc()
		if runErr == nil {
			p.metrics.LastSuccessDay.Set(float64(report.Date.Unix()))
		}
	}

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("tiles_ok", ok),
		zap.Int("tiles_failed", failed),
		zap.Strings("artifacts", report.ArtifactPaths()),
		zap.Duration("elapsed", report.Elapsed),
	}
	if runErr != nil {
		log.Error("pipeline run failed", append(fields, zap.Error(runErr))...)
		return
	}
	log.Info("pipeline run complete", fields...)
}

func (p *Pipeline) observeTile(r fetch.TileResult) {
	if p.metrics == nil {
		return
	}
	p.metrics.TileFetches.WithLabelValues(string(tileStatus(r))).Inc()
}

// stage starts timing a stage; call the returned func when it ends.
func (p *Pipeline) stage(name string) func() {
	start := p.now()
	return func() {
		if p.metrics != nil {
			p.metrics.StageDuration.WithLabelValues(name).Observe(p.now().Sub(start).Seconds())
		}
	}
}
