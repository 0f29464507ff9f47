package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/fetch"
	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/interp"
	"github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/catalog"
	ncstore "github.com/alberthnahas/sentinel-no2-daily/internal/adapter/store/netcdf"
	"github.com/alberthnahas/sentinel-no2-daily/internal/config"
	"github.com/alberthnahas/sentinel-no2-daily/internal/logging"
	"github.com/alberthnahas/sentinel-no2-daily/internal/metrics"
	"github.com/alberthnahas/sentinel-no2-daily/internal/usecase"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Pipeline
	catalog  *catalog.Catalog
	pipeline *usecase.Pipeline
}

func newApp(v *viper.Viper) (*app, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	var fetcher fetch.Fetcher
	switch cfg.Fetch.Source {
	case config.SourceHTTP:
		fetcher = fetch.NewHTTPFetcher(cfg.Fetch.URLTemplate, cfg.Fetch.Dir, cfg.Variable,
			fetch.WithHTTPClient(&http.Client{Timeout: cfg.Fetch.Timeout}),
			fetch.WithRetries(uint64(cfg.Fetch.MaxRetries), fetchRetryInterval),
			fetch.WithLogger(logger.Named("fetch")))
	default:
		fetcher = fetch.NewLocalFetcher(cfg.Fetch.Dir, cfg.Variable)
	}

	filler := interp.NewFiller(logger.Named("fill"),
		interp.Linear{},
		interp.NewCubic(cfg.Interp.Neighbors, cfg.Interp.MaxExtrapolation))

	options := []usecase.Option{
		usecase.WithLogger(logger),
		usecase.WithMetrics(a.metrics),
	}
	if cfg.Catalog.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		a.catalog = cat
		options = append(options, usecase.WithRecorder(cat))
	}

	a.pipeline = usecase.NewPipeline(usecase.Options{
		Extent:      cfg.Extent,
		Divisions:   cfg.Divisions,
		Variable:    cfg.Variable,
		Precision:   cfg.Precision,
		Workers:     cfg.Fetch.Workers,
		ScaleFactor: cfg.Scale.Factor,
		Units:       cfg.Scale.Units,
		LongName:    cfg.Scale.LongName,
	}, fetcher, filler, ncstore.NewWriter(cfg.Output.Dir, cfg.Region), options...)

	return a, nil
}

func (a *app) Close() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Warn("failed to close catalog", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
