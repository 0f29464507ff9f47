// Package metrics exposes Prometheus collectors for the daily pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "no2_daily"

// StageBuckets covers sub-second merges up to multi-minute acquisitions.
var StageBuckets = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300, 600}

// Pipeline holds the pipeline collectors on a private registry.
type Pipeline struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	TileFetches    *prometheus.CounterVec
	FillFallbacks  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	FilledCells    *prometheus.GaugeVec
	LastSuccessDay prometheus.Gauge
}

// New registers the pipeline collectors plus Go and process collectors.
func New() *Pipeline {
	reg := prometheus.NewRegistry()
	p := &Pipeline{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		TileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_fetches_total",
			Help:      "Tile fetches by outcome (ok, empty, failed).",
		}, []string{"outcome"}),
		FillFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_fallbacks_total",
			Help:      "Interpolated variants that fell back to the original grid.",
		}, []string{"method"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   StageBuckets,
		}, []string{"stage"}),
		FilledCells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filled_cells",
			Help:      "Non-hole cells in the last persisted grid per method.",
		}, []string{"method"}),
		LastSuccessDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_date_seconds",
			Help:      "Unix time of the date processed by the last successful run.",
		}),
	}
	reg.MustRegister(
		p.RunsTotal,
		p.TileFetches,
		p.FillFallbacks,
		p.StageDuration,
		p.FilledCells,
		p.LastSuccessDay,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the underlying registry.
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
