package interp

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// Filler produces the original, linear and cubic variants of a canonical grid.
type Filler struct {
	estimators []Estimator
	logger     *zap.Logger
}

// NewFiller creates a filler running the given estimators after the original variant.
// With no estimators it uses Linear and a default Cubic.
func NewFiller(logger *zap.Logger, estimators ...Estimator) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(estimators) == 0 {
		estimators = []Estimator{Linear{}, Cubic{}}
	}
	return &Filler{estimators: estimators, logger: logger}
}

// linearReuser is an estimator that can start from a finished linear estimate
// instead of triangulating the samples again.
type linearReuser interface {
	EstimateFromLinear(ctx context.Context, samples []Sample, lon, lat []float64, linear [][]float64) ([][]float64, error)
}

// Fill returns the original variant followed by one variant per estimator.
//
// The input grid is read only. An estimator that fails degrades its variant to a
// copy of the original grid with Fallback set; Fill itself never fails.
// Estimators run concurrently, except that a linearReuser waits for a
// successful linear variant and starts from its values.
func (f *Filler) Fill(ctx context.Context, grid *domain.CanonicalGrid) []domain.FilledGrid {
	out := make([]domain.FilledGrid, len(f.estimators)+1)
	out[0] = domain.FilledGrid{Method: domain.MethodOriginal, Grid: grid.Clone()}

	var first, second []int
	for i, est := range f.estimators {
		if _, ok := est.(linearReuser); ok {
			second = append(second, i)
			continue
		}
		first = append(first, i)
	}

	samples := Samples(grid)
	runAll := func(idx []int, linear [][]float64) {
		var g errgroup.Group
		for _, i := range idx {
			g.Go(func() error {
				out[i+1] = f.run(ctx, f.estimators[i], grid, samples, linear)
				return nil
			})
		}
		_ = g.Wait()
	}

	runAll(first, nil)
	var linear [][]float64
	for _, i := range first {
		if v := out[i+1]; v.Method == domain.MethodLinear && !v.Degraded() {
			linear = v.Grid.Values
			break
		}
	}
	runAll(second, linear)
	return out
}

func (f *Filler) run(ctx context.Context, est Estimator, grid *domain.CanonicalGrid, samples []Sample, linear [][]float64) domain.FilledGrid {
	method := est.Method()
	var (
		values [][]float64
		err    error
	)
	if r, ok := est.(linearReuser); ok && linear != nil {
		values, err = r.EstimateFromLinear(ctx, samples, grid.Lon, grid.Lat, linear)
	} else {
		values, err = est.Estimate(ctx, samples, grid.Lon, grid.Lat)
	}
	if err == nil {
		rows, cols := grid.Shape()
		if len(values) != rows || (rows > 0 && len(values[0]) != cols) {
			err = fmt.Errorf("estimator %s returned %d rows for a %dx%d grid", method, len(values), rows, cols)
		}
	}
	if err != nil {
		f.logger.Warn("interpolation failed, keeping original values",
			zap.String("method", string(method)),
			zap.Int("samples", len(samples)),
			zap.Error(err))
		return domain.FilledGrid{Method: method, Grid: grid.Clone(), Fallback: err}
	}

	filled := grid.WithValues(values)
	f.logger.Debug("interpolation complete",
		zap.String("method", string(method)),
		zap.Int("samples", len(samples)),
		zap.Int("holes_before", len(grid.Lon)*len(grid.Lat)-len(samples)),
		zap.Int("valid_after", filled.Count()))
	return domain.FilledGrid{Method: method, Grid: filled}
}
