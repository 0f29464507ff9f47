// Package interp fills holes in a canonical grid with scattered-data estimators.
package interp

import (
	"context"
	"fmt"
	"math"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// Sample is one valid (coordinate, value) observation.
type Sample struct {
	X     float64 // Longitude.
	Y     float64 // Latitude.
	Value float64
}

// Estimator produces a full-grid estimate from a scattered sample set.
//
// The returned matrix is indexed [y][x] over lat × lon. Positions the estimator
// cannot reach are domain.Missing.
type Estimator interface {
	Method() domain.FillMethod
	Estimate(ctx context.Context, samples []Sample, lon, lat []float64) ([][]float64, error)
}

// Samples flattens grid row by row and drops every hole.
func Samples(grid *domain.CanonicalGrid) []Sample {
	out := make([]Sample, 0, len(grid.Lon)*len(grid.Lat))
	for y, row := range grid.Values {
		for x, v := range row {
			if domain.IsMissing(v) {
				continue
			}
			out = append(out, Sample{X: grid.Lon[x], Y: grid.Lat[y], Value: v})
		}
	}
	return out
}

// CheckSamples requires at least 3 samples that are not all collinear.
func CheckSamples(samples []Sample) error {
	if len(samples) < 3 {
		return fmt.Errorf("%w: %d sample(s), need at least 3", domain.ErrInsufficientSamples, len(samples))
	}
	p0 := samples[0]
	k := -1
	for i := 1; i < len(samples); i++ {
		if samples[i].X != p0.X || samples[i].Y != p0.Y {
			k = i
			break
		}
	}
	if k < 0 {
		return fmt.Errorf("%w: all samples share one position", domain.ErrInsufficientSamples)
	}
	p1 := samples[k]
	ux, uy := p1.X-p0.X, p1.Y-p0.Y
	un := math.Hypot(ux, uy)
	for _, p := range samples[k+1:] {
		vx, vy := p.X-p0.X, p.Y-p0.Y
		cross := ux*vy - uy*vx
		if math.Abs(cross) > 1e-12*un*math.Hypot(vx, vy) {
			return nil
		}
	}
	return fmt.Errorf("%w: %d samples are collinear", domain.ErrInsufficientSamples, len(samples))
}

// missingGrid allocates a rows × cols matrix of holes.
func missingGrid(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for y := range out {
		row := make([]float64, cols)
		for x := range row {
			row[x] = domain.Missing
		}
		out[y] = row
	}
	return out
}
