package interp

import (
	"context"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

// Linear interpolates over the Delaunay triangulation of the samples.
//
// Each grid position inside a triangle gets the barycentric blend of the three
// vertex values. Positions outside the convex hull of the samples stay holes.
type Linear struct{}

// Method returns domain.MethodLinear.
func (Linear) Method() domain.FillMethod { return domain.MethodLinear }

// Estimate evaluates the piecewise-linear surface at every lon × lat position.
func (Linear) Estimate(ctx context.Context, samples []Sample, lon, lat []float64) ([][]float64, error) {
	if err := CheckSamples(samples); err != nil {
		return nil, err
	}
	tri, err := triangulate(samples)
	if err != nil {
		return nil, err
	}

	out := missingGrid(len(lat), len(lon))
	err = tri.cover(ctx, lon, lat, func(x, y int, c [3]corner) {
		v := 0.0
		for _, k := range c {
			v += k.weight * samples[k.sample].Value
		}
		out[y][x] = v
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
