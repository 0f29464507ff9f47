package interp

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fogleman/delaunay"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

const (
	// baryEpsilon admits grid positions lying on a triangle edge or vertex.
	baryEpsilon = 1e-9
	// axisTolerance widens triangle bounding boxes when locating grid indices.
	axisTolerance = 1e-9
	// ctxCheckEvery is the number of triangles between cancellation checks.
	ctxCheckEvery = 4096
)

// triangulation is the Delaunay triangulation of a sample set.
type triangulation struct {
	samples []Sample
	tri     *delaunay.Triangulation
}

func triangulate(samples []Sample) (*triangulation, error) {
	points := make([]delaunay.Point, len(samples))
	for i, s := range samples {
		points[i] = delaunay.Point{X: s.X, Y: s.Y}
	}
	tri, err := delaunay.Triangulate(points)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientSamples, err)
	}
	if len(tri.Triangles) < 3 {
		return nil, fmt.Errorf("%w: triangulation produced no triangles", domain.ErrInsufficientSamples)
	}
	return &triangulation{samples: samples, tri: tri}, nil
}

// corner is one vertex of the triangle covering a grid position.
type corner struct {
	sample int
	weight float64
}

// cover calls visit once for every grid position (x, y) inside the convex hull,
// with the barycentric weights of the enclosing triangle. Positions on a shared
// edge belong to the first triangle that reaches them.
func (t *triangulation) cover(ctx context.Context, lon, lat []float64, visit func(x, y int, c [3]corner)) error {
	cols := len(lon)
	seen := make([]bool, len(lon)*len(lat))
	tris := t.tri.Triangles

	for k := 0; k+2 < len(tris); k += 3 {
		if (k/3)%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		a, b, c := t.samples[tris[k]], t.samples[tris[k+1]], t.samples[tris[k+2]]

		det := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
		if det == 0 {
			continue
		}

		x0, x1 := axisRange(lon, math.Min(a.X, math.Min(b.X, c.X)), math.Max(a.X, math.Max(b.X, c.X)))
		y0, y1 := axisRange(lat, math.Min(a.Y, math.Min(b.Y, c.Y)), math.Max(a.Y, math.Max(b.Y, c.Y)))

		for y := y0; y < y1; y++ {
			py := lat[y]
			for x := x0; x < x1; x++ {
				if seen[y*cols+x] {
					continue
				}
				px := lon[x]
				wa := ((b.Y-c.Y)*(px-c.X) + (c.X-b.X)*(py-c.Y)) / det
				wb := ((c.Y-a.Y)*(px-c.X) + (a.X-c.X)*(py-c.Y)) / det
				wc := 1 - wa - wb
				if wa < -baryEpsilon || wb < -baryEpsilon || wc < -baryEpsilon {
					continue
				}
				seen[y*cols+x] = true
				visit(x, y, [3]corner{
					{sample: tris[k], weight: wa},
					{sample: tris[k+1], weight: wb},
					{sample: tris[k+2], weight: wc},
				})
			}
		}
	}
	return nil
}

// axisRange returns the half-open index range of the sorted axis within [lo, hi].
func axisRange(axis []float64, lo, hi float64) (int, int) {
	start := sort.SearchFloat64s(axis, lo-axisTolerance)
	end := sort.Search(len(axis), func(i int) bool { return axis[i] > hi+axisTolerance })
	return start, end
}
