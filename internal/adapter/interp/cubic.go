package interp

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

const (
	// DefaultNeighbors is the local stencil size of the cubic estimator.
	DefaultNeighbors = 12
	// DefaultMaxExtrapolation is how far (degrees) beyond the convex hull the cubic estimator reaches.
	DefaultMaxExtrapolation = 0.05
)

// Cubic is a local cubic radial-basis-function estimator.
//
// At each position the k nearest samples define φ(r) = r³ with a linear
// polynomial tail. The surface passes through every sample, extends a short
// distance beyond the hull and may overshoot near sharp gradients. Wherever the
// linear estimator reaches, Cubic yields a value too: if the local system is
// singular the linear value is used.
//
// The zero value uses DefaultNeighbors and DefaultMaxExtrapolation; a negative
// MaxExtrapolation disables extrapolation. NewCubic takes settings literally.
type Cubic struct {
	Neighbors        int
	MaxExtrapolation float64
}

// NewCubic returns a Cubic whose maxExtrapolation of zero means no
// extrapolation rather than the default reach.
func NewCubic(neighbors int, maxExtrapolation float64) Cubic {
	if maxExtrapolation <= 0 {
		maxExtrapolation = -1
	}
	return Cubic{Neighbors: neighbors, MaxExtrapolation: maxExtrapolation}
}

// Method returns domain.MethodCubic.
func (Cubic) Method() domain.FillMethod { return domain.MethodCubic }

func (c Cubic) neighbors() int {
	if c.Neighbors < 3 {
		return DefaultNeighbors
	}
	return c.Neighbors
}

func (c Cubic) maxExtrapolation() float64 {
	if c.MaxExtrapolation < 0 {
		return 0
	}
	if c.MaxExtrapolation == 0 {
		return DefaultMaxExtrapolation
	}
	return c.MaxExtrapolation
}

// Estimate evaluates the cubic surface at every lon × lat position it can reach.
func (c Cubic) Estimate(ctx context.Context, samples []Sample, lon, lat []float64) ([][]float64, error) {
	linear, err := Linear{}.Estimate(ctx, samples, lon, lat)
	if err != nil {
		return nil, err
	}
	return c.EstimateFromLinear(ctx, samples, lon, lat, linear)
}

// EstimateFromLinear is Estimate with the linear estimate of the same samples
// already computed. linear supplies the hull mask and the singular-system fallback.
func (c Cubic) EstimateFromLinear(ctx context.Context, samples []Sample, lon, lat []float64, linear [][]float64) ([][]float64, error) {
	if len(linear) != len(lat) || (len(lat) > 0 && len(linear[0]) != len(lon)) {
		return nil, fmt.Errorf("linear estimate is %d rows for a %dx%d grid", len(linear), len(lat), len(lon))
	}
	if err := CheckSamples(samples); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make(map[[2]float64]float64, len(samples))
	points := make(kdtree.Points, len(samples))
	for i, s := range samples {
		values[[2]float64{s.X, s.Y}] = s.Value
		points[i] = kdtree.Point{s.X, s.Y}
	}
	tree := kdtree.New(points, false)

	k := c.neighbors()
	reach := c.maxExtrapolation()
	reach2 := reach * reach

	out := missingGrid(len(lat), len(lon))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for y := range lat {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			solver := newRBFSolver(k)
			for x := range lon {
				px, py := lon[x], lat[y]
				if v, ok := values[[2]float64{px, py}]; ok {
					out[y][x] = v
					continue
				}
				inside := !domain.IsMissing(linear[y][x])

				keep := kdtree.NewNKeeper(k)
				tree.NearestSet(keep, kdtree.Point{px, py})
				solver.reset()
				nearest2 := math.Inf(1)
				for _, cd := range keep.Heap {
					if cd.Comparable == nil {
						continue
					}
					p := cd.Comparable.(kdtree.Point)
					solver.add(p[0], p[1], values[[2]float64{p[0], p[1]}])
					nearest2 = math.Min(nearest2, cd.Dist)
				}
				if !inside && nearest2 > reach2 {
					continue
				}

				v, ok := solver.evaluate(px, py)
				switch {
				case ok:
					out[y][x] = v
				case inside:
					out[y][x] = linear[y][x]
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rbfSolver fits a cubic RBF with linear tail to a small neighbour set.
type rbfSolver struct {
	xs, ys, vs []float64
}

func newRBFSolver(capacity int) *rbfSolver {
	return &rbfSolver{
		xs: make([]float64, 0, capacity),
		ys: make([]float64, 0, capacity),
		vs: make([]float64, 0, capacity),
	}
}

func (s *rbfSolver) reset() {
	s.xs, s.ys, s.vs = s.xs[:0], s.ys[:0], s.vs[:0]
}

func (s *rbfSolver) add(x, y, v float64) {
	s.xs = append(s.xs, x)
	s.ys = append(s.ys, y)
	s.vs = append(s.vs, v)
}

// evaluate solves the local system centred on (px, py) and returns the surface value there.
func (s *rbfSolver) evaluate(px, py float64) (float64, bool) {
	n := len(s.xs)
	if n < 3 {
		return 0, false
	}

	// Centre on the query and normalise by the stencil radius for conditioning.
	dx := make([]float64, n)
	dy := make([]float64, n)
	dist := make([]float64, n)
	for i := range s.xs {
		dx[i] = s.xs[i] - px
		dy[i] = s.ys[i] - py
		dist[i] = math.Hypot(dx[i], dy[i])
	}
	scale := floats.Max(dist)
	if scale == 0 {
		return 0, false
	}
	floats.Scale(1/scale, dx)
	floats.Scale(1/scale, dy)

	m := n + 3
	a := mat.NewDense(m, m, nil)
	b := mat.NewVecDense(m, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			r := math.Hypot(dx[i]-dx[j], dy[i]-dy[j])
			phi := r * r * r
			a.Set(i, j, phi)
			a.Set(j, i, phi)
		}
		a.Set(i, n, 1)
		a.Set(n, i, 1)
		a.Set(i, n+1, dx[i])
		a.Set(n+1, i, dx[i])
		a.Set(i, n+2, dy[i])
		a.Set(n+2, i, dy[i])
		b.SetVec(i, s.vs[i])
	}

	var w mat.VecDense
	if err := w.SolveVec(a, b); err != nil {
		return 0, false
	}

	// The query sits at the origin of the shifted frame.
	v := w.AtVec(n)
	for i := 0; i < n; i++ {
		r := math.Hypot(dx[i], dy[i])
		v += w.AtVec(i) * r * r * r
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// String describes the estimator configuration.
func (c Cubic) String() string {
	return fmt.Sprintf("cubic(k=%d, reach=%.4f°)", c.neighbors(), c.maxExtrapolation())
}
