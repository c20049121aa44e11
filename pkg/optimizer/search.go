package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/samplemv"
)

// Search minimizes an objective over the box [lower, upper]. The objective
// may be discontinuous.
type Search interface {
	Minimize(ctx context.Context, objective func(x []float64) float64, lower, upper []float64) (Point, error)
}

// Point is a location in the search space and its objective value.
type Point struct {
	X []float64
	F float64
}

// MultiStart samples the box with a scrambled Halton sequence, then refines
// the best samples with Nelder-Mead. The scrambling is seeded by Seed, so a
// search is deterministic.
type MultiStart struct {
	Samples         int
	Starts          int
	FuncEvaluations int
	Seed            uint64
}

func NewMultiStart() *MultiStart {
	return &MultiStart{Samples: 4096, Starts: 8, FuncEvaluations: 4000, Seed: 1}
}

func (m *MultiStart) Minimize(ctx context.Context, objective func(x []float64) float64, lower, upper []float64) (Point, error) {
	n := len(lower)
	if n == 0 || len(upper) != n {
		return Point{}, fmt.Errorf("invalid bounds: %d lower, %d upper", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return Point{}, fmt.Errorf("invalid bounds for variable %d: [%g, %g]", i, lower[i], upper[i])
		}
	}

	// The search runs in the unit cube.
	scale := func(u []float64) []float64 {
		x := make([]float64, n)
		for i := range u {
			x[i] = lower[i] + clamp(u[i], 0, 1)*(upper[i]-lower[i])
		}
		return x
	}
	f := func(u []float64) float64 {
		v := objective(scale(u))
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	samples := make([]Point, 0, m.Samples+1)
	center := make([]float64, n)
	for i := range center {
		center[i] = 0.5
	}
	samples = append(samples, Point{X: center, F: f(center)})

	batch := mat.NewDense(max(m.Samples, 1), n, nil)
	samplemv.Halton{
		Kind: samplemv.Owen,
		Q:    distmv.NewUnitUniform(n, nil),
		Src:  rand.NewPCG(m.Seed, uint64(n)),
	}.Sample(batch)
	for k := 0; k < m.Samples; k++ {
		if k%256 == 255 {
			if err := ctx.Err(); err != nil {
				return Point{}, err
			}
		}
		u := mat.Row(nil, k, batch)
		samples = append(samples, Point{X: u, F: f(u)})
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].F < samples[j].F })

	best := samples[0]
	starts := min(m.Starts, len(samples))
	for _, start := range samples[:starts] {
		if err := ctx.Err(); err != nil {
			return Point{}, err
		}

		res, err := optimize.Minimize(
			optimize.Problem{Func: f},
			start.X,
			&optimize.Settings{
				FuncEvaluations: m.FuncEvaluations,
				Converger: &optimize.FunctionConverge{
					Absolute:   1e-14,
					Relative:   1e-10,
					Iterations: 100,
				},
			},
			&optimize.NelderMead{SimplexSize: 0.05},
		)
		if err != nil {
			return Point{}, &SolverError{Reason: "local refinement failed", Err: err}
		}
		if res.F < best.F {
			best = Point{X: res.X, F: res.F}
		}
	}

	if math.IsInf(best.F, 0) {
		return Point{}, &SolverError{Reason: "objective is not finite anywhere in the search space"}
	}
	return Point{X: scale(best.X), F: best.F}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
