package perfmodel

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"github.com/opscart/lambda-sizer/pkg/models"
)

const (
	minDecayRate = 1e-7
	gridSize     = 200
)

// Point is one observation of the fitted series at a memory size.
type Point struct {
	MemoryMB float64
	Value    float64
}

// PointsFromLogs turns averaged execution logs into fit input using their
// billed duration.
func PointsFromLogs(logs []models.ExecutionLog) []Point {
	points := make([]Point, 0, len(logs))
	for _, log := range logs {
		points = append(points, Point{MemoryMB: float64(log.MemorySize), Value: log.BilledDuration})
	}
	return points
}

// FitOptions bound the coefficients. The TMin bound is always the smallest
// observed value.
type FitOptions struct {
	MaxT0        float64
	MaxDecayRate float64
	InitialGuess models.ModelParams
}

func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxT0:        1e5,
		MaxDecayRate: 10,
		InitialGuess: models.ModelParams{T0: 50, DecayRate: 0, TMin: 1},
	}
}

// FitError is returned when no coefficients within bounds could be found.
type FitError struct {
	Reason string
	Err    error
}

func (e *FitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fit performance model: %s: %v", e.Reason, e.Err)
	}
	return "failed to fit performance model: " + e.Reason
}

func (e *FitError) Unwrap() error {
	return e.Err
}

// Fit finds T0, DecayRate and TMin minimizing the squared error against
// points. For a fixed decay rate the other two coefficients are linear and
// solved exactly under their bounds; the decay rate itself is located on a
// logarithmic grid and refined with Nelder-Mead.
func Fit(points []Point, opts FitOptions) (models.ModelParams, error) {
	if len(points) < 3 {
		return models.ModelParams{}, &FitError{Reason: fmt.Sprintf("need at least 3 samples, got %d", len(points))}
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MemoryMB < sorted[j].MemoryMB })

	maxTMin := math.Inf(1)
	var norm float64
	for _, p := range sorted {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) || math.IsNaN(p.MemoryMB) || p.MemoryMB <= 0 {
			return models.ModelParams{}, &FitError{Reason: fmt.Sprintf("invalid sample (%g, %g)", p.MemoryMB, p.Value)}
		}
		maxTMin = math.Min(maxTMin, p.Value)
		norm += p.Value * p.Value
	}
	if maxTMin < 0 {
		return models.ModelParams{}, &FitError{Reason: "observed values must not be negative"}
	}
	if norm == 0 {
		norm = 1
	}

	f := fitter{points: sorted, maxT0: opts.MaxT0, maxTMin: maxTMin}

	// b = 0 collapses the curve to a constant
	best := f.solve(0)
	for _, b := range candidateDecayRates(opts) {
		if s := f.solve(b); s.sse < best.sse {
			best = s
		}
	}

	if best.b > 0 && best.sse > 0 {
		lo, hi := math.Log(minDecayRate), math.Log(opts.MaxDecayRate)
		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				return f.solve(math.Exp(clamp(x[0], lo, hi))).sse / norm
			},
		}
		settings := &optimize.Settings{
			FuncEvaluations: 2000,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-16,
				Relative:   1e-12,
				Iterations: 50,
			},
		}
		method := &optimize.NelderMead{SimplexSize: 0.1}

		res, err := optimize.Minimize(problem, []float64{math.Log(best.b)}, settings, method)
		if err != nil {
			return models.ModelParams{}, &FitError{Reason: "decay rate search did not converge", Err: err}
		}
		if refined := f.solve(math.Exp(clamp(res.X[0], lo, hi))); refined.sse <= best.sse {
			best = refined
		}
	}

	params := models.ModelParams{T0: best.a, DecayRate: best.b, TMin: best.c}
	for _, v := range params.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.ModelParams{}, &FitError{Reason: "fit produced non-finite coefficients"}
		}
	}
	return params, nil
}

func candidateDecayRates(opts FitOptions) []float64 {
	lo, hi := math.Log(minDecayRate), math.Log(opts.MaxDecayRate)
	rates := make([]float64, 0, gridSize+1)
	for i := 0; i < gridSize; i++ {
		rates = append(rates, math.Exp(lo+(hi-lo)*float64(i)/float64(gridSize-1)))
	}
	if b := opts.InitialGuess.DecayRate; b > 0 && b <= opts.MaxDecayRate {
		rates = append(rates, b)
	}
	return rates
}

type solution struct {
	a, b, c float64
	sse     float64
}

type fitter struct {
	points  []Point
	maxT0   float64
	maxTMin float64
}

// solve returns the best a in [0, maxT0] and c in [0, maxTMin] for decay b.
func (f *fitter) solve(b float64) solution {
	n := float64(len(f.points))
	e := make([]float64, len(f.points))
	var se, see, sy, sey float64
	for i, p := range f.points {
		e[i] = math.Exp(-b * p.MemoryMB)
		se += e[i]
		see += e[i] * e[i]
		sy += p.Value
		sey += e[i] * p.Value
	}

	sse := func(a, c float64) float64 {
		var sum float64
		for i, p := range f.points {
			r := p.Value - a*e[i] - c
			sum += r * r
		}
		return sum
	}

	if det := see*n - se*se; det > 1e-12*see*n {
		a := (sey*n - se*sy) / det
		c := (see*sy - se*sey) / det
		if a >= 0 && a <= f.maxT0 && c >= 0 && c <= f.maxTMin {
			return solution{a: a, b: b, c: c, sse: sse(a, c)}
		}
	}

	// The optimum lies on an edge of the box.
	best := solution{sse: math.Inf(1)}
	try := func(a, c float64) {
		if s := sse(a, c); s < best.sse {
			best = solution{a: a, b: b, c: c, sse: s}
		}
	}
	for _, a := range []float64{0, f.maxT0} {
		try(a, clamp((sy-a*se)/n, 0, f.maxTMin))
	}
	if see > 0 {
		for _, c := range []float64{0, f.maxTMin} {
			try(clamp((sey-c*se)/see, 0, f.maxT0), c)
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
