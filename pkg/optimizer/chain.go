package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
)

type ConstraintKind string

const (
	// DurationConstraint bounds latency and minimizes cost.
	DurationConstraint ConstraintKind = "duration"
	// CostConstraint bounds cost and minimizes latency.
	CostConstraint ConstraintKind = "cost"
)

// Constraint is an upper limit on latency (ms) or cost (USD).
type Constraint struct {
	Kind  ConstraintKind
	Limit float64
}

func (c Constraint) validate() error {
	if c.Kind != DurationConstraint && c.Kind != CostConstraint {
		return fmt.Errorf("unknown constraint kind %q", c.Kind)
	}
	if c.Limit <= 0 || math.IsNaN(c.Limit) || math.IsInf(c.Limit, 0) {
		return fmt.Errorf("constraint limit must be positive, got %g", c.Limit)
	}
	return nil
}

var penaltyWeights = []float64{1e3, 1e5, 1e7, 1e9}

// The penalty method approaches the constraint from outside, so it aims at
// a limit tightened by this fraction.
const constraintMargin = 1e-4

// Chain sizes a purely sequential workflow. The state machine adds one
// transition per step plus one to finish.
type Chain struct {
	config Config
	search Search
	logger zerolog.Logger
}

func NewChain(config Config, search Search, logger zerolog.Logger) *Chain {
	if search == nil {
		search = NewMultiStart()
	}
	return &Chain{config: config, search: search, logger: logger}
}

// Optimize solves the continuous problem over steps with a quadratic
// exterior penalty of increasing weight, then rounds every size up.
func (c *Chain) Optimize(ctx context.Context, steps []Step, constraint Constraint) (*Solution, error) {
	if err := c.config.validate(); err != nil {
		return nil, err
	}
	if err := constraint.validate(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps to optimize")
	}

	p := chainProblem{steps: steps, config: c.config}
	if best := p.bestCase(constraint.Kind); best >= constraint.Limit {
		return nil, fmt.Errorf("%w: best achievable %s is %g, limit %g", ErrInfeasible, constraint.Kind, best, constraint.Limit)
	}

	objective, violation := p.duration, p.cost
	if constraint.Kind == DurationConstraint {
		objective, violation = p.cost, p.duration
	}
	lower, upper := c.config.bounds(len(steps))
	scale := objective(upper)
	if scale <= 0 {
		scale = 1
	}

	target := constraint.Limit * (1 - constraintMargin)
	penalized := func(mu float64) func(x []float64) float64 {
		return func(x []float64) float64 {
			x = clampAll(x, lower, upper)
			g := math.Max(0, violation(x)/target-1)
			return objective(x)/scale + mu*g*g
		}
	}

	start, err := c.search.Minimize(ctx, penalized(penaltyWeights[0]), lower, upper)
	if err != nil {
		return nil, err
	}
	x := start.X
	for _, mu := range penaltyWeights[1:] {
		if x, err = refine(ctx, penalized(mu), x, lower, upper); err != nil {
			return nil, err
		}
	}

	bound := violation(x)
	if bound >= constraint.Limit {
		return nil, fmt.Errorf("%w: best %s found is %g, limit %g", ErrInfeasible, constraint.Kind, bound, constraint.Limit)
	}

	sizes := c.config.roundUp(x)
	solution := p.evaluate(sizes)
	solution.Bound = bound
	if billed := solution.value(constraint.Kind); billed > constraint.Limit {
		c.logger.Warn().
			Str("constraint", string(constraint.Kind)).
			Float64("limit", constraint.Limit).
			Float64("solver_value", bound).
			Float64("billed_value", billed).
			Msg("Rounded sizes and request charges exceed the limit")
	}
	c.logger.Info().
		Ints("sizes", sizes).
		Float64("latency_ms", solution.Latency).
		Float64("cost", solution.Cost).
		Msg("Chain optimized")
	return solution, nil
}

type chainProblem struct {
	steps  []Step
	config Config
}

func (p chainProblem) transitions() float64 {
	return float64(len(p.steps) + 1)
}

func (p chainProblem) duration(x []float64) float64 {
	total := p.config.TransitionTimeMs * p.transitions()
	for i, s := range p.steps {
		total += s.Model.Duration(x[i])
	}
	return total
}

// cost is continuous in x: unrounded duration, no per-invocation charge.
func (p chainProblem) cost(x []float64) float64 {
	total := p.config.TransitionCost * p.transitions()
	for i, s := range p.steps {
		total += s.Model.Rates().BaseCost(x[i]) * s.Model.Duration(x[i])
	}
	return total
}

// bestCase is the smallest value the constrained quantity can take.
func (p chainProblem) bestCase(kind ConstraintKind) float64 {
	if kind == DurationConstraint {
		_, upper := p.config.bounds(len(p.steps))
		return p.duration(upper)
	}
	total := p.config.TransitionCost * p.transitions()
	for _, s := range p.steps {
		cheapest := math.Inf(1)
		for size := p.config.MinMemoryMB; size <= p.config.MaxMemoryMB; size++ {
			m := float64(size)
			cheapest = math.Min(cheapest, s.Model.Rates().BaseCost(m)*s.Model.Duration(m))
		}
		total += cheapest
	}
	return total
}

func (p chainProblem) evaluate(sizes []int) *Solution {
	solution := &Solution{
		Sizes:   sizes,
		Latency: p.config.TransitionTimeMs * p.transitions(),
		Cost:    p.config.TransitionCost * p.transitions(),
	}
	for i, s := range p.steps {
		d, c := s.Model.Evaluate(sizes[i])
		solution.Latency += d
		solution.Cost += c
	}
	return solution
}

// refine runs Nelder-Mead from x0 and keeps x0 unless it finds better.
func refine(ctx context.Context, f func([]float64) float64, x0, lower, upper []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span := 0.0
	for i := range lower {
		span = math.Max(span, upper[i]-lower[i])
	}
	res, err := optimize.Minimize(
		optimize.Problem{Func: f},
		x0,
		&optimize.Settings{
			FuncEvaluations: 4000,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-14,
				Relative:   1e-10,
				Iterations: 100,
			},
		},
		&optimize.NelderMead{SimplexSize: 0.01 * math.Max(span, 1)},
	)
	if err != nil {
		return nil, &SolverError{Reason: "penalty refinement failed", Err: err}
	}
	if res.F > f(x0) {
		return x0, nil
	}
	return clampAll(res.X, lower, upper), nil
}

func clampAll(x, lower, upper []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = clamp(v, lower[i], upper[i])
	}
	return out
}
