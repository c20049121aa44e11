package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Branching sizes a workflow with one parallel split under a latency
// constraint. Branches run concurrently, so the slowest one counts toward
// latency; every branch is billed.
type Branching struct {
	config Config
	search Search
	logger zerolog.Logger
}

func NewBranching(config Config, search Search, logger zerolog.Logger) *Branching {
	if search == nil {
		search = NewMultiStart()
	}
	return &Branching{config: config, search: search, logger: logger}
}

// Latency is the predicted end-to-end latency (ms) of plan at sizes, given
// in Plan.Steps order: one transition per step, the entry chain, the slowest
// branch and the exit chain.
func Latency(plan *Plan, sizes []int, transitionTimeMs float64) float64 {
	steps := plan.Steps()
	latency := transitionTimeMs * float64(len(steps))

	i := 0
	chain := func(n int) float64 {
		var d float64
		for ; n > 0; n-- {
			d += steps[i].Model.Duration(float64(sizes[i]))
			i++
		}
		return d
	}

	latency += chain(len(plan.Entry))
	var slowest float64
	for _, branch := range plan.Branches {
		slowest = math.Max(slowest, chain(len(branch)))
	}
	latency += slowest
	latency += chain(len(plan.Exit))
	return latency
}

// Cost is the predicted cost of plan at sizes: every step is billed, plus
// one transition per step.
func Cost(plan *Plan, sizes []int, transitionCost float64) float64 {
	steps := plan.Steps()
	cost := transitionCost * float64(len(steps))
	for i, s := range steps {
		cost += s.Model.Cost(sizes[i])
	}
	return cost
}

// Optimize minimizes cost subject to latency below latencyLimit. Any
// configuration above the limit scores Penalty, so the search cannot
// prefer it however cheap it is.
func (b *Branching) Optimize(ctx context.Context, plan *Plan, latencyLimit float64) (*Solution, error) {
	if err := b.config.validate(); err != nil {
		return nil, err
	}
	if err := (Constraint{Kind: DurationConstraint, Limit: latencyLimit}).validate(); err != nil {
		return nil, err
	}
	steps := plan.Steps()
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps to optimize")
	}

	largest := make([]int, len(steps))
	for i := range largest {
		largest[i] = b.config.MaxMemoryMB
	}
	if best := Latency(plan, largest, b.config.TransitionTimeMs); best >= latencyLimit {
		return nil, fmt.Errorf("%w: best achievable latency is %g ms, limit %g ms", ErrInfeasible, best, latencyLimit)
	}

	objective := func(x []float64) float64 {
		sizes := b.config.roundUp(x)
		if Latency(plan, sizes, b.config.TransitionTimeMs) >= latencyLimit {
			return b.config.Penalty
		}
		return Cost(plan, sizes, b.config.TransitionCost)
	}

	lower, upper := b.config.bounds(len(steps))
	point, err := b.search.Minimize(ctx, objective, lower, upper)
	if err != nil {
		return nil, err
	}

	sizes := b.config.roundUp(point.X)
	solution := &Solution{
		Sizes:   sizes,
		Latency: Latency(plan, sizes, b.config.TransitionTimeMs),
		Cost:    Cost(plan, sizes, b.config.TransitionCost),
	}
	if solution.Latency >= latencyLimit {
		return nil, &SolverError{Reason: fmt.Sprintf("search ended on a configuration with latency %g ms above the %g ms limit", solution.Latency, latencyLimit)}
	}
	solution.Bound = solution.Latency

	b.logger.Info().
		Ints("sizes", sizes).
		Float64("latency_ms", solution.Latency).
		Float64("cost", solution.Cost).
		Msg("Branching workflow optimized")
	return solution, nil
}
