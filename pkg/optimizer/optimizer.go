// Package optimizer sizes every function of a workflow jointly, under a
// constraint on end-to-end latency or cost.
package optimizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/opscart/lambda-sizer/pkg/perfmodel"
	"github.com/opscart/lambda-sizer/pkg/workflow"
)

// ErrInfeasible is returned when no sizes within bounds meet the constraint.
var ErrInfeasible = errors.New("constraint cannot be met")

// SolverError is returned when the numerical search itself fails.
type SolverError struct {
	Reason string
	Err    error
}

func (e *SolverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("solver failed: %s: %v", e.Reason, e.Err)
	}
	return "solver failed: " + e.Reason
}

func (e *SolverError) Unwrap() error {
	return e.Err
}

// Config holds the memory bounds and the fixed orchestration overhead
// charged per state transition.
type Config struct {
	MinMemoryMB      int
	MaxMemoryMB      int
	TransitionTimeMs float64
	TransitionCost   float64
	// Penalty is the objective value of a configuration that breaks the
	// latency constraint in branching mode.
	Penalty float64
}

func DefaultConfig() Config {
	return Config{
		MinMemoryMB:      128,
		MaxMemoryMB:      3008,
		TransitionTimeMs: 20,
		TransitionCost:   0.000025,
		Penalty:          1.0,
	}
}

func (c Config) validate() error {
	if c.MinMemoryMB <= 0 || c.MaxMemoryMB < c.MinMemoryMB {
		return fmt.Errorf("invalid memory range [%d, %d]", c.MinMemoryMB, c.MaxMemoryMB)
	}
	if c.TransitionTimeMs < 0 || c.TransitionCost < 0 {
		return fmt.Errorf("transition overhead must not be negative")
	}
	return nil
}

func (c Config) bounds(n int) (lower, upper []float64) {
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range lower {
		lower[i] = float64(c.MinMemoryMB)
		upper[i] = float64(c.MaxMemoryMB)
	}
	return lower, upper
}

// roundUp converts a continuous solution to whole megabytes, never below
// the computed optimum.
func (c Config) roundUp(x []float64) []int {
	sizes := make([]int, len(x))
	for i, v := range x {
		size := int(math.Ceil(v - 1e-9))
		sizes[i] = min(max(size, c.MinMemoryMB), c.MaxMemoryMB)
	}
	return sizes
}

// Step is one modeled compute node.
type Step struct {
	Name       string
	FunctionID string
	Model      *perfmodel.Model
}

// Plan is the modeled shape of a workflow: a chain, or a chain split into
// parallel branches that join into an exit chain.
type Plan struct {
	Entry    []Step
	Branches [][]Step
	Exit     []Step
	// Skipped lists functions that had no model.
	Skipped []string
}

// Steps lists every step: entry, branches in order, exit.
func (p *Plan) Steps() []Step {
	steps := append([]Step(nil), p.Entry...)
	for _, branch := range p.Branches {
		steps = append(steps, branch...)
	}
	return append(steps, p.Exit...)
}

func (p *Plan) Parallel() bool {
	return len(p.Branches) > 0
}

// BuildPlan attaches a model to every compute node of layout. Nodes whose
// function has no model are left out and reported in Skipped; a branch
// left without modeled nodes is dropped.
func BuildPlan(layout *workflow.Layout, models map[string]*perfmodel.Model) (*Plan, error) {
	plan := &Plan{}
	seen := make(map[string]string)

	steps := func(nodes []*workflow.Node) ([]Step, error) {
		var out []Step
		for _, n := range nodes {
			if other, dup := seen[n.ResourceID]; dup {
				return nil, fmt.Errorf("%w: function %s is invoked by states %q and %q", workflow.ErrUnsupportedShape, n.ResourceID, other, n.Name)
			}
			seen[n.ResourceID] = n.Name

			model, ok := models[n.ResourceID]
			if !ok {
				plan.Skipped = append(plan.Skipped, n.ResourceID)
				continue
			}
			out = append(out, Step{Name: n.Name, FunctionID: n.ResourceID, Model: model})
		}
		return out, nil
	}

	var err error
	if plan.Entry, err = steps(layout.Entry); err != nil {
		return nil, err
	}
	for _, branch := range layout.Branches {
		s, err := steps(branch)
		if err != nil {
			return nil, err
		}
		if len(s) > 0 {
			plan.Branches = append(plan.Branches, s)
		}
	}
	if plan.Exit, err = steps(layout.Exit); err != nil {
		return nil, err
	}

	if len(plan.Steps()) == 0 {
		return nil, fmt.Errorf("no modeled functions in workflow")
	}
	return plan, nil
}

// Solution is the chosen size per step, in Plan.Steps order, with the
// latency (ms) and cost the models predict for it.
type Solution struct {
	Sizes   []int
	Latency float64
	Cost    float64
	// Bound is the constrained quantity as the solver saw it. For chains
	// that is the continuous optimum, before rounding and request charges.
	Bound float64
}

// SizesByFunction maps each function of steps to its size.
func (s *Solution) SizesByFunction(steps []Step) map[string]int {
	sizes := make(map[string]int, len(steps))
	for i, step := range steps {
		sizes[step.FunctionID] = s.Sizes[i]
	}
	return sizes
}

// value is the billed figure a constraint of kind applies to.
func (s *Solution) value(kind ConstraintKind) float64 {
	if kind == CostConstraint {
		return s.Cost
	}
	return s.Latency
}
