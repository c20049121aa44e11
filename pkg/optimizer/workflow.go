package optimizer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opscart/lambda-sizer/pkg/models"
)

const (
	ModeChain     = "chain"
	ModeBranching = "branching"
)

// Optimizer picks chain or branching mode from the shape of a plan.
type Optimizer struct {
	chain     *Chain
	branching *Branching
}

func New(config Config, search Search, logger zerolog.Logger) *Optimizer {
	if search == nil {
		search = NewMultiStart()
	}
	return &Optimizer{
		chain:     NewChain(config, search, logger),
		branching: NewBranching(config, search, logger),
	}
}

// Optimize sizes every step of plan. Branching plans only accept a
// duration constraint.
func (o *Optimizer) Optimize(ctx context.Context, workflowID string, plan *Plan, constraint Constraint) (*models.WorkflowResult, error) {
	var (
		mode     string
		solution *Solution
		err      error
	)
	if plan.Parallel() {
		if constraint.Kind != DurationConstraint {
			return nil, fmt.Errorf("workflows with parallel branches only support a duration constraint")
		}
		mode = ModeBranching
		solution, err = o.branching.Optimize(ctx, plan, constraint.Limit)
	} else {
		mode = ModeChain
		solution, err = o.chain.Optimize(ctx, plan.Steps(), constraint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to optimize %s workflow: %w", mode, err)
	}

	return &models.WorkflowResult{
		WorkflowID: workflowID,
		Mode:       mode,
		Sizes:      solution.SizesByFunction(plan.Steps()),
		Latency:    solution.Latency,
		Cost:       solution.Cost,
		Skipped:    plan.Skipped,

		Constraint:  string(constraint.Kind),
		Limit:       constraint.Limit,
		SolverValue: solution.Bound,
		OverLimit:   solution.value(constraint.Kind) > constraint.Limit,
	}, nil
}
