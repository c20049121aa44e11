package models

import "time"

// SamplingRun records one sampling session of a function, for history.
type SamplingRun struct {
	ID           string
	FunctionID   string
	MemorySizes  []int
	RunsPerSize  int
	SamplingCost float64
	Params       *ModelParams
	Result       *SizingResult
	Averages     []ExecutionLog
	CreatedAt    time.Time
}

// WorkflowResult is the outcome of a workflow-level optimization.
type WorkflowResult struct {
	WorkflowID string         `json:"arn"`
	Mode       string         `json:"mode"`
	Sizes      map[string]int `json:"sizes"`
	Latency    float64        `json:"elat"`
	Cost       float64        `json:"cost"`
	Skipped    []string       `json:"skipped,omitempty"`

	Constraint string  `json:"constraint"`
	Limit      float64 `json:"limit"`
	// SolverValue is the constrained quantity the continuous solver kept
	// under Limit. OverLimit reports that the billed figure did not.
	SolverValue float64 `json:"solver_value,omitempty"`
	OverLimit   bool    `json:"over_limit,omitempty"`
}
