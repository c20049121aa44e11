package workflow

import (
	"context"
	"time"
)

// History event types the runner looks at.
const (
	EventExecutionSucceeded      = "ExecutionSucceeded"
	EventExecutionFailed         = "ExecutionFailed"
	EventExecutionAborted        = "ExecutionAborted"
	EventExecutionTimedOut       = "ExecutionTimedOut"
	EventLambdaFunctionScheduled = "LambdaFunctionScheduled"
	EventTaskScheduled           = "TaskScheduled"
)

// Event is one entry of an execution history. Resource is set for events
// that schedule a compute function, including service integration tasks.
type Event struct {
	Type     string
	Resource string
}

// Execution describes a started execution. Stop is zero while it runs.
type Execution struct {
	ID    string
	Start time.Time
	Stop  time.Time
}

// Client defines the orchestration service operations.
type Client interface {
	StartExecution(ctx context.Context, stateMachineID string, input []byte) (string, error)
	GetExecutionHistory(ctx context.Context, executionID string) ([]Event, error)
	DescribeDefinition(ctx context.Context, stateMachineID string) ([]byte, error)
	DescribeExecution(ctx context.Context, executionID string) (*Execution, error)
}
