package function

import (
	"context"
	"fmt"
)

// Configuration is the subset of a function configuration the sizer reads.
type Configuration struct {
	MemorySize     int
	TimeoutSeconds int
	Version        string
	Architecture   string
}

// Alias is a named pointer to a published version.
type Alias struct {
	Name            string
	FunctionVersion string
}

// InvocationError is an invocation that ran but failed inside the function:
// an unhandled exception, an out-of-memory kill or a timeout. The service
// still returns a report for it, which must not be taken as a measurement.
type InvocationError struct {
	Kind    string
	Payload string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("function error %s: %s", e.Kind, e.Payload)
}

// Client defines the compute service operations used while sampling.
// Invoke returns the raw execution report of the invocation, or an
// *InvocationError when the function itself failed.
type Client interface {
	Invoke(ctx context.Context, functionID, qualifier string, payload []byte) (string, error)
	GetConfiguration(ctx context.Context, functionID, qualifier string) (*Configuration, error)
	SetMemorySize(ctx context.Context, functionID string, memoryMB int) error
	PublishVersion(ctx context.Context, functionID string) (string, error)

	GetAlias(ctx context.Context, functionID, alias string) (*Alias, bool, error)
	CreateAlias(ctx context.Context, functionID, alias, version string) error
	UpdateAlias(ctx context.Context, functionID, alias, version string) error
	DeleteAlias(ctx context.Context, functionID, alias string) error
	DeleteVersion(ctx context.Context, functionID, version string) error
	ListAliases(ctx context.Context, functionID string) ([]Alias, error)
}

// ReportSource returns the most recent execution report a function wrote to
// its log stream. found is false when the function has not logged anything.
type ReportSource interface {
	LatestReport(ctx context.Context, functionID string) (report string, found bool, err error)
}
