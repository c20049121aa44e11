package models

import "fmt"

// ExecutionLog is a single measured (or predicted) execution of a function.
// Cost is derived from the other fields when the log is created and never
// recomputed.
type ExecutionLog struct {
	Duration       float64 // ms
	BilledDuration float64 // ms
	MemorySize     int     // MB
	InitDuration   float64 // ms, > 0 on cold start
	Cost           float64 // USD
}

// ColdStart reports whether the invocation paid function initialization.
func (l ExecutionLog) ColdStart() bool {
	return l.InitDuration > 0
}

func (l ExecutionLog) String() string {
	return fmt.Sprintf("MemorySize: %d MB, Duration: %.2f, Billed Duration: %.0f, Init Duration: %.2f, Cost: %.12f",
		l.MemorySize, l.Duration, l.BilledDuration, l.InitDuration, l.Cost)
}
