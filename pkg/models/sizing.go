package models

import (
	"encoding/json"
	"fmt"
)

// SizingResult is the operating point chosen for one function.
type SizingResult struct {
	MemorySize int     `json:"memorySize"`
	Cost       float64 `json:"cost"`
	Duration   float64 `json:"duration"`
}

// ModelParams are the fitted coefficients of
// duration(memory) = T0 * e^(-DecayRate * memory) + TMin.
// They serialize as the array [t0, decayRate, tMin].
type ModelParams struct {
	T0        float64
	DecayRate float64
	TMin      float64
}

func (p ModelParams) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.T0, p.DecayRate, p.TMin})
}

func (p *ModelParams) UnmarshalJSON(data []byte) error {
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if len(values) != 3 {
		return fmt.Errorf("model parameters must have 3 elements, got %d", len(values))
	}
	p.T0, p.DecayRate, p.TMin = values[0], values[1], values[2]
	return nil
}

// Slice returns the parameters in persisted order.
func (p ModelParams) Slice() []float64 {
	return []float64{p.T0, p.DecayRate, p.TMin}
}
