// Package perfmodel fits and evaluates the duration curve of a function,
//
//	duration(memory) = T0 * e^(-DecayRate * memory) + TMin
//
// and the cost derived from it.
package perfmodel

import (
	"math"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

// Model is immutable; a re-fit produces a new Model.
type Model struct {
	params models.ModelParams
	rates  pricing.Rates
}

func New(params models.ModelParams, rates pricing.Rates) *Model {
	return &Model{params: params, rates: rates}
}

func (m *Model) Params() models.ModelParams {
	return m.params
}

func (m *Model) Rates() pricing.Rates {
	return m.rates
}

// Duration is smooth in memory and never below TMin.
func (m *Model) Duration(memoryMB float64) float64 {
	return m.params.T0*math.Exp(-m.params.DecayRate*memoryMB) + m.params.TMin
}

// Cost bills the predicted duration rounded up to whole ms, so it is a step
// function of memory.
func (m *Model) Cost(memoryMB int) float64 {
	billed := math.Ceil(m.Duration(float64(memoryMB)))
	return m.rates.Cost(memoryMB, billed)
}

func (m *Model) Evaluate(memoryMB int) (duration, cost float64) {
	return m.Duration(float64(memoryMB)), m.Cost(memoryMB)
}

// Predict builds the execution log the model expects at memoryMB.
func (m *Model) Predict(memoryMB int) models.ExecutionLog {
	duration := m.Duration(float64(memoryMB))
	return m.rates.Log(duration, math.Ceil(duration), memoryMB, 0)
}
