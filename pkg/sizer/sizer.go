// Package sizer picks a memory size for a single function from its fitted
// performance model.
package sizer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/perfmodel"
)

var ErrInvalidWeight = errors.New("weight must be within [0, 1]")

// Grid returns minMB, minMB+stepMB, ... up to and including maxMB.
func Grid(minMB, maxMB, stepMB int) ([]int, error) {
	if stepMB <= 0 {
		return nil, fmt.Errorf("memory step must be positive, got %d", stepMB)
	}
	if minMB <= 0 || maxMB < minMB {
		return nil, fmt.Errorf("invalid memory range [%d, %d]", minMB, maxMB)
	}
	grid := make([]int, 0, (maxMB-minMB)/stepMB+1)
	for size := minMB; size <= maxMB; size += stepMB {
		grid = append(grid, size)
	}
	return grid, nil
}

// Predict evaluates the model at every candidate. Nothing is invoked.
func Predict(model *perfmodel.Model, candidates []int) []models.ExecutionLog {
	logs := make([]models.ExecutionLog, 0, len(candidates))
	for _, size := range candidates {
		logs = append(logs, model.Predict(size))
	}
	return logs
}

// SelectSize evaluates model over candidates and picks one operating point.
//
// A weight of 0 picks the cheapest candidate (ties by duration), a weight of
// 1 the fastest (ties by cost). Anything in between minimizes
//
//	weight*cost/maxCost + (1-weight)*duration/maxDuration
//
// with both maxima taken over the candidates. The predictions are returned
// alongside the result in candidate order.
func SelectSize(model *perfmodel.Model, candidates []int, weight float64) (models.SizingResult, []models.ExecutionLog, error) {
	if weight < 0 || weight > 1 {
		return models.SizingResult{}, nil, fmt.Errorf("%w, got %g", ErrInvalidWeight, weight)
	}
	if len(candidates) == 0 {
		return models.SizingResult{}, nil, fmt.Errorf("no candidate memory sizes")
	}

	logs := Predict(model, candidates)

	var best models.ExecutionLog
	switch weight {
	case 0:
		best = cheapest(logs)
	case 1:
		best = fastest(logs)
	default:
		best = byWeight(logs, weight)
	}

	return models.SizingResult{
		MemorySize: best.MemorySize,
		Cost:       best.Cost,
		Duration:   best.Duration,
	}, logs, nil
}

func cheapest(logs []models.ExecutionLog) models.ExecutionLog {
	sorted := append([]models.ExecutionLog(nil), logs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Cost != sorted[j].Cost {
			return sorted[i].Cost < sorted[j].Cost
		}
		return sorted[i].Duration < sorted[j].Duration
	})
	return sorted[0]
}

func fastest(logs []models.ExecutionLog) models.ExecutionLog {
	sorted := append([]models.ExecutionLog(nil), logs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Duration != sorted[j].Duration {
			return sorted[i].Duration < sorted[j].Duration
		}
		return sorted[i].Cost < sorted[j].Cost
	})
	return sorted[0]
}

// byWeight keeps the first candidate on equal scores.
func byWeight(logs []models.ExecutionLog, weight float64) models.ExecutionLog {
	var maxCost, maxDuration float64
	for _, log := range logs {
		maxCost = max(maxCost, log.Cost)
		maxDuration = max(maxDuration, log.Duration)
	}

	score := func(log models.ExecutionLog) float64 {
		var s float64
		if maxCost > 0 {
			s += weight * log.Cost / maxCost
		}
		if maxDuration > 0 {
			s += (1 - weight) * log.Duration / maxDuration
		}
		return s
	}

	best := logs[0]
	bestScore := score(best)
	for _, log := range logs[1:] {
		if s := score(log); s < bestScore {
			best, bestScore = log, s
		}
	}
	return best
}
