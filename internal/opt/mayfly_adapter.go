package opt

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external mayfly library to conform to our
// Optimizer interface.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new mayfly optimizer adapter.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the mayfly optimization. The library accepts one scalar
// bound pair for all dimensions, so the search runs in normalized
// [0,1]^dim space and the objective wrapper denormalizes per slot.
// Cancellation is polled inside the objective: once ctx is done the
// remaining evaluations short-circuit and the best result found before
// cancellation is returned with the context error.
func (m *MayflyAdapter) Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	denorm := func(x []float64) []float64 {
		v := make([]float64, dim)
		for j := 0; j < dim; j++ {
			u := x[j]
			if u < 0 {
				u = 0
			} else if u > 1 {
				u = 1
			}
			v[j] = lower[j] + u*(upper[j]-lower[j])
		}
		return v
	}

	const cancelledCost = 1e30

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(x []float64) float64 {
		if ctx.Err() != nil {
			return cancelledCost
		}
		return eval(denorm(x))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.LowerBound = 0.0
	config.UpperBound = 1.0
	config.NPop = m.popSize
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimize: %w", err)
	}

	best := denorm(result.GlobalBest.Position)
	if err := ctx.Err(); err != nil {
		return best, result.GlobalBest.Cost, err
	}
	return best, result.GlobalBest.Cost, nil
}
