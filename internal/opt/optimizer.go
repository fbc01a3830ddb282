package opt

import "context"

// ProgressFunc observes optimizer progress. It is invoked once per
// generation with the generation index, the best cost so far, and a copy
// of the best vector. Purely observational; implementations must return
// quickly and must not assume every generation is reported after
// cancellation.
type ProgressFunc func(generation int, bestCost float64, best []float64)

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run minimizes eval over the box [lower, upper] of dimension dim.
	// eval must be a pure function of its argument; engines may call it
	// from multiple goroutines. Cancellation is honored at generation
	// granularity: on a done context, Run returns the best result found
	// so far together with the context error.
	Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}
