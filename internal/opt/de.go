package opt

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"
)

const (
	// defaultPopFactor sizes the population from the problem dimension
	// when no explicit size is configured.
	defaultPopFactor = 15
	minPopSize       = 8
)

// DEConfig tunes the differential evolution engine.
type DEConfig struct {
	PopSize   int     // population size; 0 sizes it as 15*dim
	MaxGens   int     // generation cap
	Mutation  float64 // differential weight F
	Crossover float64 // crossover probability CR
	Tol       float64 // relative cost-spread termination tolerance; 0 disables
	Seed      int64   // RNG seed for reproducible runs
	Workers   int     // parallel evaluations per generation; 0 = GOMAXPROCS

	// InitialGuess, when non-nil, is clamped into the starting population
	// so a resumed run never loses ground on its checkpoint.
	InitialGuess []float64

	// Progress, when non-nil, observes every generation.
	Progress ProgressFunc
}

// DefaultDEConfig returns the standard best/1/bin tuning.
func DefaultDEConfig() DEConfig {
	return DEConfig{
		MaxGens:   300,
		Mutation:  0.8,
		Crossover: 0.9,
		Tol:       0.01,
	}
}

// DifferentialEvolution implements the best/1/bin strategy: each trial
// vector mutates around the best member with one scaled difference pair,
// then crosses over binomially with its target member. Selection is
// deferred to the end of the generation, so results are identical for any
// worker count.
type DifferentialEvolution struct {
	cfg DEConfig
}

// NewDifferentialEvolution creates a DE engine with the given config.
func NewDifferentialEvolution(cfg DEConfig) *DifferentialEvolution {
	return &DifferentialEvolution{cfg: cfg}
}

// Run executes the optimization. See Optimizer for the contract.
func (d *DifferentialEvolution) Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	rng := rand.New(rand.NewSource(d.cfg.Seed))

	popSize := d.cfg.PopSize
	if popSize <= 0 {
		popSize = defaultPopFactor * dim
	}
	if popSize < minPopSize {
		popSize = minPopSize
	}

	workers := d.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	slog.Debug("starting differential evolution",
		"dim", dim,
		"pop_size", popSize,
		"max_gens", d.cfg.MaxGens,
		"workers", workers,
	)

	pop := make([][]float64, popSize)
	costs := make([]float64, popSize)
	for i := range pop {
		pop[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			pop[i][j] = lower[j] + rng.Float64()*(upper[j]-lower[j])
		}
	}
	if len(d.cfg.InitialGuess) == dim {
		copy(pop[0], d.cfg.InitialGuess)
		clampVector(pop[0], lower, upper)
	}

	evalAll(eval, pop, costs, workers)

	best := make([]float64, dim)
	bestCost := costs[0]
	copy(best, pop[0])
	for i, c := range costs {
		if c < bestCost {
			bestCost = c
			copy(best, pop[i])
		}
	}

	for gen := 0; gen < d.cfg.MaxGens; gen++ {
		if err := ctx.Err(); err != nil {
			return best, bestCost, err
		}

		// Trial construction stays on this goroutine so every RNG draw
		// happens in a fixed order; only the evaluations fan out.
		trials := make([][]float64, popSize)
		for i := 0; i < popSize; i++ {
			trials[i] = d.makeTrial(rng, pop, best, i, lower, upper, dim)
		}
		trialCosts := make([]float64, popSize)
		evalAll(eval, trials, trialCosts, workers)

		// Greedy selection, deferred until the whole generation is scored.
		for i := 0; i < popSize; i++ {
			if trialCosts[i] <= costs[i] {
				pop[i] = trials[i]
				costs[i] = trialCosts[i]
				if trialCosts[i] < bestCost {
					bestCost = trialCosts[i]
					copy(best, trials[i])
				}
			}
		}

		if d.cfg.Progress != nil {
			snapshot := make([]float64, dim)
			copy(snapshot, best)
			d.cfg.Progress(gen, bestCost, snapshot)
		}

		if spreadConverged(costs, d.cfg.Tol) {
			slog.Debug("population converged",
				"gen", gen,
				"best_cost", bestCost,
			)
			break
		}
	}

	return best, bestCost, nil
}

// makeTrial builds one best/1/bin trial vector, clipped to bounds.
func (d *DifferentialEvolution) makeTrial(rng *rand.Rand, pop [][]float64, best []float64, i int, lower, upper []float64, dim int) []float64 {
	r1, r2 := pickDistinct(rng, len(pop), i)
	jrand := rng.Intn(dim)

	trial := make([]float64, dim)
	for j := 0; j < dim; j++ {
		if j == jrand || rng.Float64() < d.cfg.Crossover {
			trial[j] = best[j] + d.cfg.Mutation*(pop[r1][j]-pop[r2][j])
		} else {
			trial[j] = pop[i][j]
		}
		if trial[j] < lower[j] {
			trial[j] = lower[j]
		} else if trial[j] > upper[j] {
			trial[j] = upper[j]
		}
	}
	return trial
}

// pickDistinct draws two distinct population indices, both different from
// exclude. Requires n >= 3.
func pickDistinct(rng *rand.Rand, n, exclude int) (int, int) {
	r1 := rng.Intn(n)
	for r1 == exclude {
		r1 = rng.Intn(n)
	}
	r2 := rng.Intn(n)
	for r2 == exclude || r2 == r1 {
		r2 = rng.Intn(n)
	}
	return r1, r2
}

// evalAll scores every vector, fanning out across a bounded worker pool.
// Vectors and the fixed run inputs are read-only during the map, so the
// only synchronization needed is the final join.
func evalAll(eval func([]float64) float64, vecs [][]float64, costs []float64, workers int) {
	if workers <= 1 || len(vecs) == 1 {
		for i, v := range vecs {
			costs[i] = eval(v)
		}
		return
	}

	p := pool.New().WithMaxGoroutines(workers)
	for i := range vecs {
		p.Go(func() {
			costs[i] = eval(vecs[i])
		})
	}
	p.Wait()
}

// spreadConverged reports whether the population cost spread has collapsed
// below the relative tolerance: std(costs) <= tol * |mean(costs)|.
func spreadConverged(costs []float64, tol float64) bool {
	if tol <= 0 {
		return false
	}
	mean := stat.Mean(costs, nil)
	std := stat.StdDev(costs, nil)
	if mean < 0 {
		mean = -mean
	}
	return std <= tol*mean
}

func clampVector(data, lower, upper []float64) {
	for j := range data {
		if data[j] < lower[j] {
			data[j] = lower[j]
		} else if data[j] > upper[j] {
			data[j] = upper[j]
		}
	}
}
