package eq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/eqfit/internal/opt"
)

// Optimizer algorithm names accepted by FitConfig.
const (
	AlgorithmDE     = "de"
	AlgorithmMayfly = "mayfly"
)

// FitConfig selects and tunes the optimizer engine for one run.
type FitConfig struct {
	Algorithm string // "de" (default) or "mayfly"
	MaxGens   int
	PopSize   int // 0 lets the engine size the population
	Seed      int64
	Mutation  float64
	Crossover float64
	Tol       float64 // negative disables the cost-spread cutoff
	Workers   int

	// InitialGuess warm-starts the population, typically from a
	// checkpoint's best parameters.
	InitialGuess []float64

	// Stall is the optional plateau cutoff layered on top of the
	// engine's own termination criteria.
	Stall ConvergenceConfig

	// Progress observes every generation; forwarded to the engine.
	Progress opt.ProgressFunc
}

// DefaultFitConfig returns the standard DE tuning with plateau detection
// disabled.
func DefaultFitConfig() FitConfig {
	d := opt.DefaultDEConfig()
	return FitConfig{
		Algorithm: AlgorithmDE,
		MaxGens:   d.MaxGens,
		Mutation:  d.Mutation,
		Crossover: d.Crossover,
		Tol:       d.Tol,
		Stall:     DisabledConvergenceConfig(),
	}
}

func (c FitConfig) withDefaults() FitConfig {
	d := opt.DefaultDEConfig()
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmDE
	}
	if c.MaxGens <= 0 {
		c.MaxGens = d.MaxGens
	}
	if c.Mutation == 0 {
		c.Mutation = d.Mutation
	}
	if c.Crossover == 0 {
		c.Crossover = d.Crossover
	}
	if c.Tol == 0 {
		c.Tol = d.Tol
	}
	return c
}

func (c FitConfig) validate() error {
	if c.Mutation <= 0 || c.Mutation > 2 {
		return &ValidationError{Field: "Mutation", Reason: fmt.Sprintf("%g outside (0, 2]", c.Mutation)}
	}
	if c.Crossover < 0 || c.Crossover > 1 {
		return &ValidationError{Field: "Crossover", Reason: fmt.Sprintf("%g outside [0, 1]", c.Crossover)}
	}
	if c.PopSize < 0 {
		return &ValidationError{Field: "PopSize", Reason: "cannot be negative"}
	}
	return nil
}

// OptimizationResult holds the output of an optimization run.
type OptimizationResult struct {
	BestParams  []float64
	BestCost    float64
	InitialCost float64
	Generations int
	Filters     []FilterSpec
	Preamp      float64
}

// Fit searches the problem's parameter space with the configured engine
// and returns the best filter bank found. The caller's context cancels the
// run cooperatively; a cancelled fit returns the context error.
func Fit(ctx context.Context, problem *Problem, cfg FitConfig) (*OptimizationResult, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dim := problem.Dim()
	lower, upper := problem.Bounds()

	// Baseline: every filter flat at 0 dB.
	initialCost := problem.BaselineCost()

	tracker := NewConvergenceTracker(cfg.Stall)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	generations := 0
	stalled := false
	progress := func(gen int, bestCost float64, best []float64) {
		generations = gen + 1
		if cfg.Progress != nil {
			cfg.Progress(gen, bestCost, best)
		}
		if tracker.Update(bestCost) {
			stalled = true
			cancel()
		}
	}

	optimizer, err := buildOptimizer(cfg, progress)
	if err != nil {
		return nil, err
	}

	slog.Info("starting fit",
		"algorithm", cfg.Algorithm,
		"filters", problem.NumFilters(),
		"grid_points", len(problem.grid),
		"dim", dim,
		"initial_cost", initialCost,
	)

	bestParams, bestCost, err := optimizer.Run(runCtx, problem.Cost, lower, upper, dim)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("fit cancelled: %w", err)
	case err != nil && !stalled:
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	if cfg.Algorithm == AlgorithmMayfly {
		// The library runs its full iteration budget and reports no
		// per-generation progress.
		generations = cfg.MaxGens
	}

	filters := DecodeFilters(bestParams)
	result := &OptimizationResult{
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Generations: generations,
		Filters:     filters,
		Preamp:      Preamp(filters),
	}

	slog.Info("fit complete",
		"best_cost", bestCost,
		"initial_cost", initialCost,
		"generations", generations,
		"preamp_db", result.Preamp,
	)

	return result, nil
}

func buildOptimizer(cfg FitConfig, progress opt.ProgressFunc) (opt.Optimizer, error) {
	switch cfg.Algorithm {
	case AlgorithmDE:
		return opt.NewDifferentialEvolution(opt.DEConfig{
			PopSize:      cfg.PopSize,
			MaxGens:      cfg.MaxGens,
			Mutation:     cfg.Mutation,
			Crossover:    cfg.Crossover,
			Tol:          cfg.Tol,
			Seed:         cfg.Seed,
			Workers:      cfg.Workers,
			InitialGuess: cfg.InitialGuess,
			Progress:     progress,
		}), nil
	case AlgorithmMayfly:
		popSize := cfg.PopSize
		if popSize <= 0 {
			popSize = 30
		}
		return opt.NewMayfly(cfg.MaxGens, popSize, cfg.Seed), nil
	default:
		return nil, &ValidationError{Field: "Algorithm", Reason: fmt.Sprintf("unknown algorithm %q", cfg.Algorithm)}
	}
}
