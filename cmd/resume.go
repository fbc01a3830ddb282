package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/eqfit/internal/eq"
	"github.com/cwbudde/eqfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir string
	resumeIters   int
	resumeInput   string
	resumeOut     string
	resumeWorkers int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a fit from its checkpoint",
	Long: `Continues a checkpointed fit. The optimizer restarts with a fresh
population seeded with the checkpointed best vector, so the resumed run
never loses ground on the checkpoint. With --input, the measurement file is
checked against the checkpoint before fitting so a checkpoint cannot be
silently resumed against a different problem.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	resumeCmd.Flags().IntVar(&resumeIters, "iters", 0, "Max generations for the resumed leg (0 = checkpoint setting)")
	resumeCmd.Flags().StringVar(&resumeInput, "input", "", "Measurement JSON to verify against the checkpoint")
	resumeCmd.Flags().StringVar(&resumeOut, "out", "eqfit.json", "Output JSON path")
	resumeCmd.Flags().IntVar(&resumeWorkers, "workers", 0, "Parallel evaluation workers (0 = all cores)")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint is corrupt: %w", err)
	}

	if resumeInput != "" {
		m, merr := loadMeasurement(resumeInput)
		if merr != nil {
			return merr
		}
		current := store.JobConfig{
			Frequencies: m.Frequencies,
			Target:      m.Target,
			Filters:     checkpoint.Config.Filters,
		}
		if cerr := checkpoint.IsCompatible(current); cerr != nil {
			return fmt.Errorf("checkpoint does not match measurement: %w", cerr)
		}
	}

	cfg := checkpoint.Config
	problem, err := problemFromJobConfig(cfg)
	if err != nil {
		return fmt.Errorf("checkpoint config no longer valid: %w", err)
	}

	slog.Info("resuming fit",
		"job_id", jobID,
		"generation", checkpoint.Generation,
		"best_cost", checkpoint.BestCost,
	)

	iters := cfg.Iters
	if resumeIters > 0 {
		iters = resumeIters
	}

	fitCfg := eq.FitConfig{
		Algorithm:    cfg.Algorithm,
		MaxGens:      iters,
		PopSize:      cfg.PopSize,
		Seed:         cfg.Seed,
		Mutation:     cfg.Mutation,
		Crossover:    cfg.Crossover,
		Tol:          cfg.Tol,
		Workers:      resumeWorkers,
		InitialGuess: checkpoint.BestParams,
		Stall:        eq.DisabledConvergenceConfig(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := eq.Fit(ctx, problem, fitCfg)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	totalGens := checkpoint.Generation + result.Generations
	updated := store.NewCheckpoint(
		jobID,
		result.BestParams,
		result.BestCost,
		checkpoint.InitialCost,
		totalGens,
		cfg,
	)
	if err := checkpointStore.SaveCheckpoint(jobID, updated); err != nil {
		return fmt.Errorf("failed to save updated checkpoint: %w", err)
	}

	out := buildOutput(result, elapsed, cfg.Seed)
	out.Generations = totalGens
	out.InitialCost = checkpoint.InitialCost
	if err := writeOutput(resumeOut, out); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (cost: %.3f -> %.3f, generation %d, preamp %.1f dB)\n",
		resumeOut, checkpoint.BestCost, result.BestCost, totalGens, result.Preamp)

	return nil
}

// problemFromJobConfig rebuilds the fitting problem from a persisted job
// config, the same mapping the job server applies.
func problemFromJobConfig(cfg store.JobConfig) (*eq.Problem, error) {
	pc := eq.DefaultProblemConfig()
	pc.Grid = cfg.Frequencies
	pc.Target = cfg.Target
	pc.Weights = cfg.Weights
	if cfg.SampleRate > 0 {
		pc.SampleRate = cfg.SampleRate
	}
	if cfg.SPL > 0 {
		pc.SPL = cfg.SPL
	}
	if cfg.Filters > 0 {
		pc.Filters = cfg.Filters
	}
	return eq.NewProblem(pc)
}
