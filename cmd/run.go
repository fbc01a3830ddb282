package cmd

import (
	"context"
	"encoding/json"
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
	inputPath  string
	outPath    string
	tracePath  string
	algorithm  string
	nFilters   int
	iters      int
	popSize    int
	seed       int64
	mutation   float64
	crossover  float64
	tolerance  float64
	workers    int
	patience   int
	spl        float64
	sampleRate float64
	gridPoints int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single-shot EQ fit",
	Long: `Fits a filter bank to the target curve in the measurement file and
writes the resulting EQ settings as JSON. Without --input, a flat 0 dB
target on a log-spaced grid is fitted, which is mainly useful for
smoke-testing a configuration.`,
	RunE: runFit,
}

func init() {
	runCmd.Flags().StringVar(&inputPath, "input", "", "Measurement JSON file (frequencies/target/weights)")
	runCmd.Flags().StringVar(&outPath, "out", "eqfit.json", "Output JSON path")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "Write per-generation cost trace to this JSONL file")
	runCmd.Flags().StringVar(&algorithm, "algo", eq.AlgorithmDE, "Optimizer: de, mayfly")
	runCmd.Flags().IntVar(&nFilters, "filters", 7, "Number of filters (2 shelves + peaks)")
	runCmd.Flags().IntVar(&iters, "iters", 300, "Max generations")
	runCmd.Flags().IntVar(&popSize, "pop", 0, "Population size (0 = auto)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	runCmd.Flags().Float64Var(&mutation, "mutation", 0.8, "Differential weight F")
	runCmd.Flags().Float64Var(&crossover, "crossover", 0.9, "Crossover probability CR")
	runCmd.Flags().Float64Var(&tolerance, "tol", 0.01, "Relative cost-spread termination tolerance (negative disables)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Parallel evaluation workers (0 = all cores)")
	runCmd.Flags().IntVar(&patience, "patience", 0, "Stop after N stale generations (0 disables)")
	runCmd.Flags().Float64Var(&spl, "spl", 85, "Listening level in dB SPL for shelf loudness compensation")
	runCmd.Flags().Float64Var(&sampleRate, "sample-rate", 48000, "Sample rate in Hz")
	runCmd.Flags().IntVar(&gridPoints, "points", 50, "Grid size for the synthetic flat target")

	rootCmd.AddCommand(runCmd)
}

// measurement is the JSON input accepted by run and resume. SampleRate and
// SPL override the corresponding flags when present.
type measurement struct {
	Frequencies []float64 `json:"frequencies"`
	Target      []float64 `json:"target"`
	Weights     []float64 `json:"weights,omitempty"`
	SampleRate  float64   `json:"sampleRate,omitempty"`
	SPL         float64   `json:"spl,omitempty"`
}

func loadMeasurement(path string) (*measurement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read measurement: %w", err)
	}
	var m measurement
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse measurement: %w", err)
	}
	return &m, nil
}

// filterOutput is the serialized form of one fitted filter.
type filterOutput struct {
	Type string  `json:"type"`
	Fc   float64 `json:"fc"`
	Gain float64 `json:"gain"`
	Q    float64 `json:"q"`
}

// fitOutput is the result document written by run and resume.
type fitOutput struct {
	Filters     []filterOutput `json:"filters"`
	Preamp      float64        `json:"preamp"`
	BestCost    float64        `json:"bestCost"`
	InitialCost float64        `json:"initialCost"`
	Generations int            `json:"generations"`
	ElapsedSec  float64        `json:"elapsedSec"`
	Seed        int64          `json:"seed"`
}

func buildOutput(result *eq.OptimizationResult, elapsed time.Duration, usedSeed int64) fitOutput {
	filters := make([]filterOutput, len(result.Filters))
	for i, f := range result.Filters {
		filters[i] = filterOutput{
			Type: f.Type.String(),
			Fc:   f.Fc,
			Gain: f.Gain,
			Q:    f.Q,
		}
	}
	return fitOutput{
		Filters:     filters,
		Preamp:      result.Preamp,
		BestCost:    result.BestCost,
		InitialCost: result.InitialCost,
		Generations: result.Generations,
		ElapsedSec:  elapsed.Seconds(),
		Seed:        usedSeed,
	}
}

func writeOutput(path string, out fitOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func runFit(cmd *cobra.Command, args []string) error {
	pc := eq.DefaultProblemConfig()
	pc.SampleRate = sampleRate
	pc.SPL = spl
	pc.Filters = nFilters

	if inputPath != "" {
		m, err := loadMeasurement(inputPath)
		if err != nil {
			return err
		}
		pc.Grid = m.Frequencies
		pc.Target = m.Target
		pc.Weights = m.Weights
		if m.SampleRate > 0 {
			pc.SampleRate = m.SampleRate
		}
		if m.SPL > 0 {
			pc.SPL = m.SPL
		}
	} else {
		grid, err := eq.LogSpacedGrid(gridPoints, 20, 20000)
		if err != nil {
			return err
		}
		pc.Grid = grid
		pc.Target = make([]float64, len(grid))
		slog.Info("no input file, fitting flat target", "points", gridPoints)
	}

	problem, err := eq.NewProblem(pc)
	if err != nil {
		return err
	}

	fitCfg := eq.FitConfig{
		Algorithm: algorithm,
		MaxGens:   iters,
		PopSize:   popSize,
		Seed:      seed,
		Mutation:  mutation,
		Crossover: crossover,
		Tol:       tolerance,
		Workers:   workers,
		Stall:     eq.DisabledConvergenceConfig(),
	}
	if patience > 0 {
		fitCfg.Stall = eq.ConvergenceConfig{
			Enabled:   true,
			Patience:  patience,
			Threshold: 0.001,
		}
	}

	var trace *store.TraceWriter
	if tracePath != "" {
		trace, err = store.NewTraceWriter(tracePath, false)
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer trace.Close()
		fitCfg.Progress = func(gen int, bestCost float64, best []float64) {
			werr := trace.Write(store.TraceEntry{
				Generation: gen,
				Cost:       bestCost,
				Timestamp:  time.Now(),
			})
			if werr != nil {
				slog.Warn("trace write failed", "error", werr)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := eq.Fit(ctx, problem, fitCfg)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := buildOutput(result, elapsed, seed)
	if err := writeOutput(outPath, out); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (cost: %.3f -> %.3f in %d generations, preamp %.1f dB)\n",
		outPath, result.InitialCost, result.BestCost, result.Generations, result.Preamp)

	return nil
}
