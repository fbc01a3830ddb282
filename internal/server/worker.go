package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cwbudde/eqfit/internal/eq"
	"github.com/cwbudde/eqfit/internal/store"
)

// broadcastInterval throttles SSE progress events. Job state itself is
// still updated on every generation.
const broadcastInterval = 200 * time.Millisecond

// runJob executes a fitting job in the background.
// If checkpointStore is not nil and the job has CheckpointInterval > 0,
// periodic checkpoints are saved. If traceDir is non-empty, a per-generation
// cost trace is written under it.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, traceDir string, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	problem, err := buildProblem(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	initialCost := problem.BaselineCost()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.StartTime = time.Now()
		j.InitialCost = initialCost
	})
	if err != nil {
		return err
	}

	slog.Info("starting job",
		"job_id", jobID,
		"algorithm", job.Config.Algorithm,
		"filters", job.Config.Filters,
		"grid_points", len(job.Config.Frequencies),
		"initial_cost", initialCost,
	)

	var trace *store.TraceWriter
	if traceDir != "" {
		tw, terr := store.NewTraceWriter(filepath.Join(traceDir, jobID+".jsonl"), false)
		if terr != nil {
			slog.Warn("trace disabled for job", "job_id", jobID, "error", terr)
		} else {
			trace = tw
			defer trace.Close()
		}
	}

	start := time.Now()
	var lastBroadcast time.Time

	// The progress hook runs on the optimizer's driver goroutine, once per
	// generation, so the fields it touches need no extra locking.
	fitCfg := fitConfigFromJob(job.Config)
	fitCfg.Progress = func(gen int, bestCost float64, best []float64) {
		preamp := eq.Preamp(eq.DecodeFilters(best))
		jm.UpdateJob(jobID, func(j *Job) {
			j.Generation = gen + 1
			j.BestCost = bestCost
			j.BestParams = best
			j.Preamp = preamp
		})

		if trace != nil {
			werr := trace.Write(store.TraceEntry{
				Generation: gen,
				Cost:       bestCost,
				Timestamp:  time.Now(),
			})
			if werr != nil {
				slog.Warn("trace write failed", "job_id", jobID, "error", werr)
			}
		}

		if time.Since(lastBroadcast) >= broadcastInterval {
			lastBroadcast = time.Now()
			broadcastProgress(jm, jobID, start)
		}
	}

	// Start checkpoint monitoring goroutine if enabled
	checkpointDone := make(chan struct{})
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, checkpointStore, jobID, checkpointDone)
	} else {
		close(checkpointDone) // No checkpointing, close immediately
	}

	result, fitErr := eq.Fit(ctx, problem, fitCfg)
	close(checkpointDone)
	elapsed := time.Since(start)

	if fitErr != nil {
		if ctx.Err() != nil {
			markJobCancelled(jm, jobID)
			// Keep the partial result resumable.
			if checkpointStore != nil {
				if cerr := saveCheckpoint(jm, checkpointStore, jobID); cerr != nil {
					slog.Error("failed to save cancellation checkpoint", "job_id", jobID, "error", cerr)
				}
			}
			return ctx.Err()
		}
		markJobFailed(jm, jobID, fitErr)
		return fitErr
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestParams = result.BestParams
		j.BestCost = result.BestCost
		j.InitialCost = result.InitialCost
		j.Generation = result.Generations
		j.Preamp = result.Preamp
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	if checkpointStore != nil {
		if cerr := saveCheckpoint(jm, checkpointStore, jobID); cerr != nil {
			slog.Error("failed to save final checkpoint", "job_id", jobID, "error", cerr)
		}
	}

	slog.Info("job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"initial_cost", result.InitialCost,
		"best_cost", result.BestCost,
		"generations", result.Generations,
		"preamp_db", result.Preamp,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Generation:  result.Generations,
		BestCost:    result.BestCost,
		Preamp:      result.Preamp,
		EvalsPerSec: evalRate(result.Generations, job.Config.PopSize, elapsed),
		Timestamp:   time.Now(),
	})

	return nil
}

// buildProblem constructs the fitting problem from the curves embedded in a
// job config.
func buildProblem(config JobConfig) (*eq.Problem, error) {
	pc := eq.DefaultProblemConfig()
	pc.Grid = config.Frequencies
	pc.Target = config.Target
	pc.Weights = config.Weights
	if config.SampleRate > 0 {
		pc.SampleRate = config.SampleRate
	}
	if config.SPL > 0 {
		pc.SPL = config.SPL
	}
	if config.Filters > 0 {
		pc.Filters = config.Filters
	}
	return eq.NewProblem(pc)
}

// fitConfigFromJob maps persisted job settings onto the fit engine config.
// Zero values fall through to the engine defaults.
func fitConfigFromJob(config JobConfig) eq.FitConfig {
	return eq.FitConfig{
		Algorithm: config.Algorithm,
		MaxGens:   config.Iters,
		PopSize:   config.PopSize,
		Seed:      config.Seed,
		Mutation:  config.Mutation,
		Crossover: config.Crossover,
		Tol:       config.Tol,
		Stall:     eq.DefaultConvergenceConfig(),
	}
}

// broadcastProgress pushes the job's current state to SSE subscribers.
func broadcastProgress(jm *JobManager, jobID string, start time.Time) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       job.State,
		Generation:  job.Generation,
		BestCost:    job.BestCost,
		Preamp:      job.Preamp,
		EvalsPerSec: evalRate(job.Generation, job.Config.PopSize, time.Since(start)),
		Timestamp:   time.Now(),
	})
}

// evalRate estimates cost evaluations per second from the generation count.
// Returns 0 when the population size is unknown.
func evalRate(generations, popSize int, elapsed time.Duration) float64 {
	if popSize <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(generations*popSize) / elapsed.Seconds()
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during optimization
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves the job's current best state for later resumption.
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Nothing worth saving before the first generation completes.
	if len(job.BestParams) == 0 {
		slog.Debug("skipping checkpoint, no best params yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestParams,
		job.BestCost,
		job.InitialCost,
		job.Generation,
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("checkpoint saved",
		"job_id", jobID,
		"generation", job.Generation,
		"best_cost", job.BestCost,
	)
	return nil
}
