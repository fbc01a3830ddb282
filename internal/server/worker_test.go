package server

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/eqfit/internal/eq"
	"github.com/cwbudde/eqfit/internal/store"
)

// slowJobConfig returns a job large enough that generations take visible
// wall time, for exercising mid-run cancellation.
func slowJobConfig(t *testing.T) JobConfig {
	t.Helper()

	freqs, err := eq.LogSpacedGrid(200, 20, 20000)
	if err != nil {
		t.Fatalf("Failed to build grid: %v", err)
	}
	target := make([]float64, len(freqs))
	for i := range target {
		target[i] = 6 * math.Sin(float64(i)/7)
	}

	return JobConfig{
		Frequencies: freqs,
		Target:      target,
		SampleRate:  48000,
		SPL:         85,
		Filters:     7,
		Algorithm:   "de",
		Iters:       100000,
		PopSize:     60,
		Seed:        42,
		Tol:         -1, // keep the run going until cancelled
	}
}

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(), func() {})

	err := runJob(context.Background(), jm, nil, "", job.ID)
	if err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}

	// The baseline bank has zero gain everywhere, so the initial cost is
	// the squared target curve: 2^2 + 5^2 + 2^2.
	if updated.InitialCost != 33.0 {
		t.Errorf("InitialCost mismatch: got %f, want 33", updated.InitialCost)
	}

	if updated.BestCost >= updated.InitialCost {
		t.Errorf("BestCost %f should improve on initial %f", updated.BestCost, updated.InitialCost)
	}

	if len(updated.BestParams) != 9 { // 3 filters * 3 params
		t.Errorf("Expected 9 params, got %d", len(updated.BestParams))
	}

	if updated.Generation < 1 {
		t.Errorf("Generation should advance, got %d", updated.Generation)
	}

	if updated.Preamp > 0 {
		t.Errorf("Preamp should never be positive, got %f", updated.Preamp)
	}

	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_MissingJob(t *testing.T) {
	jm := NewJobManager()

	err := runJob(context.Background(), jm, nil, "", "nonexistent")
	if err == nil {
		t.Error("runJob should fail for an unknown job ID")
	}
}

func TestRunJob_BadConfig(t *testing.T) {
	jm := NewJobManager()
	config := testJobConfig()
	config.Target = config.Target[:3] // length no longer matches the grid

	job := jm.CreateJob(config, func() {})

	err := runJob(context.Background(), jm, nil, "", job.ID)
	if err == nil {
		t.Fatal("runJob should fail when the curves are inconsistent")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_WritesTrace(t *testing.T) {
	jm := NewJobManager()
	traceDir := t.TempDir()

	job := jm.CreateJob(testJobConfig(), func() {})
	if err := runJob(context.Background(), jm, nil, traceDir, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	reader, err := store.NewTraceReader(filepath.Join(traceDir, job.ID+".jsonl"))
	if err != nil {
		t.Fatalf("Trace file should exist: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if len(entries) != updated.Generation {
		t.Errorf("Expected %d trace entries, got %d", updated.Generation, len(entries))
	}

	if entries[0].Generation != 0 {
		t.Errorf("First entry should be generation 0, got %d", entries[0].Generation)
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].Cost > entries[i-1].Cost {
			t.Errorf("Best cost should never rise: entry %d went %f -> %f",
				i, entries[i-1].Cost, entries[i].Cost)
		}
	}
}

func TestRunJob_SavesCheckpoint(t *testing.T) {
	jm := NewJobManager()
	checkpoints, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	job := jm.CreateJob(testJobConfig(), func() {})
	if err := runJob(context.Background(), jm, checkpoints, "", job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	cp, err := checkpoints.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Final checkpoint should exist: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if cp.BestCost != updated.BestCost {
		t.Errorf("Checkpoint cost mismatch: got %f, want %f", cp.BestCost, updated.BestCost)
	}
	if cp.Generation != updated.Generation {
		t.Errorf("Checkpoint generation mismatch: got %d, want %d", cp.Generation, updated.Generation)
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("Checkpoint should validate: %v", err)
	}
}

func TestRunJob_PreCancelled(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(), func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, nil, "", job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_CancellationSavesCheckpoint(t *testing.T) {
	jm := NewJobManager()
	checkpoints, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	job := jm.CreateJob(slowJobConfig(t), func() {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runJob(ctx, jm, checkpoints, "", job.ID)
	}()

	// Cancel as soon as the first generation lands, long before the run
	// could finish on its own.
	deadline := time.After(30 * time.Second)
	for {
		current, _ := jm.GetJob(job.ID)
		if current != nil && current.Generation >= 1 {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatal("Job never produced a generation")
		case <-time.After(time.Millisecond):
		}
	}

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}

	cp, err := checkpoints.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Cancellation should leave a resumable checkpoint: %v", err)
	}
	if cp.Generation < 1 {
		t.Errorf("Checkpoint should capture progress, got generation %d", cp.Generation)
	}
	if len(cp.BestParams) != 21 { // 7 filters * 3 params
		t.Errorf("Expected 21 checkpointed params, got %d", len(cp.BestParams))
	}
}

func TestBuildProblem_Defaults(t *testing.T) {
	config := testJobConfig()
	config.SampleRate = 0
	config.SPL = 0
	config.Filters = 0

	problem, err := buildProblem(config)
	if err != nil {
		t.Fatalf("buildProblem should succeed: %v", err)
	}

	if problem.NumFilters() != 7 {
		t.Errorf("Expected 7 filters by default, got %d", problem.NumFilters())
	}
	if problem.Dim() != 21 {
		t.Errorf("Expected dim 21, got %d", problem.Dim())
	}
}

func TestEvalRate(t *testing.T) {
	if got := evalRate(100, 60, 2*time.Second); got != 3000 {
		t.Errorf("Expected 3000 evals/sec, got %f", got)
	}
	if got := evalRate(100, 0, time.Second); got != 0 {
		t.Errorf("Unknown population should yield 0, got %f", got)
	}
	if got := evalRate(100, 60, 0); got != 0 {
		t.Errorf("Zero elapsed should yield 0, got %f", got)
	}
}
