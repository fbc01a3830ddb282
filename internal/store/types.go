package store

import (
	"fmt"
	"slices"
	"time"
)

const paramsPerFilter = 3

// JobConfig holds the full configuration of a fitting job. The numeric
// inputs are embedded directly so a persisted checkpoint is self-contained
// and a job can be resumed without the original measurement file.
type JobConfig struct {
	Frequencies []float64 `json:"frequencies"`
	Target      []float64 `json:"target"`
	Weights     []float64 `json:"weights,omitempty"`
	SampleRate  float64   `json:"sampleRate"`
	SPL         float64   `json:"spl"`
	Filters     int       `json:"filters"`
	Algorithm   string    `json:"algorithm"` // de, mayfly
	Iters       int       `json:"iters"`
	PopSize     int       `json:"popSize,omitempty"` // 0 = engine default
	Seed        int64     `json:"seed"`
	Mutation    float64   `json:"mutation,omitempty"`
	Crossover   float64   `json:"crossover,omitempty"`
	Tol         float64   `json:"tol,omitempty"`

	// CheckpointInterval is the number of seconds between periodic
	// checkpoints while a job runs (0 = only checkpoint on completion).
	CheckpointInterval int `json:"checkpointInterval,omitempty"`
}

// Checkpoint is a saved optimization state that can be resumed later.
//
// Only the best parameter vector is saved, never the optimizer's internal
// population. Resume therefore restarts with a fresh population seeded
// with the checkpointed best vector, which guarantees the resumed run
// never starts worse than the checkpoint but is not a bit-exact
// continuation. Persisting populations would tie the format to one engine
// (the DE and mayfly backends keep entirely different state) for little
// practical gain.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// BestParams is the flat filter parameter vector (Fc, gain, Q per
	// filter) that achieved BestCost.
	BestParams []float64 `json:"bestParams"`

	BestCost    float64 `json:"bestCost"`
	InitialCost float64 `json:"initialCost"`

	// Generation is the optimizer generation count when the checkpoint
	// was taken.
	Generation int `json:"generation"`

	Timestamp time.Time `json:"timestamp"`

	// Config is kept alongside the parameters so resume can verify it is
	// continuing the same problem.
	Config JobConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the parameter and curve
// payloads, for cheap listings.
type CheckpointInfo struct {
	JobID      string    `json:"jobId"`
	BestCost   float64   `json:"bestCost"`
	Generation int       `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	Algorithm  string    `json:"algorithm"`
	Filters    int       `json:"filters"`
	GridPoints int       `json:"gridPoints"`
}

// NewCheckpoint assembles a checkpoint from runtime job state.
func NewCheckpoint(jobID string, bestParams []float64, bestCost, initialCost float64, generation int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Generation:  generation,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to its metadata view.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:      c.JobID,
		BestCost:   c.BestCost,
		Generation: c.Generation,
		Timestamp:  c.Timestamp,
		Algorithm:  c.Config.Algorithm,
		Filters:    c.Config.Filters,
		GridPoints: len(c.Config.Frequencies),
	}
}

// Validate checks that the checkpoint is internally consistent.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if len(c.BestParams)%paramsPerFilter != 0 {
		return &ValidationError{Field: "BestParams", Reason: "length must be a multiple of 3"}
	}
	if c.BestCost < 0 {
		return &ValidationError{Field: "BestCost", Reason: "cannot be negative"}
	}
	if c.InitialCost < 0 {
		return &ValidationError{Field: "InitialCost", Reason: "cannot be negative"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if len(c.Config.Frequencies) == 0 {
		return &ValidationError{Field: "Config.Frequencies", Reason: "cannot be empty"}
	}
	if len(c.Config.Target) != len(c.Config.Frequencies) {
		return &ValidationError{Field: "Config.Target", Reason: "length must match frequencies"}
	}
	if c.Config.SampleRate <= 0 {
		return &ValidationError{Field: "Config.SampleRate", Reason: "must be positive"}
	}
	if c.Config.Filters < 2 {
		return &ValidationError{Field: "Config.Filters", Reason: "need at least 2"}
	}
	if c.Config.Algorithm == "" {
		return &ValidationError{Field: "Config.Algorithm", Reason: "cannot be empty"}
	}
	if c.Config.Iters <= 0 {
		return &ValidationError{Field: "Config.Iters", Reason: "must be positive"}
	}
	if expected := c.Config.Filters * paramsPerFilter; len(c.BestParams) != expected {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d params for %d filters", expected, c.Config.Filters),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether this checkpoint can seed a run with the
// given config. The problem must be unchanged (same grid, target, and
// bank size); optimizer settings may differ between the runs.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if !slices.Equal(c.Config.Frequencies, config.Frequencies) {
		return &CompatibilityError{
			Field:    "Frequencies",
			Expected: fmt.Sprintf("%d points", len(c.Config.Frequencies)),
			Actual:   fmt.Sprintf("%d points (or different values)", len(config.Frequencies)),
		}
	}
	if !slices.Equal(c.Config.Target, config.Target) {
		return &CompatibilityError{
			Field:    "Target",
			Expected: "checkpointed target curve",
			Actual:   "a different target curve",
		}
	}
	if c.Config.Filters != config.Filters {
		return &CompatibilityError{
			Field:    "Filters",
			Expected: fmt.Sprintf("%d", c.Config.Filters),
			Actual:   fmt.Sprintf("%d", config.Filters),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
