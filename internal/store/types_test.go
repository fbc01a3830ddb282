package store

import (
	"testing"
	"time"
)

func validConfig() JobConfig {
	return JobConfig{
		Frequencies: []float64{20, 100, 1000, 10000, 20000},
		Target:      []float64{0, 1, 2, -1, 0},
		SampleRate:  48000,
		SPL:         85,
		Filters:     3,
		Algorithm:   "de",
		Iters:       1000,
		PopSize:     60,
		Seed:        42,
	}
}

func validCheckpoint() *Checkpoint {
	return &Checkpoint{
		JobID:       "valid-job",
		BestParams:  []float64{80, 2.5, 0.7, 9000, -1.2, 0.9, 1200, 3.0, 1.4},
		BestCost:    0.1,
		InitialCost: 0.5,
		Generation:  100,
		Timestamp:   time.Now(),
		Config:      validConfig(),
	}
}

func TestCheckpoint_Validate_Valid(t *testing.T) {
	if err := validCheckpoint().Validate(); err != nil {
		t.Errorf("Valid checkpoint should not have validation error: %v", err)
	}
}

func TestCheckpoint_Validate_EmptyJobID(t *testing.T) {
	checkpoint := validCheckpoint()
	checkpoint.JobID = ""

	err := checkpoint.Validate()
	if err == nil {
		t.Fatal("Expected validation error for empty JobID")
	}

	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestCheckpoint_Validate_BadParams(t *testing.T) {
	testCases := []struct {
		name       string
		bestParams []float64
	}{
		{"nil params", nil},
		{"empty params", []float64{}},
		{"not multiple of 3", []float64{1, 2, 3, 4, 5}},
		// 6 params = 2 filters, but the config says 3
		{"wrong count for filters", []float64{80, 2.5, 0.7, 9000, -1.2, 0.9}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := validCheckpoint()
			checkpoint.BestParams = tc.bestParams

			if err := checkpoint.Validate(); err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_NegativeValues(t *testing.T) {
	testCases := []struct {
		name        string
		bestCost    float64
		initialCost float64
		generation  int
	}{
		{"negative cost", -0.1, 0.5, 100},
		{"negative initial cost", 0.1, -0.5, 100},
		{"negative generation", 0.1, 0.5, -10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := validCheckpoint()
			checkpoint.BestCost = tc.bestCost
			checkpoint.InitialCost = tc.initialCost
			checkpoint.Generation = tc.generation

			if err := checkpoint.Validate(); err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_ZeroTimestamp(t *testing.T) {
	checkpoint := validCheckpoint()
	checkpoint.Timestamp = time.Time{}

	if err := checkpoint.Validate(); err == nil {
		t.Fatal("Expected validation error for zero timestamp")
	}
}

func TestCheckpoint_Validate_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"no frequencies", func(c *JobConfig) { c.Frequencies = nil }},
		{"target length mismatch", func(c *JobConfig) { c.Target = []float64{0, 1} }},
		{"zero sample rate", func(c *JobConfig) { c.SampleRate = 0 }},
		{"one filter", func(c *JobConfig) { c.Filters = 1 }},
		{"empty algorithm", func(c *JobConfig) { c.Algorithm = "" }},
		{"zero iters", func(c *JobConfig) { c.Iters = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := validCheckpoint()
			tc.mutate(&checkpoint.Config)
			// Keep the param count consistent with the mutated filter count
			// so only the targeted field trips validation.
			if checkpoint.Config.Filters == 1 {
				checkpoint.BestParams = checkpoint.BestParams[:3]
			}

			if err := checkpoint.Validate(); err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_IsCompatible_SameProblem(t *testing.T) {
	checkpoint := validCheckpoint()

	if err := checkpoint.IsCompatible(validConfig()); err != nil {
		t.Errorf("Compatible configs should not return error: %v", err)
	}
}

func TestCheckpoint_IsCompatible_OptimizerSettingsMayDiffer(t *testing.T) {
	checkpoint := validCheckpoint()

	config := validConfig()
	config.Algorithm = "mayfly"
	config.Iters = 50
	config.PopSize = 20
	config.Seed = 7

	// Only the problem must match; the resumed leg may be tuned differently.
	if err := checkpoint.IsCompatible(config); err != nil {
		t.Errorf("Different optimizer settings should stay compatible: %v", err)
	}
}

func TestCheckpoint_IsCompatible_DifferentGrid(t *testing.T) {
	checkpoint := validCheckpoint()

	config := validConfig()
	config.Frequencies = []float64{20, 200, 2000, 10000, 20000}

	err := checkpoint.IsCompatible(config)
	if err == nil {
		t.Fatal("Expected compatibility error for different grid")
	}

	if _, ok := err.(*CompatibilityError); !ok {
		t.Errorf("Expected CompatibilityError, got %T", err)
	}
}

func TestCheckpoint_IsCompatible_DifferentTarget(t *testing.T) {
	checkpoint := validCheckpoint()

	config := validConfig()
	config.Target = []float64{0, 0, 0, 0, 0}

	if err := checkpoint.IsCompatible(config); err == nil {
		t.Fatal("Expected compatibility error for different target")
	}
}

func TestCheckpoint_IsCompatible_DifferentFilters(t *testing.T) {
	checkpoint := validCheckpoint()

	config := validConfig()
	config.Filters = 7

	if err := checkpoint.IsCompatible(config); err == nil {
		t.Fatal("Expected compatibility error for different filter count")
	}
}

func TestNewCheckpoint(t *testing.T) {
	bestParams := []float64{80, 2.5, 0.7, 9000, -1.2, 0.9, 1200, 3.0, 1.4}
	config := validConfig()

	checkpoint := NewCheckpoint("test-job", bestParams, 0.123, 0.5, 500, config)

	if checkpoint.JobID != "test-job" {
		t.Errorf("JobID mismatch: expected test-job, got %s", checkpoint.JobID)
	}
	if checkpoint.BestCost != 0.123 {
		t.Errorf("BestCost mismatch: expected 0.123, got %f", checkpoint.BestCost)
	}
	if checkpoint.Generation != 500 {
		t.Errorf("Generation mismatch: expected 500, got %d", checkpoint.Generation)
	}
	if checkpoint.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(checkpoint.BestParams) != len(bestParams) {
		t.Errorf("BestParams length mismatch")
	}
	if err := checkpoint.Validate(); err != nil {
		t.Errorf("NewCheckpoint output should validate: %v", err)
	}
}
