package eq

import (
	"errors"
	"math"
	"testing"
)

func testGrid() []float64 {
	return []float64{50, 200, 1000, 5000, 15000}
}

func flatProblemConfig(filters int) ProblemConfig {
	cfg := DefaultProblemConfig()
	cfg.Grid = testGrid()
	cfg.Target = make([]float64, len(cfg.Grid))
	cfg.Filters = filters
	return cfg
}

// zeroBankParams returns a parameter vector whose filters all sit at 0 dB
// with well-separated centers, so neither the error sum nor any penalty
// term fires.
func zeroBankParams() []float64 {
	return []float64{
		100, 0, 0.7,
		8000, 0, 0.7,
		1000, 0, 1.0,
	}
}

func TestNewProblemValidation(t *testing.T) {
	valid := flatProblemConfig(3)
	if _, err := NewProblem(valid); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ProblemConfig)
	}{
		{"too few filters", func(c *ProblemConfig) { c.Filters = 1 }},
		{"empty grid", func(c *ProblemConfig) { c.Grid = nil }},
		{"target length mismatch", func(c *ProblemConfig) { c.Target = []float64{0, 0} }},
		{"weights length mismatch", func(c *ProblemConfig) { c.Weights = []float64{1, 1} }},
		{"negative weight", func(c *ProblemConfig) {
			c.Weights = []float64{1, 1, -1, 1, 1}
		}},
		{"zero sample rate", func(c *ProblemConfig) { c.SampleRate = 0 }},
		{"nyquist below filter range", func(c *ProblemConfig) { c.SampleRate = 32000 }},
		{"grid below 20 Hz", func(c *ProblemConfig) { c.Grid[0] = 10 }},
		{"grid above 20 kHz", func(c *ProblemConfig) {
			c.Grid[len(c.Grid)-1] = 20001
		}},
		{"grid not increasing", func(c *ProblemConfig) { c.Grid[2] = 200 }},
		{"grid at nyquist", func(c *ProblemConfig) {
			c.SampleRate = 40000
			c.Grid[len(c.Grid)-1] = 20000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := flatProblemConfig(3)
			tt.mutate(&cfg)

			_, err := NewProblem(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestProblemDimensions(t *testing.T) {
	p, err := NewProblem(flatProblemConfig(7))
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	if p.Dim() != 21 {
		t.Errorf("Expected dim 21 for 7 filters, got %d", p.Dim())
	}
	if p.NumFilters() != 7 {
		t.Errorf("Expected 7 filters, got %d", p.NumFilters())
	}

	lower, upper := p.Bounds()
	if len(lower) != 21 || len(upper) != 21 {
		t.Errorf("Expected 21 bounds, got %d/%d", len(lower), len(upper))
	}
}

func TestCostZeroBankFlatTarget(t *testing.T) {
	p, err := NewProblem(flatProblemConfig(3))
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	cost := p.Cost(zeroBankParams())
	if math.Abs(cost) > 1e-12 {
		t.Errorf("Flat bank against flat target should cost ~0, got %g", cost)
	}
}

func TestCostMatchesWeightedError(t *testing.T) {
	cfg := DefaultProblemConfig()
	cfg.Grid = []float64{1000, 2000}
	cfg.Target = []float64{0, 10}
	cfg.Filters = 3

	// With weight only on the second point, the flat bank misses the
	// 10 dB target there: cost = 1 * (0-10)^2.
	cfg.Weights = []float64{0, 1}
	p, err := NewProblem(cfg)
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}
	cost := p.Cost(zeroBankParams())
	if math.Abs(cost-100) > 1e-9 {
		t.Errorf("Expected cost 100, got %f", cost)
	}

	// Weighting only the matched point zeroes the cost.
	cfg.Weights = []float64{1, 0}
	p, err = NewProblem(cfg)
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}
	cost = p.Cost(zeroBankParams())
	if math.Abs(cost) > 1e-9 {
		t.Errorf("Expected cost ~0, got %f", cost)
	}
}

func TestCostNonNegative(t *testing.T) {
	p, err := NewProblem(flatProblemConfig(3))
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	vectors := [][]float64{
		zeroBankParams(),
		{20, 6, 4, 16000, -12, 0.3, 20, 6, 4},
		{100, 11, 5, 9000, 9, 5, 1000, 10, 6},
		// Dead section: the response collapses to the silence floor.
		{0, 3, 1, 8000, 0, 1, 1000, 0, 1},
	}

	for i, v := range vectors {
		cost := p.Cost(v)
		if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
			t.Errorf("Vector %d: expected finite non-negative cost, got %f", i, cost)
		}
	}
}

func TestCostDecomposition(t *testing.T) {
	p, err := NewProblem(flatProblemConfig(3))
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	// A bank with a hot boost so the penalty term is live.
	params := []float64{100, 3, 0.7, 8000, 0, 0.7, 1000, 8, 1.0}

	resp := p.Response(params)
	target := p.Target()
	wse := 0.0
	for i := range resp {
		d := resp[i] - target[i]
		wse += d * d
	}
	pen := Penalty(AdjustForLoudness(DecodeFilters(params), 85), DefaultPenaltyConfig())

	got := p.Cost(params)
	if math.Abs(got-(wse+pen)) > 1e-9 {
		t.Errorf("Cost %f does not decompose into error %f + penalty %f", got, wse, pen)
	}
	if pen <= 0 {
		t.Errorf("Expected a live penalty term, got %f", pen)
	}
}

func TestBaselineCost(t *testing.T) {
	p, err := NewProblem(flatProblemConfig(3))
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	want := p.Cost(NewBounds(3).Midpoint())
	if got := p.BaselineCost(); got != want {
		t.Errorf("Baseline cost %f != cost of midpoint bank %f", got, want)
	}
}

func TestProblemCopiesInputs(t *testing.T) {
	cfg := flatProblemConfig(3)
	p, err := NewProblem(cfg)
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	params := zeroBankParams()
	before := p.Cost(params)

	// Mutating the caller's slices must not reach the problem.
	cfg.Grid[0] = 19999
	cfg.Target[2] = 50

	after := p.Cost(params)
	if before != after {
		t.Errorf("Cost changed after caller mutation: %f -> %f", before, after)
	}
	if g := p.Grid(); g[0] != 50 {
		t.Errorf("Grid leaked caller mutation: got %f, want 50", g[0])
	}
}

func TestNilWeightsAreUniform(t *testing.T) {
	implicit := flatProblemConfig(3)
	implicit.Target = []float64{1, 2, 3, 2, 1}

	explicit := implicit
	explicit.Target = []float64{1, 2, 3, 2, 1}
	explicit.Weights = []float64{1, 1, 1, 1, 1}

	p1, err := NewProblem(implicit)
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}
	p2, err := NewProblem(explicit)
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	params := zeroBankParams()
	if c1, c2 := p1.Cost(params), p2.Cost(params); c1 != c2 {
		t.Errorf("Nil weights should behave as all-ones: %f vs %f", c1, c2)
	}
}

func TestResponse(t *testing.T) {
	p, err := NewProblem(flatProblemConfig(3))
	if err != nil {
		t.Fatalf("Failed to create problem: %v", err)
	}

	resp := p.Response(zeroBankParams())
	if len(resp) != len(testGrid()) {
		t.Fatalf("Expected %d response points, got %d", len(testGrid()), len(resp))
	}
	for i, r := range resp {
		if math.Abs(r) > 1e-12 {
			t.Errorf("Point %d: flat bank response should be 0 dB, got %g", i, r)
		}
	}
}

func TestDefaultProblemConfig(t *testing.T) {
	cfg := DefaultProblemConfig()

	if cfg.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %f", cfg.SampleRate)
	}
	if cfg.SPL != 85 {
		t.Errorf("Expected SPL 85, got %f", cfg.SPL)
	}
	if cfg.Filters != 7 {
		t.Errorf("Expected 7 filters, got %d", cfg.Filters)
	}
	if cfg.Penalty != DefaultPenaltyConfig() {
		t.Errorf("Expected default penalty config, got %+v", cfg.Penalty)
	}
}
