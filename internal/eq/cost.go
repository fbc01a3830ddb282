package eq

import "fmt"

// Grid limits for target curves.
const (
	minGridHz = 20.0
	maxGridHz = 20000.0
)

// ValidationError reports an invalid fitting configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid fit config: " + e.Field + " " + e.Reason
}

// ProblemConfig holds the inputs of one fitting run. Grid, Target and
// Weights must have equal length; a nil Weights means uniform weighting.
type ProblemConfig struct {
	Grid       []float64
	Target     []float64
	Weights    []float64
	SampleRate float64
	SPL        float64
	Filters    int
	Penalty    PenaltyConfig
}

// DefaultProblemConfig returns a config with the usual headphone-EQ
// settings filled in; callers supply Grid and Target.
func DefaultProblemConfig() ProblemConfig {
	return ProblemConfig{
		SampleRate: 48000,
		SPL:        referenceSpl,
		Filters:    7,
		Penalty:    DefaultPenaltyConfig(),
	}
}

// Problem binds the immutable inputs of a fitting run and scores candidate
// parameter vectors against them. Safe for concurrent use once built.
type Problem struct {
	grid       []float64
	target     []float64
	weights    []float64
	sampleRate float64
	spl        float64
	nFilters   int
	bounds     *Bounds
	penalty    PenaltyConfig
}

// NewProblem validates the config and builds a Problem. All slices are
// copied so later caller mutation cannot leak into a running fit.
func NewProblem(cfg ProblemConfig) (*Problem, error) {
	if cfg.Filters < 2 {
		return nil, &ValidationError{Field: "Filters", Reason: "need at least 2 (low and high shelf)"}
	}
	if len(cfg.Grid) == 0 {
		return nil, &ValidationError{Field: "Grid", Reason: "cannot be empty"}
	}
	if len(cfg.Target) != len(cfg.Grid) {
		return nil, &ValidationError{
			Field:  "Target",
			Reason: fmt.Sprintf("length %d does not match grid length %d", len(cfg.Target), len(cfg.Grid)),
		}
	}
	if cfg.Weights != nil && len(cfg.Weights) != len(cfg.Grid) {
		return nil, &ValidationError{
			Field:  "Weights",
			Reason: fmt.Sprintf("length %d does not match grid length %d", len(cfg.Weights), len(cfg.Grid)),
		}
	}
	if cfg.SampleRate <= 0 {
		return nil, &ValidationError{Field: "SampleRate", Reason: "must be positive"}
	}
	// The high-shelf corner may sit at 16 kHz; keep Nyquist above it so
	// every in-bounds candidate stays inside the response model's contract.
	if cfg.SampleRate/2 <= 16000 {
		return nil, &ValidationError{Field: "SampleRate", Reason: "Nyquist must exceed the 16 kHz filter bound"}
	}
	for i, f := range cfg.Grid {
		if f < minGridHz || f > maxGridHz {
			return nil, &ValidationError{
				Field:  "Grid",
				Reason: fmt.Sprintf("frequency %g at index %d outside [%g, %g] Hz", f, i, minGridHz, maxGridHz),
			}
		}
		if i > 0 && f <= cfg.Grid[i-1] {
			return nil, &ValidationError{
				Field:  "Grid",
				Reason: fmt.Sprintf("not strictly increasing at index %d", i),
			}
		}
		if f >= cfg.SampleRate/2 {
			return nil, &ValidationError{
				Field:  "Grid",
				Reason: fmt.Sprintf("frequency %g at index %d is at or above Nyquist", f, i),
			}
		}
	}
	for i, w := range cfg.Weights {
		if w < 0 {
			return nil, &ValidationError{
				Field:  "Weights",
				Reason: fmt.Sprintf("negative weight %g at index %d", w, i),
			}
		}
	}

	weights := make([]float64, len(cfg.Grid))
	if cfg.Weights == nil {
		for i := range weights {
			weights[i] = 1
		}
	} else {
		copy(weights, cfg.Weights)
	}

	grid := make([]float64, len(cfg.Grid))
	copy(grid, cfg.Grid)
	target := make([]float64, len(cfg.Target))
	copy(target, cfg.Target)

	return &Problem{
		grid:       grid,
		target:     target,
		weights:    weights,
		sampleRate: cfg.SampleRate,
		spl:        cfg.SPL,
		nFilters:   cfg.Filters,
		bounds:     NewBounds(cfg.Filters),
		penalty:    cfg.Penalty,
	}, nil
}

// Dim returns the dimensionality of the parameter space.
func (p *Problem) Dim() int {
	return p.nFilters * paramsPerFilter
}

// NumFilters returns the bank size.
func (p *Problem) NumFilters() int {
	return p.nFilters
}

// Bounds returns the per-slot lower and upper bounds. The slices are
// shared; callers must treat them as read-only.
func (p *Problem) Bounds() (lower, upper []float64) {
	return p.bounds.Lower, p.bounds.Upper
}

// Grid returns a copy of the frequency grid.
func (p *Problem) Grid() []float64 {
	return append([]float64{}, p.grid...)
}

// Target returns a copy of the target curve.
func (p *Problem) Target() []float64 {
	return append([]float64{}, p.target...)
}

// BaselineCost scores the flat bank, every filter parked at its slot's
// center frequency with 0 dB gain. It is the reference point for
// improvement reporting.
func (p *Problem) BaselineCost() float64 {
	return p.Cost(p.bounds.Midpoint())
}

// Cost scores a candidate vector: the weighted squared dB error against the
// target, summed over the grid, plus the penalty terms computed once per
// vector. Pure and deterministic; params must have length Dim().
func (p *Problem) Cost(params []float64) float64 {
	filters := DecodeFilters(params)
	adjusted := AdjustForLoudness(filters, p.spl)
	coeffs := bankCoefficients(adjusted, p.sampleRate)

	sum := 0.0
	for i, f := range p.grid {
		d := cascadeDb(coeffs, f, p.sampleRate) - p.target[i]
		sum += p.weights[i] * d * d
	}

	return sum + Penalty(adjusted, p.penalty)
}

// Response evaluates the candidate's loudness-adjusted response in dB at
// every grid point, for plotting and result reporting.
func (p *Problem) Response(params []float64) []float64 {
	adjusted := AdjustForLoudness(DecodeFilters(params), p.spl)
	coeffs := bankCoefficients(adjusted, p.sampleRate)

	out := make([]float64, len(p.grid))
	for i, f := range p.grid {
		out[i] = cascadeDb(coeffs, f, p.sampleRate)
	}
	return out
}
