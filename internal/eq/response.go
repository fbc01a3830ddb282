package eq

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

const (
	// silenceFloorDb is returned when the cascade magnitude collapses to
	// (numerical) zero, instead of taking the log of it.
	silenceFloorDb = -999.0
	linearFloor    = 1e-12

	// referenceSpl is the listening level at which shelf gains apply
	// unscaled.
	referenceSpl = 85.0
)

// AdjustForLoudness returns a copy of filters with shelf gains scaled for
// the listening level: adjusted = gain * (1 + 0.02*(85 - spl)). Peak gains
// are left untouched; shelves carry the broadband tilt that loudness
// compensation targets, and that asymmetry is intentional.
func AdjustForLoudness(filters []FilterSpec, spl float64) []FilterSpec {
	scale := 1 + 0.02*(referenceSpl-spl)
	adjusted := make([]FilterSpec, len(filters))
	for i, f := range filters {
		if f.Type == LowShelf || f.Type == HighShelf {
			f.Gain *= scale
		}
		adjusted[i] = f
	}
	return adjusted
}

// coefficientsFor derives the biquad transfer coefficients for one filter.
// Out-of-contract parameters yield the designer's zero value, which
// evaluates to zero magnitude and therefore the silence floor.
func coefficientsFor(f FilterSpec, sampleRate float64) biquad.Coefficients {
	switch f.Type {
	case LowShelf:
		return design.LowShelf(f.Fc, f.Gain, f.Q, sampleRate)
	case HighShelf:
		return design.HighShelf(f.Fc, f.Gain, f.Q, sampleRate)
	default:
		return design.Peak(f.Fc, f.Gain, f.Q, sampleRate)
	}
}

// bankCoefficients derives coefficients for every filter in the bank once,
// so grid sweeps don't re-run the designer per frequency.
func bankCoefficients(filters []FilterSpec, sampleRate float64) []biquad.Coefficients {
	coeffs := make([]biquad.Coefficients, len(filters))
	for i, f := range filters {
		coeffs[i] = coefficientsFor(f, sampleRate)
	}
	return coeffs
}

// Magnitude returns |H(f)| for a single filter at frequency freq.
func Magnitude(f FilterSpec, freq, sampleRate float64) float64 {
	c := coefficientsFor(f, sampleRate)
	return math.Sqrt(c.MagnitudeSquared(freq, sampleRate))
}

// cascadeDb multiplies the linear magnitudes of all sections (series
// cascade, order-invariant) and converts the product to dB, flooring at
// silenceFloorDb when the product underflows.
func cascadeDb(coeffs []biquad.Coefficients, freq, sampleRate float64) float64 {
	product := 1.0
	for i := range coeffs {
		product *= math.Sqrt(coeffs[i].MagnitudeSquared(freq, sampleRate))
	}
	if product <= linearFloor {
		return silenceFloorDb
	}
	return 20 * math.Log10(product)
}

// EvaluateAt returns the cascaded filter-bank response in dB at a single
// frequency, with shelf gains loudness-adjusted for the given SPL.
func EvaluateAt(filters []FilterSpec, freq, sampleRate, spl float64) float64 {
	adjusted := AdjustForLoudness(filters, spl)
	return cascadeDb(bankCoefficients(adjusted, sampleRate), freq, sampleRate)
}
