package eq

import "gonum.org/v1/gonum/floats"

// LogSpacedGrid returns n logarithmically spaced frequencies spanning
// [minHz, maxHz] inclusive, suitable as a fitting grid. The endpoints must
// be positive with minHz < maxHz.
func LogSpacedGrid(n int, minHz, maxHz float64) ([]float64, error) {
	if n < 2 {
		return nil, &ValidationError{Field: "Grid", Reason: "need at least 2 points"}
	}
	if minHz <= 0 {
		return nil, &ValidationError{Field: "Grid", Reason: "minimum frequency must be positive"}
	}
	if maxHz <= minHz {
		return nil, &ValidationError{Field: "Grid", Reason: "maximum frequency must exceed the minimum"}
	}

	grid := floats.LogSpan(make([]float64, n), minHz, maxHz)
	// LogSpan round-trips the endpoints through exp(log(x)), which can land
	// an ulp off; pin them so downstream range checks see the exact values.
	grid[0] = minHz
	grid[n-1] = maxHz
	return grid, nil
}
