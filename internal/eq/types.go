package eq

import "math"

// FilterType identifies the response shape of a single biquad section.
type FilterType int

const (
	LowShelf FilterType = iota
	HighShelf
	Peak
)

// String returns the short name used in logs and serialized results.
func (t FilterType) String() string {
	switch t {
	case LowShelf:
		return "low_shelf"
	case HighShelf:
		return "high_shelf"
	default:
		return "peak"
	}
}

// FilterSpec describes one parametric filter. Immutable value.
type FilterSpec struct {
	Type FilterType
	Fc   float64 // center/corner frequency in Hz
	Gain float64 // gain in dB
	Q    float64 // quality factor
}

const paramsPerFilter = 3

// maxBoostDb is the boost headroom shared by the gain-ceiling penalty and
// the preamp derivation.
const maxBoostDb = 6.0

// filterTypeForSlot maps a filter index to its fixed type: slot 0 is the
// low shelf, slot 1 the high shelf, everything after is a peak.
func filterTypeForSlot(i int) FilterType {
	switch i {
	case 0:
		return LowShelf
	case 1:
		return HighShelf
	default:
		return Peak
	}
}

// DecodeFilters expands a flat parameter vector into filter specs.
// Layout per filter: Fc, Gain, Q.
func DecodeFilters(params []float64) []FilterSpec {
	n := len(params) / paramsPerFilter
	filters := make([]FilterSpec, n)
	for i := 0; i < n; i++ {
		offset := i * paramsPerFilter
		filters[i] = FilterSpec{
			Type: filterTypeForSlot(i),
			Fc:   params[offset+0],
			Gain: params[offset+1],
			Q:    params[offset+2],
		}
	}
	return filters
}

// EncodeFilters flattens filter specs into a parameter vector.
// The slice order defines the slot order; types are not stored.
func EncodeFilters(filters []FilterSpec) []float64 {
	params := make([]float64, len(filters)*paramsPerFilter)
	for i, f := range filters {
		offset := i * paramsPerFilter
		params[offset+0] = f.Fc
		params[offset+1] = f.Gain
		params[offset+2] = f.Q
	}
	return params
}

// Bounds defines valid parameter ranges per slot.
type Bounds struct {
	Lower []float64
	Upper []float64
	N     int
}

// NewBounds creates bounds for a bank of n filters: the low shelf corner
// stays in [20,200] Hz, the high shelf corner in [6000,16000] Hz, peak
// centers roam [20,16000] Hz; every gain is [-12,6] dB and every Q [0.3,4].
func NewBounds(n int) *Bounds {
	lower := make([]float64, n*paramsPerFilter)
	upper := make([]float64, n*paramsPerFilter)

	for i := 0; i < n; i++ {
		offset := i * paramsPerFilter
		switch filterTypeForSlot(i) {
		case LowShelf:
			lower[offset+0] = 20
			upper[offset+0] = 200
		case HighShelf:
			lower[offset+0] = 6000
			upper[offset+0] = 16000
		default:
			lower[offset+0] = 20
			upper[offset+0] = 16000
		}
		// Gain bounds [-12, 6] dB
		lower[offset+1] = -12
		upper[offset+1] = maxBoostDb
		// Q bounds [0.3, 4.0]
		lower[offset+2] = 0.3
		upper[offset+2] = 4.0
	}

	return &Bounds{
		Lower: lower,
		Upper: upper,
		N:     n,
	}
}

// ClampVector clamps all parameters in a vector to their slot bounds.
func (b *Bounds) ClampVector(data []float64) {
	for i := range data {
		data[i] = clamp(data[i], b.Lower[i], b.Upper[i])
	}
}

// Midpoint returns the vector at the center of every slot range, with all
// gains forced to 0 dB. Used as the neutral starting point for the
// initial-cost measurement.
func (b *Bounds) Midpoint() []float64 {
	mid := make([]float64, len(b.Lower))
	for i := range mid {
		if i%paramsPerFilter == 1 {
			continue // gain slot stays 0 dB
		}
		mid[i] = (b.Lower[i] + b.Upper[i]) / 2
	}
	return mid
}

// Preamp returns the headroom offset in dB for a fitted bank:
// -max(0, maxGain - 6). A bank whose largest boost stays at or below
// 6 dB needs no preamp.
func Preamp(filters []FilterSpec) float64 {
	if len(filters) == 0 {
		return 0
	}
	maxGain := math.Inf(-1)
	for _, f := range filters {
		if f.Gain > maxGain {
			maxGain = f.Gain
		}
	}
	return -math.Max(0, maxGain-maxBoostDb)
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
