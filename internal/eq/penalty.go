package eq

import "math"

// PenaltyConfig holds the soft-constraint thresholds and multipliers.
// Values are read-only for a run; pass by value.
type PenaltyConfig struct {
	// Gain ceiling term. Boosts past MaxGainDb are penalized quadratically,
	// softer below LowFreqHz where the ear tolerates more level.
	MaxGainDb        float64
	LowFreqHz        float64
	LowFreqGainMult  float64
	HighFreqGainMult float64

	// Frequency-dependent Q ceiling: QCeilBase + QCeilScale*exp(-Fc/QCeilCorner).
	QCeilBase   float64
	QCeilScale  float64
	QCeilCorner float64
	QCeilMult   float64

	// Flat secondary Q ceiling, applied regardless of frequency.
	SoftQLimit float64
	SoftQMult  float64

	// Peak-pair overlap: pairs whose Fc ratio exceeds OverlapRatio.
	OverlapRatio float64
	OverlapMult  float64

	// Peak-pair spacing: pairs closer than MinSpacingHz.
	MinSpacingHz float64
	SpacingMult  float64
}

// DefaultPenaltyConfig returns the tuning used for headphone EQ fits.
func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{
		MaxGainDb:        maxBoostDb,
		LowFreqHz:        200,
		LowFreqGainMult:  5.0,
		HighFreqGainMult: 10.0,
		QCeilBase:        4.0,
		QCeilScale:       2.0,
		QCeilCorner:      5000,
		QCeilMult:        50.0,
		SoftQLimit:       2.5,
		SoftQMult:        100.0,
		OverlapRatio:     0.90,
		OverlapMult:      100.0,
		MinSpacingHz:     100,
		SpacingMult:      50.0,
	}
}

// Penalty sums the soft-constraint terms over a filter bank. Shelf gains
// are expected to be loudness-adjusted already; see AdjustForLoudness.
// The result is always >= 0 and independent of the frequency grid.
func Penalty(filters []FilterSpec, cfg PenaltyConfig) float64 {
	total := 0.0
	for _, f := range filters {
		total += gainPenalty(f, cfg)
		total += qPenalty(f, cfg)
	}

	// Pairwise terms apply to peaks only; there is one shelf of each kind,
	// so shelves cannot crowd each other.
	for j := 0; j < len(filters); j++ {
		if filters[j].Type != Peak {
			continue
		}
		for k := j + 1; k < len(filters); k++ {
			if filters[k].Type != Peak {
				continue
			}
			total += pairPenalty(filters[j], filters[k], cfg)
		}
	}

	return total
}

func gainPenalty(f FilterSpec, cfg PenaltyConfig) float64 {
	if f.Gain <= cfg.MaxGainDb {
		return 0
	}
	excess := f.Gain - cfg.MaxGainDb
	mult := cfg.HighFreqGainMult
	if f.Fc < cfg.LowFreqHz {
		mult = cfg.LowFreqGainMult
	}
	return mult * excess * excess
}

func qPenalty(f FilterSpec, cfg PenaltyConfig) float64 {
	p := 0.0

	ceiling := cfg.QCeilBase + cfg.QCeilScale*math.Exp(-f.Fc/cfg.QCeilCorner)
	if f.Q > ceiling {
		d := f.Q - ceiling
		p += cfg.QCeilMult * d * d
	}

	if f.Q > cfg.SoftQLimit {
		d := f.Q - cfg.SoftQLimit
		p += cfg.SoftQMult * d * d
	}

	return p
}

func pairPenalty(a, b FilterSpec, cfg PenaltyConfig) float64 {
	p := 0.0

	lo, hi := a.Fc, b.Fc
	if lo > hi {
		lo, hi = hi, lo
	}

	if hi > 0 {
		ratio := lo / hi
		if ratio > cfg.OverlapRatio {
			// The Q factor lives in (0,1) and weights the term by how
			// sharply the pair resonates.
			avgQ := (a.Q + b.Q) / 2
			p += cfg.OverlapMult * (ratio - cfg.OverlapRatio) * (1 - 1/(1+avgQ))
		}
	}

	if spacing := hi - lo; spacing < cfg.MinSpacingHz {
		d := cfg.MinSpacingHz - spacing
		p += cfg.SpacingMult * d * d
	}

	return p
}
