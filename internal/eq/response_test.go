package eq

import (
	"math"
	"testing"
)

const sampleRate = 48000.0

func TestPeakGainAtCenter(t *testing.T) {
	// The RBJ peaking filter hits its nominal gain exactly at the center
	// frequency.
	tests := []struct {
		gain float64
	}{
		{3.0},
		{-4.0},
		{6.0},
	}

	for _, tt := range tests {
		filters := []FilterSpec{{Type: Peak, Fc: 1000, Gain: tt.gain, Q: 1.0}}
		got := EvaluateAt(filters, 1000, sampleRate, 85)
		if math.Abs(got-tt.gain) > 1e-6 {
			t.Errorf("Peak gain %f dB: response at center = %f dB", tt.gain, got)
		}
	}
}

func TestPeakResponseFallsOffAwayFromCenter(t *testing.T) {
	filters := []FilterSpec{{Type: Peak, Fc: 1000, Gain: 6, Q: 2.0}}

	atCenter := EvaluateAt(filters, 1000, sampleRate, 85)
	farBelow := EvaluateAt(filters, 20, sampleRate, 85)
	farAbove := EvaluateAt(filters, 15000, sampleRate, 85)

	if atCenter <= farBelow || atCenter <= farAbove {
		t.Errorf("Peak not centered: center=%f, below=%f, above=%f", atCenter, farBelow, farAbove)
	}
	if math.Abs(farBelow) > 0.5 {
		t.Errorf("Response far below center should be near 0 dB, got %f", farBelow)
	}
}

func TestZeroGainBankIsFlat(t *testing.T) {
	filters := []FilterSpec{
		{Type: LowShelf, Fc: 100, Gain: 0, Q: 0.7},
		{Type: HighShelf, Fc: 9000, Gain: 0, Q: 0.7},
		{Type: Peak, Fc: 1000, Gain: 0, Q: 1.5},
		{Type: Peak, Fc: 4000, Gain: 0, Q: 0.5},
	}

	for _, freq := range []float64{20, 100, 1000, 4000, 12000, 20000} {
		got := EvaluateAt(filters, freq, sampleRate, 85)
		if math.Abs(got) > 1e-12 {
			t.Errorf("Zero-gain bank at %g Hz: expected 0 dB, got %g", freq, got)
		}
	}
}

func TestShelfTilt(t *testing.T) {
	ls := []FilterSpec{{Type: LowShelf, Fc: 200, Gain: 6, Q: 0.7}}
	if lo, hi := EvaluateAt(ls, 20, sampleRate, 85), EvaluateAt(ls, 10000, sampleRate, 85); lo <= hi {
		t.Errorf("Low shelf boost should lift the bass: 20 Hz=%f, 10 kHz=%f", lo, hi)
	}

	hs := []FilterSpec{{Type: HighShelf, Fc: 8000, Gain: 6, Q: 0.7}}
	if lo, hi := EvaluateAt(hs, 100, sampleRate, 85), EvaluateAt(hs, 16000, sampleRate, 85); hi <= lo {
		t.Errorf("High shelf boost should lift the treble: 100 Hz=%f, 16 kHz=%f", lo, hi)
	}
}

func TestCascadeOrderInvariance(t *testing.T) {
	a := FilterSpec{Type: LowShelf, Fc: 80, Gain: 4, Q: 0.7}
	b := FilterSpec{Type: HighShelf, Fc: 9000, Gain: -3, Q: 0.8}
	c := FilterSpec{Type: Peak, Fc: 1200, Gain: 5, Q: 1.4}
	d := FilterSpec{Type: Peak, Fc: 5200, Gain: -6, Q: 2.2}

	orders := [][]FilterSpec{
		{a, b, c, d},
		{d, c, b, a},
		{c, a, d, b},
		{b, d, a, c},
	}

	for _, freq := range []float64{30, 250, 1200, 5200, 14000} {
		ref := EvaluateAt(orders[0], freq, sampleRate, 85)
		for i, bank := range orders[1:] {
			got := EvaluateAt(bank, freq, sampleRate, 85)
			if math.Abs(got-ref) > 1e-9 {
				t.Errorf("Order %d at %g Hz: got %f, want %f", i+1, freq, got, ref)
			}
		}
	}
}

func TestSilenceFloor(t *testing.T) {
	tests := []struct {
		name    string
		filters []FilterSpec
	}{
		{
			name:    "zero frequency",
			filters: []FilterSpec{{Type: Peak, Fc: 0, Gain: 3, Q: 1}},
		},
		{
			name:    "negative frequency",
			filters: []FilterSpec{{Type: Peak, Fc: -500, Gain: 3, Q: 1}},
		},
		{
			name:    "at nyquist",
			filters: []FilterSpec{{Type: HighShelf, Fc: 24000, Gain: 3, Q: 1}},
		},
		{
			name: "one dead section silences the cascade",
			filters: []FilterSpec{
				{Type: Peak, Fc: 1000, Gain: 6, Q: 1},
				{Type: Peak, Fc: 0, Gain: 3, Q: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateAt(tt.filters, 1000, sampleRate, 85)
			if got != -999.0 {
				t.Errorf("Expected silence floor -999 dB, got %f", got)
			}
		})
	}
}

func TestAdjustForLoudness(t *testing.T) {
	filters := []FilterSpec{
		{Type: LowShelf, Fc: 100, Gain: 4, Q: 0.7},
		{Type: HighShelf, Fc: 9000, Gain: -2, Q: 0.7},
		{Type: Peak, Fc: 1000, Gain: 5, Q: 1.0},
	}

	// At the 85 dB reference level nothing changes.
	same := AdjustForLoudness(filters, 85)
	for i := range same {
		if same[i].Gain != filters[i].Gain {
			t.Errorf("Filter %d gain changed at reference SPL: got %f, want %f", i, same[i].Gain, filters[i].Gain)
		}
	}

	// Quieter listening boosts the shelves, peaks stay put.
	scale := 1 + 0.02*(85.0-75.0)
	adjusted := AdjustForLoudness(filters, 75)
	if adjusted[0].Gain != 4*scale {
		t.Errorf("Low shelf gain: got %f, want %f", adjusted[0].Gain, 4*scale)
	}
	if adjusted[1].Gain != -2*scale {
		t.Errorf("High shelf gain: got %f, want %f", adjusted[1].Gain, -2*scale)
	}
	if adjusted[2].Gain != 5 {
		t.Errorf("Peak gain should be untouched: got %f, want 5", adjusted[2].Gain)
	}

	// Louder listening shrinks the shelves.
	louder := AdjustForLoudness(filters, 95)
	if louder[0].Gain >= filters[0].Gain {
		t.Errorf("Low shelf gain should shrink at 95 dB SPL: got %f", louder[0].Gain)
	}

	// The input slice is never mutated.
	if filters[0].Gain != 4 || filters[1].Gain != -2 {
		t.Errorf("AdjustForLoudness mutated its input: %+v", filters)
	}
}

func TestMagnitudeLinear(t *testing.T) {
	f := FilterSpec{Type: Peak, Fc: 1000, Gain: 6, Q: 1.0}

	got := Magnitude(f, 1000, sampleRate)
	want := math.Pow(10, 6.0/20)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Expected linear magnitude %f at center, got %f", want, got)
	}
}
