package eq

import (
	"log/slog"
	"math"
)

// ConvergenceConfig tunes the optional plateau cutoff that stops a fit
// whose best cost has stopped improving well before the generation cap.
type ConvergenceConfig struct {
	// Enabled controls whether plateau detection is active.
	Enabled bool

	// Patience is the number of consecutive generations without a
	// significant improvement before the fit is stopped.
	Patience int

	// Threshold is the minimum relative improvement of the best cost,
	// (old - new) / old, that counts as progress.
	Threshold float64
}

// DefaultConvergenceConfig returns the plateau cutoff used for long fits.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  25,
		Threshold: 0.001,
	}
}

// DisabledConvergenceConfig returns a config with plateau detection off.
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{Enabled: false}
}

// ConvergenceTracker watches the per-generation best cost and reports when
// the fit has plateaued. Not safe for concurrent use; feed it from the
// optimizer's progress hook.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	bestCost        float64
	lastSignificant float64
	staleCount      int
	seen            bool
}

// NewConvergenceTracker creates a tracker with the given config.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records one generation's best cost and returns true when the
// plateau cutoff has been reached.
func (c *ConvergenceTracker) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}

	if cost < c.bestCost {
		c.bestCost = cost
	}

	if !c.seen {
		c.seen = true
		c.lastSignificant = cost
		return false
	}

	relative := (c.lastSignificant - cost) / c.lastSignificant
	if relative >= c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Info("fit plateaued, stopping early",
			"stale_generations", c.staleCount,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far.
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// StaleCount returns the generations elapsed since the last significant
// improvement.
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}
