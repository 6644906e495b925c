// Package dominance simulates the formation of a social dominance hierarchy
// through repeated aggressive contests. Winning raises an individual's
// fighting ability, losing lowers it and inflicts damage, and accumulated
// damage drives a per-contest risk of death.
package dominance

import (
	"math"

	"github.com/talgya/evolab/internal/engine"
)

// Config holds dominance simulation parameters.
type Config struct {
	PopulationSize int     `json:"population_size" yaml:"population_size"`
	Generations    int     `json:"generations" yaml:"generations"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`   // Ability transferred per contest
	ContestSkew    float64 `json:"contest_skew" yaml:"contest_skew"`     // Share of reproduction taken by the top-ranked individual
	DamageCost     float64 `json:"damage_cost" yaml:"damage_cost"`       // Cost added to the loser
	MortalityRisk  float64 `json:"mortality_risk" yaml:"mortality_risk"` // Death probability per unit of accumulated cost
}

// DefaultConfig returns the stock dominance parameters.
func DefaultConfig() Config {
	return Config{
		PopulationSize: 50,
		Generations:    100,
		LearningRate:   0.1,
		ContestSkew:    0.8,
		DamageCost:     0.2,
		MortalityRisk:  0.05,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.PopulationSize < 2 {
		return engine.Invalidf("population_size must be at least 2, got %d", c.PopulationSize)
	}
	if c.Generations <= 0 {
		return engine.Invalidf("generations must be positive, got %d", c.Generations)
	}
	if !positive(c.LearningRate) {
		return engine.Invalidf("learning_rate must be positive, got %g", c.LearningRate)
	}
	if !positive(c.ContestSkew) || c.ContestSkew > 1 {
		return engine.Invalidf("contest_skew must be within (0, 1], got %g", c.ContestSkew)
	}
	if !positive(c.DamageCost) {
		return engine.Invalidf("damage_cost must be positive, got %g", c.DamageCost)
	}
	if !positive(c.MortalityRisk) {
		return engine.Invalidf("mortality_risk must be positive, got %g", c.MortalityRisk)
	}
	return nil
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}
