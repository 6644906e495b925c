// Package hawkdove simulates the hawk-dove game under three update rules
// that are deliberately kept separate: an analytic replicator update, an
// explicit all-pairs tally with fitness-proportional selection, and the same
// tally followed by neutral Bernoulli resampling.
package hawkdove

import (
	"math"

	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/payoff"
)

// Strategy is an agent's fixed behavior in a contest.
type Strategy uint8

const (
	Dove Strategy = 0
	Hawk Strategy = 1
)

// Rule names a generation update rule.
type Rule string

const (
	// RuleReplicator updates the hawk fraction in closed form from the
	// expected payoffs. No population array exists.
	RuleReplicator Rule = "replicator"

	// RulePairwise tallies payoffs over every pair in an explicit population
	// and samples the next generation proportional to fitness.
	RulePairwise Rule = "pairwise"

	// RuleDrift tallies payoffs like RulePairwise but resamples the next
	// generation as Bernoulli(hawk fraction), ignoring fitness.
	RuleDrift Rule = "drift"
)

// Rules lists the known rules in display order.
var Rules = []Rule{RuleReplicator, RulePairwise, RuleDrift}

// Config holds hawk-dove parameters.
type Config struct {
	V              float64 `json:"v" yaml:"v"` // Resource value
	C              float64 `json:"c" yaml:"c"` // Cost of an escalated fight
	PopulationSize int     `json:"population_size" yaml:"population_size"`
	Generations    int     `json:"generations" yaml:"generations"`
	Rule           Rule    `json:"rule" yaml:"rule"`

	// InitialHawkFraction fixes the starting hawk share. Nil draws it at
	// random (replicator) or starts each agent as a fair coin (pairwise, drift).
	InitialHawkFraction *float64 `json:"initial_hawk_fraction,omitempty" yaml:"initial_hawk_fraction,omitempty"`

	// BaselineFitness is added to every payoff before selection so that
	// fitness stays non-negative. Nil means C.
	BaselineFitness *float64 `json:"baseline_fitness,omitempty" yaml:"baseline_fitness,omitempty"`
}

// DefaultConfig returns the stock demonstration parameters.
func DefaultConfig() Config {
	return Config{
		V:              10,
		C:              20,
		PopulationSize: 100,
		Generations:    100,
		Rule:           RuleReplicator,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if !positive(c.V) {
		return engine.Invalidf("v must be positive, got %g", c.V)
	}
	if !positive(c.C) {
		return engine.Invalidf("c must be positive, got %g", c.C)
	}
	if c.Generations <= 0 {
		return engine.Invalidf("generations must be positive, got %d", c.Generations)
	}
	switch c.Rule {
	case RuleReplicator:
		if c.PopulationSize <= 0 {
			return engine.Invalidf("population_size must be positive, got %d", c.PopulationSize)
		}
	case RulePairwise, RuleDrift:
		if c.PopulationSize < 2 {
			return engine.Invalidf("population_size must be at least 2 for rule %q, got %d", c.Rule, c.PopulationSize)
		}
	default:
		return engine.Invalidf("unknown rule %q (valid: replicator, pairwise, drift)", c.Rule)
	}
	if p := c.InitialHawkFraction; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 1) {
		return engine.Invalidf("initial_hawk_fraction must be within [0, 1], got %g", *p)
	}
	if b := c.BaselineFitness; b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0) || *b < 0) {
		return engine.Invalidf("baseline_fitness must be non-negative, got %g", *b)
	}
	return nil
}

// Baseline returns the effective baseline fitness.
func (c Config) Baseline() float64 {
	if c.BaselineFitness != nil {
		return *c.BaselineFitness
	}
	return c.C
}

// Payoffs returns the focal player's payoff matrix indexed [Dove, Hawk].
func Payoffs(v, c float64) payoff.Matrix {
	var m payoff.Matrix
	m[Hawk][Hawk] = (v - c) / 2
	m[Hawk][Dove] = v
	m[Dove][Hawk] = 0
	m[Dove][Dove] = v / 2
	return m
}

// ESS returns the evolutionarily stable hawk fraction, V/C capped at 1.
func ESS(v, c float64) float64 {
	if v >= c {
		return 1
	}
	return v / c
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}
