// Package jackdaw models consolation behavior in jackdaw pairs under stress.
// Males choose between consolation and avoidance, females between signalling
// distress and staying neutral. Each simulation starts from equal strategy
// counts; every interaction adds the realized payoff to the chosen strategy's
// count, so successful strategies are sampled more often.
package jackdaw

import (
	"math"

	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/entropy"
	"github.com/talgya/evolab/internal/payoff"
)

// Strategy indices. Payoff matrices are indexed [male][female].
const (
	Consolation = 0 // male
	Avoidance   = 1 // male
	Signal      = 0 // female
	Neutral     = 1 // female
)

// Config holds jackdaw game parameters.
type Config struct {
	Simulations  int           `json:"simulations" yaml:"simulations"`     // Independent simulations, one history entry each
	Iterations   int           `json:"iterations" yaml:"iterations"`       // Interactions per simulation
	InitialCount float64       `json:"initial_count" yaml:"initial_count"` // Starting count for every strategy
	Male         payoff.Matrix `json:"male" yaml:"male"`
	Female       payoff.Matrix `json:"female" yaml:"female"`
}

// DefaultConfig returns the default payoffs and run length.
func DefaultConfig() Config {
	return Config{
		Simulations:  100,
		Iterations:   50,
		InitialCount: 50,
		Male:         payoff.Matrix{{5, 2}, {3, 4}},
		Female:       payoff.Matrix{{5, 3}, {2, 4}},
	}
}

// Validate rejects configurations that cannot run. Payoffs must be
// non-negative so strategy counts stay valid sampling weights.
func (c Config) Validate() error {
	if c.Simulations <= 0 {
		return engine.Invalidf("simulations must be positive, got %d", c.Simulations)
	}
	if c.Iterations <= 0 {
		return engine.Invalidf("iterations must be positive, got %d", c.Iterations)
	}
	if !(c.InitialCount > 0) || math.IsInf(c.InitialCount, 0) {
		return engine.Invalidf("initial_count must be positive and finite, got %g", c.InitialCount)
	}
	if !c.Male.NonNegative() {
		return engine.Invalidf("male payoffs must be non-negative, got %v", c.Male)
	}
	if !c.Female.NonNegative() {
		return engine.Invalidf("female payoffs must be non-negative, got %v", c.Female)
	}
	return nil
}

// Snapshot is the outcome of one simulation. Male and female proportions
// each sum to 1.
type Snapshot struct {
	Simulation      int     `json:"simulation"`
	MaleConsolation float64 `json:"male_consolation"`
	MaleAvoidance   float64 `json:"male_avoidance"`
	FemaleSignal    float64 `json:"female_signal"`
	FemaleNeutral   float64 `json:"female_neutral"`
	MaleGain        float64 `json:"male_gain"`   // Mean payoff per interaction
	FemaleGain      float64 `json:"female_gain"` // Mean payoff per interaction
}

// Result is a completed jackdaw run.
type Result struct {
	engine.History[Snapshot]
	Seed           int64   `json:"seed"`
	MeanMaleGain   float64 `json:"mean_male_gain"`
	MeanFemaleGain float64 `json:"mean_female_gain"`
}

// Run validates cfg and simulates it. onGeneration may be nil.
func Run(cfg Config, src *entropy.Source, onGeneration func(gen int, snap Snapshot)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := engine.New[Snapshot](cfg.Simulations)
	eng.OnGeneration = onGeneration

	res := &Result{
		History: eng.Run(&game{cfg: cfg, src: src}),
		Seed:    src.Seed(),
	}
	for _, s := range res.Entries {
		res.MeanMaleGain += s.MaleGain
		res.MeanFemaleGain += s.FemaleGain
	}
	if n := float64(res.Len()); n > 0 {
		res.MeanMaleGain /= n
		res.MeanFemaleGain /= n
	}
	return res, nil
}

type game struct {
	cfg Config
	src *entropy.Source
}

func (g *game) Name() string { return "jackdaw" }

func (g *game) Initial() (Snapshot, bool) {
	return Snapshot{}, false
}

// Step runs one full simulation from fresh counts.
func (g *game) Step(gen int) (Snapshot, bool) {
	male := []float64{g.cfg.InitialCount, g.cfg.InitialCount}
	female := []float64{g.cfg.InitialCount, g.cfg.InitialCount}
	var maleGains, femaleGains float64

	for i := 0; i < g.cfg.Iterations; i++ {
		m := g.src.Choice(male)
		f := g.src.Choice(female)

		mg := g.cfg.Male[m][f]
		fg := g.cfg.Female[m][f]

		male[m] += mg
		female[f] += fg
		maleGains += mg
		femaleGains += fg
	}

	maleTotal := male[0] + male[1]
	femaleTotal := female[0] + female[1]
	iters := float64(g.cfg.Iterations)

	return Snapshot{
		Simulation:      gen,
		MaleConsolation: male[Consolation] / maleTotal,
		MaleAvoidance:   male[Avoidance] / maleTotal,
		FemaleSignal:    female[Signal] / femaleTotal,
		FemaleNeutral:   female[Neutral] / femaleTotal,
		MaleGain:        maleGains / iters,
		FemaleGain:      femaleGains / iters,
	}, true
}

// Bar is one column of a final-distribution chart.
type Bar struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// FinalDistribution returns the strategy proportions of the last simulation.
func FinalDistribution(h engine.History[Snapshot]) []Bar {
	last, ok := h.Last()
	if !ok {
		return nil
	}
	return []Bar{
		{Label: "Consolation (M)", Value: last.MaleConsolation},
		{Label: "Avoidance (M)", Value: last.MaleAvoidance},
		{Label: "Signal (F)", Value: last.FemaleSignal},
		{Label: "Neutral (F)", Value: last.FemaleNeutral},
	}
}
