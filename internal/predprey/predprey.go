// Package predprey runs a discrete-time Lotka-Volterra predator-prey model.
// Populations are clamped at zero. An optional seasonal term modulates the
// prey growth rate with simplex noise drawn from the run's seed.
package predprey

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/entropy"
	"github.com/talgya/evolab/internal/payoff"
)

// Row and column indices of the interaction matrix.
const (
	Prey     = 0
	Predator = 1
)

// Seasonality modulates prey growth: alpha_t = alpha * (1 + Amplitude*n(t/Period)).
type Seasonality struct {
	Amplitude float64 `json:"amplitude" yaml:"amplitude"` // 0 disables modulation
	Period    float64 `json:"period" yaml:"period"`       // Steps per noise unit
}

// Config holds Lotka-Volterra parameters.
type Config struct {
	Alpha        float64     `json:"alpha" yaml:"alpha"` // Prey growth rate
	Beta         float64     `json:"beta" yaml:"beta"`   // Predation rate
	Delta        float64     `json:"delta" yaml:"delta"` // Predator reproduction rate
	Gamma        float64     `json:"gamma" yaml:"gamma"` // Predator mortality rate
	PreyInit     float64     `json:"prey_init" yaml:"prey_init"`
	PredatorInit float64     `json:"predator_init" yaml:"predator_init"`
	Steps        int         `json:"steps" yaml:"steps"`
	Seasonality  Seasonality `json:"seasonality" yaml:"seasonality"`
}

// DefaultConfig returns a parameter set with sustained oscillations.
func DefaultConfig() Config {
	return Config{
		Alpha:        0.1,
		Beta:         0.02,
		Delta:        0.01,
		Gamma:        0.1,
		PreyInit:     40,
		PredatorInit: 9,
		Steps:        200,
		Seasonality:  Seasonality{Amplitude: 0, Period: 25},
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	rates := []struct {
		name string
		v    float64
	}{
		{"alpha", c.Alpha},
		{"beta", c.Beta},
		{"delta", c.Delta},
		{"gamma", c.Gamma},
		{"prey_init", c.PreyInit},
		{"predator_init", c.PredatorInit},
	}
	for _, r := range rates {
		if !(r.v > 0) || math.IsInf(r.v, 0) {
			return engine.Invalidf("%s must be positive, got %g", r.name, r.v)
		}
	}
	if c.Steps <= 0 {
		return engine.Invalidf("steps must be positive, got %d", c.Steps)
	}
	if a := c.Seasonality.Amplitude; math.IsNaN(a) || a < 0 || a >= 1 {
		return engine.Invalidf("seasonality.amplitude must be within [0, 1), got %g", a)
	}
	if c.Seasonality.Amplitude > 0 && !(c.Seasonality.Period > 0) {
		return engine.Invalidf("seasonality.period must be positive, got %g", c.Seasonality.Period)
	}
	return nil
}

// Snapshot is the population after a step.
type Snapshot struct {
	Step     int     `json:"step"`
	Prey     float64 `json:"prey"`
	Predator float64 `json:"predator"`
	Alpha    float64 `json:"alpha"` // Effective prey growth rate used for this step
}

// Result is a completed predator-prey run.
type Result struct {
	engine.History[Snapshot]
	Seed int64 `json:"seed"`

	// Interactions accumulates prey growth, predation loss, predator gain
	// and predator mortality over the run.
	Interactions payoff.Matrix `json:"interactions"`
}

// Run validates cfg and simulates it. onGeneration may be nil.
func Run(cfg Config, src *entropy.Source, onGeneration func(gen int, snap Snapshot)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := engine.New[Snapshot](cfg.Steps)
	eng.OnGeneration = onGeneration

	m := &model{
		cfg:      cfg,
		prey:     cfg.PreyInit,
		predator: cfg.PredatorInit,
	}
	if cfg.Seasonality.Amplitude > 0 {
		m.noise = opensimplex.New(src.Int63())
	}

	res := &Result{
		History: eng.Run(m),
		Seed:    src.Seed(),
	}
	res.Interactions = m.interactions
	return res, nil
}

type model struct {
	cfg          Config
	noise        opensimplex.Noise
	prey         float64
	predator     float64
	interactions payoff.Matrix
}

func (m *model) Name() string { return "predprey" }

func (m *model) Initial() (Snapshot, bool) {
	return Snapshot{Step: 0, Prey: m.prey, Predator: m.predator, Alpha: m.cfg.Alpha}, true
}

func (m *model) Step(step int) (Snapshot, bool) {
	alpha := m.alpha(step)
	c := m.cfg

	preyChange := alpha*m.prey - c.Beta*m.prey*m.predator
	predatorChange := c.Delta*m.prey*m.predator - c.Gamma*m.predator

	m.prey = math.Max(m.prey+preyChange, 0)
	m.predator = math.Max(m.predator+predatorChange, 0)

	m.interactions.Add(Prey, Prey, m.prey*alpha)
	m.interactions.Add(Prey, Predator, -c.Beta*m.prey*m.predator)
	m.interactions.Add(Predator, Prey, c.Delta*m.prey*m.predator)
	m.interactions.Add(Predator, Predator, -c.Gamma*m.predator)

	return Snapshot{Step: step, Prey: m.prey, Predator: m.predator, Alpha: alpha}, true
}

func (m *model) alpha(step int) float64 {
	if m.noise == nil {
		return m.cfg.Alpha
	}
	s := m.cfg.Seasonality
	return m.cfg.Alpha * (1 + s.Amplitude*m.noise.Eval2(float64(step)/s.Period, 0))
}
