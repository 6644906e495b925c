package hawkdove

import (
	"sort"

	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/entropy"
	"github.com/talgya/evolab/internal/payoff"
)

// Snapshot is the strategy distribution at the end of a generation.
// Hawk + Dove == 1.
type Snapshot struct {
	Generation int     `json:"generation"`
	Hawk       float64 `json:"hawk"`
	Dove       float64 `json:"dove"`
}

// Result is a completed hawk-dove run.
type Result struct {
	engine.History[Snapshot]
	Rule Rule    `json:"rule"`
	Seed int64   `json:"seed"`
	ESS  float64 `json:"ess"`

	// Tally accumulates the payoff earned by each row strategy against each
	// column strategy over the whole run. Zero for RuleReplicator.
	Tally payoff.Matrix `json:"tally"`
}

// Run validates cfg and simulates it. onGeneration may be nil.
func Run(cfg Config, src *entropy.Source, onGeneration func(gen int, snap Snapshot)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := engine.New[Snapshot](cfg.Generations)
	eng.OnGeneration = onGeneration

	res := &Result{
		Rule: cfg.Rule,
		Seed: src.Seed(),
		ESS:  ESS(cfg.V, cfg.C),
	}

	switch cfg.Rule {
	case RuleReplicator:
		res.History = eng.Run(newReplicator(cfg, src))
	default:
		pop := newPopulation(cfg, src)
		res.History = eng.Run(pop)
		res.Tally = pop.tally
	}
	return res, nil
}

func snapshot(gen int, hawk float64) Snapshot {
	return Snapshot{Generation: gen, Hawk: hawk, Dove: 1 - hawk}
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// replicator is the closed-form fitness-proportional update.
type replicator struct {
	pay      payoff.Matrix
	baseline float64
	hawk     float64
}

func newReplicator(cfg Config, src *entropy.Source) *replicator {
	r := &replicator{
		pay:      Payoffs(cfg.V, cfg.C),
		baseline: cfg.Baseline(),
	}
	if cfg.InitialHawkFraction != nil {
		r.hawk = *cfg.InitialHawkFraction
	} else {
		r.hawk = src.Float()
	}
	return r
}

func (r *replicator) Name() string { return "hawkdove/" + string(RuleReplicator) }

func (r *replicator) Initial() (Snapshot, bool) {
	return snapshot(0, r.hawk), true
}

func (r *replicator) Step(gen int) (Snapshot, bool) {
	p := r.hawk
	fHawk := r.baseline + p*r.pay[Hawk][Hawk] + (1-p)*r.pay[Hawk][Dove]
	fDove := r.baseline + p*r.pay[Dove][Hawk] + (1-p)*r.pay[Dove][Dove]
	if fHawk < 0 {
		fHawk = 0
	}
	if fDove < 0 {
		fDove = 0
	}

	// With zero mean fitness nobody reproduces; the fraction stays put.
	if mean := p*fHawk + (1-p)*fDove; mean > 0 {
		r.hawk = clamp01(p * fHawk / mean)
	}
	return snapshot(gen, r.hawk), true
}

// population is an explicit agent array shared by the pairwise and drift rules.
type population struct {
	rule     Rule
	src      *entropy.Source
	pay      payoff.Matrix
	baseline float64

	agents  []Strategy
	next    []Strategy
	fitness []float64
	cum     []float64
	tally   payoff.Matrix
}

func newPopulation(cfg Config, src *entropy.Source) *population {
	n := cfg.PopulationSize
	p := &population{
		rule:     cfg.Rule,
		src:      src,
		pay:      Payoffs(cfg.V, cfg.C),
		baseline: cfg.Baseline(),
		agents:   make([]Strategy, n),
		next:     make([]Strategy, n),
		fitness:  make([]float64, n),
		cum:      make([]float64, n),
	}

	start := 0.5
	if cfg.InitialHawkFraction != nil {
		start = *cfg.InitialHawkFraction
	}
	for i := range p.agents {
		if src.Bernoulli(start) {
			p.agents[i] = Hawk
		}
	}
	return p
}

func (p *population) Name() string { return "hawkdove/" + string(p.rule) }

func (p *population) Initial() (Snapshot, bool) {
	return snapshot(0, p.hawkFraction()), true
}

func (p *population) Step(gen int) (Snapshot, bool) {
	p.contest()

	switch p.rule {
	case RulePairwise:
		p.reproduce()
	case RuleDrift:
		p.resample()
	}
	p.agents, p.next = p.next, p.agents
	return snapshot(gen, p.hawkFraction()), true
}

// contest plays every unordered pair once and records both players' payoffs.
func (p *population) contest() {
	for i := range p.fitness {
		p.fitness[i] = 0
	}
	n := len(p.agents)
	for i := 0; i < n; i++ {
		a := p.agents[i]
		for j := i + 1; j < n; j++ {
			b := p.agents[j]
			pa, pb := p.pay[a][b], p.pay[b][a]
			p.fitness[i] += pa
			p.fitness[j] += pb
			p.tally.Add(int(a), int(b), pa)
			p.tally.Add(int(b), int(a), pb)
		}
	}
}

// reproduce fills next by sampling parents proportional to baseline plus mean
// payoff per opponent.
func (p *population) reproduce() {
	opponents := float64(len(p.agents) - 1)
	var total float64
	for i, f := range p.fitness {
		w := p.baseline + f/opponents
		if w < 0 {
			w = 0
		}
		total += w
		p.cum[i] = total
	}

	if total <= 0 {
		copy(p.next, p.agents)
		return
	}
	for k := range p.next {
		r := p.src.Float() * total
		idx := sort.Search(len(p.cum), func(i int) bool { return p.cum[i] > r })
		if idx == len(p.cum) {
			idx--
		}
		p.next[k] = p.agents[idx]
	}
}

// resample draws every agent of the next generation as a hawk with
// probability equal to the current hawk fraction.
func (p *population) resample() {
	frac := p.hawkFraction()
	for k := range p.next {
		if p.src.Bernoulli(frac) {
			p.next[k] = Hawk
		} else {
			p.next[k] = Dove
		}
	}
}

func (p *population) hawkFraction() float64 {
	hawks := 0
	for _, s := range p.agents {
		if s == Hawk {
			hawks++
		}
	}
	return float64(hawks) / float64(len(p.agents))
}
