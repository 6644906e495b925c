package dominance

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/entropy"
)

// minAbility keeps living agents' win probabilities well defined after
// repeated losses.
const minAbility = 1e-6

// Agent is one individual in the hierarchy.
type Agent struct {
	ID      int     `json:"id"`
	Ability float64 `json:"ability"`           // Fighting ability, 0 once dead
	Cost    float64 `json:"cost"`              // Accumulated damage
	Alive   bool    `json:"alive"`             // ALIVE -> DEAD is one-way
	DiedAt  int     `json:"died_at,omitempty"` // Generation of death
}

// Snapshot is the population state at the end of a generation. Slices are
// indexed by agent ID except Ranks.
type Snapshot struct {
	Generation int       `json:"generation"`
	Ranks      []int     `json:"ranks"` // Agent IDs, strongest first
	Abilities  []float64 `json:"abilities"`
	Costs      []float64 `json:"costs"`
	Alive      []bool    `json:"alive"`
	AliveCount int       `json:"alive_count"`
	DeadCount  int       `json:"dead_count"`

	// Share is each agent's portion of reproductive success: the top-ranked
	// living agent takes ContestSkew and the other living agents split the
	// rest. Sums to 1 while anyone is alive; nil otherwise.
	Share []float64 `json:"share,omitempty"`
}

// Result is a completed dominance run.
type Result struct {
	engine.History[Snapshot]
	Seed   int64          `json:"seed"`
	Agents []Agent        `json:"agents"` // Final agent states
	Events []engine.Event `json:"events"`
}

// Run validates cfg and simulates it. onGeneration may be nil.
func Run(cfg Config, src *entropy.Source, onGeneration func(gen int, snap Snapshot)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := engine.New[Snapshot](cfg.Generations)
	eng.OnGeneration = onGeneration

	h := newHierarchy(cfg, src)
	res := &Result{
		History: eng.Run(h),
		Seed:    src.Seed(),
		Agents:  h.agents,
		Events:  h.events,
	}
	if res.Halted {
		res.Events = append(res.Events, engine.Event{
			Generation:  res.Generations,
			Description: fmt.Sprintf("hierarchy collapsed to %d survivor(s)", h.alive),
			Category:    "halt",
		})
	}
	return res, nil
}

type hierarchy struct {
	cfg    Config
	src    *entropy.Source
	agents []Agent
	alive  int
	events []engine.Event

	candidates []int // scratch for opponent selection
}

func newHierarchy(cfg Config, src *entropy.Source) *hierarchy {
	h := &hierarchy{
		cfg:        cfg,
		src:        src,
		agents:     make([]Agent, cfg.PopulationSize),
		alive:      cfg.PopulationSize,
		candidates: make([]int, 0, cfg.PopulationSize),
	}
	for i := range h.agents {
		h.agents[i] = Agent{
			ID:      i,
			Ability: src.Float(),
			Alive:   true,
		}
		if h.agents[i].Ability < minAbility {
			h.agents[i].Ability = minAbility
		}
	}
	return h
}

func (h *hierarchy) Name() string { return "dominance" }

func (h *hierarchy) Initial() (Snapshot, bool) {
	return Snapshot{}, false
}

// Step lets every living agent, in ID order, initiate one contest.
func (h *hierarchy) Step(gen int) (Snapshot, bool) {
	for i := range h.agents {
		if h.alive <= 1 {
			break
		}
		if !h.agents[i].Alive {
			continue
		}
		h.contest(gen, i, h.opponent(i))
	}

	snap := h.snapshot(gen)
	return snap, h.alive > 1
}

// opponent picks a uniformly random living agent other than i.
// The caller guarantees at least two agents are alive.
func (h *hierarchy) opponent(i int) int {
	h.candidates = h.candidates[:0]
	for j := range h.agents {
		if j != i && h.agents[j].Alive {
			h.candidates = append(h.candidates, j)
		}
	}
	return h.candidates[h.src.Intn(len(h.candidates))]
}

func (h *hierarchy) contest(gen, i, j int) {
	a, b := &h.agents[i], &h.agents[j]
	lr := h.cfg.LearningRate

	// Both transfers are scaled by the initiator's win probability.
	pWin := a.Ability / (a.Ability + b.Ability)
	if h.src.Float() < pWin {
		a.Ability += lr * (1 - pWin)
		b.Ability -= lr * pWin
		b.Cost += h.cfg.DamageCost
	} else {
		b.Ability += lr * (1 - pWin)
		a.Ability -= lr * pWin
		a.Cost += h.cfg.DamageCost
	}
	if a.Ability < minAbility {
		a.Ability = minAbility
	}
	if b.Ability < minAbility {
		b.Ability = minAbility
	}

	for _, idx := range [2]int{i, j} {
		ag := &h.agents[idx]
		if ag.Alive && h.src.Float() < h.cfg.MortalityRisk*ag.Cost {
			h.kill(gen, idx)
		}
	}
}

func (h *hierarchy) kill(gen, idx int) {
	ag := &h.agents[idx]
	ag.Alive = false
	ag.Ability = 0
	ag.DiedAt = gen
	h.alive--

	h.events = append(h.events, engine.Event{
		Generation:  gen,
		Description: fmt.Sprintf("agent %d died with accumulated cost %.2f", ag.ID, ag.Cost),
		Category:    "death",
	})
	slog.Debug("agent died", "agent", ag.ID, "generation", gen, "cost", ag.Cost, "alive", h.alive)
}

func (h *hierarchy) snapshot(gen int) Snapshot {
	n := len(h.agents)
	snap := Snapshot{
		Generation: gen,
		Ranks:      make([]int, n),
		Abilities:  make([]float64, n),
		Costs:      make([]float64, n),
		Alive:      make([]bool, n),
		AliveCount: h.alive,
		DeadCount:  n - h.alive,
	}
	for i, ag := range h.agents {
		snap.Ranks[i] = i
		snap.Abilities[i] = ag.Ability
		snap.Costs[i] = ag.Cost
		snap.Alive[i] = ag.Alive
	}
	sort.SliceStable(snap.Ranks, func(x, y int) bool {
		return snap.Abilities[snap.Ranks[x]] > snap.Abilities[snap.Ranks[y]]
	})

	if h.alive > 0 {
		snap.Share = h.shares(snap.Ranks)
	}
	return snap
}

// shares splits reproductive success between the top-ranked living agent
// and the rest of the living population.
func (h *hierarchy) shares(ranks []int) []float64 {
	share := make([]float64, len(h.agents))
	top := ranks[0] // Dead agents have zero ability, so the leader is alive.
	if h.alive == 1 {
		share[top] = 1
		return share
	}

	share[top] = h.cfg.ContestSkew
	rest := (1 - h.cfg.ContestSkew) / float64(h.alive-1)
	for id, ag := range h.agents {
		if ag.Alive && id != top {
			share[id] = rest
		}
	}
	return share
}
