// Package lab dispatches named simulations and flattens their results into
// reports that persistence, export and the API share.
package lab

import (
	"fmt"
	"time"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/dominance"
	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/entropy"
	"github.com/talgya/evolab/internal/hawkdove"
	"github.com/talgya/evolab/internal/jackdaw"
	"github.com/talgya/evolab/internal/predprey"
)

// Model names.
const (
	HawkDove  = "hawkdove"
	Jackdaw   = "jackdaw"
	Dominance = "dominance"
	PredPrey  = "predprey"
)

// Info describes a runnable model.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var models = []Info{
	{HawkDove, "Hawk-dove contests under replicator, pairwise or drift updates"},
	{Jackdaw, "Consolation and distress signalling in jackdaw pairs"},
	{Dominance, "Dominance hierarchy formation with damage and mortality"},
	{PredPrey, "Discrete Lotka-Volterra predator-prey dynamics"},
}

// Models lists the available models in display order.
func Models() []Info {
	out := make([]Info, len(models))
	copy(out, models)
	return out
}

// Known reports whether name is a model.
func Known(name string) bool {
	for _, m := range models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Report is a model-independent view of a completed run.
type Report struct {
	Model       string         `json:"model"`
	Seed        int64          `json:"seed"`
	Rule        string         `json:"rule,omitempty"`
	Generations int            `json:"generations"`
	Halted      bool           `json:"halted"`
	Elapsed     time.Duration  `json:"elapsed_ns"`
	Entries     []any          `json:"entries"`
	Events      []engine.Event `json:"events,omitempty"`

	// Extra carries model-specific summaries such as payoff tables.
	Extra map[string]any `json:"extra,omitempty"`
}

// Section returns a pointer to the config section for the named model, so
// callers can decode partial overrides into it.
func Section(cfg *config.Config, name string) (any, error) {
	switch name {
	case HawkDove:
		return &cfg.HawkDove, nil
	case Jackdaw:
		return &cfg.Jackdaw, nil
	case Dominance:
		return &cfg.Dominance, nil
	case PredPrey:
		return &cfg.PredPrey, nil
	}
	return nil, engine.Invalidf("unknown model %q", name)
}

// Generations returns how many generations the named model is configured
// to run.
func Generations(cfg *config.Config, name string) (int, error) {
	switch name {
	case HawkDove:
		return cfg.HawkDove.Generations, nil
	case Jackdaw:
		return cfg.Jackdaw.Simulations, nil
	case Dominance:
		return cfg.Dominance.Generations, nil
	case PredPrey:
		return cfg.PredPrey.Steps, nil
	}
	return 0, engine.Invalidf("unknown model %q", name)
}

// Run executes the named model with its section of cfg. A zero seed draws a
// fresh one; the seed used is reported. onGeneration may be nil.
func Run(name string, cfg *config.Config, seed int64, onGeneration func(gen int, snap any)) (*Report, error) {
	src := entropy.New(seed)
	start := time.Now()

	var (
		rep *Report
		err error
	)
	switch name {
	case HawkDove:
		rep, err = runHawkDove(cfg.HawkDove, src, onGeneration)
	case Jackdaw:
		rep, err = runJackdaw(cfg.Jackdaw, src, onGeneration)
	case Dominance:
		rep, err = runDominance(cfg.Dominance, src, onGeneration)
	case PredPrey:
		rep, err = runPredPrey(cfg.PredPrey, src, onGeneration)
	default:
		return nil, engine.Invalidf("unknown model %q", name)
	}
	if err != nil {
		return nil, err
	}
	rep.Elapsed = time.Since(start)
	return rep, nil
}

func forward[S any](fn func(int, any)) func(int, S) {
	if fn == nil {
		return nil
	}
	return func(gen int, snap S) { fn(gen, snap) }
}

// newReport builds a report under the registry name; the history's model
// name may carry a rule suffix and is only used in logs.
func newReport[S any](name string, h engine.History[S], seed int64) *Report {
	entries := make([]any, len(h.Entries))
	for i, e := range h.Entries {
		entries[i] = e
	}
	return &Report{
		Model:       name,
		Seed:        seed,
		Generations: h.Generations,
		Halted:      h.Halted,
		Entries:     entries,
		Extra:       map[string]any{},
	}
}

var (
	strategyLabels = [2]string{"Dove", "Hawk"}
	maleLabels     = [2]string{"Consolation", "Avoidance"}
	femaleLabels   = [2]string{"Signal", "Neutral"}
	speciesLabels  = [2]string{"Prey", "Predator"}
)

func runHawkDove(cfg hawkdove.Config, src *entropy.Source, fn func(int, any)) (*Report, error) {
	res, err := hawkdove.Run(cfg, src, forward[hawkdove.Snapshot](fn))
	if err != nil {
		return nil, err
	}
	rep := newReport(HawkDove, res.History, res.Seed)
	rep.Rule = string(res.Rule)
	rep.Extra["ess"] = res.ESS
	rep.Extra["payoffs"] = hawkdove.Payoffs(cfg.V, cfg.C).Labelled("Expected payoff", strategyLabels, strategyLabels)
	if res.Rule != hawkdove.RuleReplicator {
		rep.Extra["tally"] = res.Tally.Labelled("Accumulated payoff", strategyLabels, strategyLabels)
	}
	return rep, nil
}

func runJackdaw(cfg jackdaw.Config, src *entropy.Source, fn func(int, any)) (*Report, error) {
	res, err := jackdaw.Run(cfg, src, forward[jackdaw.Snapshot](fn))
	if err != nil {
		return nil, err
	}
	rep := newReport(Jackdaw, res.History, res.Seed)
	rep.Extra["mean_male_gain"] = res.MeanMaleGain
	rep.Extra["mean_female_gain"] = res.MeanFemaleGain
	rep.Extra["final_distribution"] = jackdaw.FinalDistribution(res.History)
	rep.Extra["male_payoffs"] = cfg.Male.Labelled("Male payoff", maleLabels, femaleLabels)
	rep.Extra["female_payoffs"] = cfg.Female.Labelled("Female payoff", maleLabels, femaleLabels)
	return rep, nil
}

func runDominance(cfg dominance.Config, src *entropy.Source, fn func(int, any)) (*Report, error) {
	res, err := dominance.Run(cfg, src, forward[dominance.Snapshot](fn))
	if err != nil {
		return nil, err
	}
	rep := newReport(Dominance, res.History, res.Seed)
	rep.Events = res.Events
	rep.Extra["agents"] = res.Agents
	if last, ok := res.Last(); ok {
		rep.Extra["survivors"] = last.AliveCount
	}
	return rep, nil
}

func runPredPrey(cfg predprey.Config, src *entropy.Source, fn func(int, any)) (*Report, error) {
	res, err := predprey.Run(cfg, src, forward[predprey.Snapshot](fn))
	if err != nil {
		return nil, err
	}
	rep := newReport(PredPrey, res.History, res.Seed)
	rep.Extra["interactions"] = res.Interactions.Labelled("Cumulative interactions", speciesLabels, speciesLabels)
	return rep, nil
}

// Summary is a one-line description of the final state, used by the CLI.
func Summary(rep *Report) string {
	if len(rep.Entries) == 0 {
		return "no generations recorded"
	}
	switch last := rep.Entries[len(rep.Entries)-1].(type) {
	case hawkdove.Snapshot:
		return fmt.Sprintf("hawk %.3f, dove %.3f (ESS hawk %.3f)", last.Hawk, last.Dove, rep.Extra["ess"])
	case jackdaw.Snapshot:
		return fmt.Sprintf("consolation %.3f, signal %.3f, mean gains M %.3f F %.3f",
			last.MaleConsolation, last.FemaleSignal, rep.Extra["mean_male_gain"], rep.Extra["mean_female_gain"])
	case dominance.Snapshot:
		return fmt.Sprintf("%d alive, %d dead, leader %d", last.AliveCount, last.DeadCount, last.Ranks[0])
	case predprey.Snapshot:
		return fmt.Sprintf("prey %.2f, predators %.2f", last.Prey, last.Predator)
	}
	return ""
}
