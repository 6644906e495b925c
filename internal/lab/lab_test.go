package lab

import (
	"errors"
	"strings"
	"testing"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/dominance"
	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/hawkdove"
	"github.com/talgya/evolab/internal/payoff"
)

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.HawkDove.Generations = 10
	cfg.Jackdaw.Simulations = 5
	cfg.Dominance.Generations = 5
	cfg.Dominance.PopulationSize = 8
	cfg.PredPrey.Steps = 10
	return cfg
}

func TestRunEveryModel(t *testing.T) {
	cfg := smallConfig()
	for _, m := range Models() {
		t.Run(m.Name, func(t *testing.T) {
			calls := 0
			rep, err := Run(m.Name, cfg, 5, func(gen int, snap any) { calls++ })
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if rep.Model != m.Name {
				t.Errorf("expected model %q, got %q", m.Name, rep.Model)
			}
			if rep.Seed != 5 {
				t.Errorf("expected seed 5, got %d", rep.Seed)
			}
			if len(rep.Entries) == 0 {
				t.Fatal("expected entries")
			}
			if calls != len(rep.Entries) {
				t.Errorf("callback ran %d times for %d entries", calls, len(rep.Entries))
			}
			if Summary(rep) == "" {
				t.Error("expected a summary")
			}
		})
	}
}

func TestRunHawkDoveExtras(t *testing.T) {
	cfg := smallConfig()
	rep, err := Run(HawkDove, cfg, 1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Rule != string(hawkdove.RuleReplicator) {
		t.Errorf("expected replicator rule, got %q", rep.Rule)
	}
	if len(rep.Entries) != cfg.HawkDove.Generations+1 {
		t.Errorf("expected %d entries, got %d", cfg.HawkDove.Generations+1, len(rep.Entries))
	}
	if _, ok := rep.Extra["tally"]; ok {
		t.Error("replicator run should not report a tally")
	}
	tbl, ok := rep.Extra["payoffs"].(payoff.Table)
	if !ok || tbl.Values[hawkdove.Hawk][hawkdove.Dove] != cfg.HawkDove.V {
		t.Errorf("unexpected payoffs extra %+v", rep.Extra["payoffs"])
	}

	cfg.HawkDove.Rule = hawkdove.RulePairwise
	rep, err = Run(HawkDove, cfg, 1, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := rep.Extra["tally"]; !ok {
		t.Error("pairwise run should report a tally")
	}
}

func TestRunHawkDoveReportsRegistryName(t *testing.T) {
	cfg := smallConfig()
	cfg.HawkDove.PopulationSize = 20
	for _, rule := range []hawkdove.Rule{hawkdove.RuleReplicator, hawkdove.RulePairwise, hawkdove.RuleDrift} {
		t.Run(string(rule), func(t *testing.T) {
			cfg.HawkDove.Rule = rule
			rep, err := Run(HawkDove, cfg, 7, nil)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if rep.Model != HawkDove {
				t.Errorf("expected model %q, got %q", HawkDove, rep.Model)
			}
			if rep.Rule != string(rule) {
				t.Errorf("expected rule %q, got %q", rule, rep.Rule)
			}
		})
	}
}

func TestRunDominanceCarriesEvents(t *testing.T) {
	cfg := smallConfig()
	cfg.Dominance.DamageCost = 1
	cfg.Dominance.MortalityRisk = 1
	cfg.Dominance.Generations = 40

	rep, err := Run(Dominance, cfg, 9, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rep.Events) == 0 {
		t.Fatal("expected death events")
	}
	if _, ok := rep.Extra["agents"].([]dominance.Agent); !ok {
		t.Errorf("expected agents extra, got %T", rep.Extra["agents"])
	}
}

func TestRunUnknownModel(t *testing.T) {
	_, err := Run("bees", config.Default(), 1, nil)
	if !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if Known("bees") {
		t.Error("bees should not be a known model")
	}
}

func TestRunInvalidSection(t *testing.T) {
	cfg := smallConfig()
	cfg.PredPrey.Alpha = -1
	_, err := Run(PredPrey, cfg, 1, nil)
	if !errors.Is(err, engine.ErrInvalidConfig) || !strings.Contains(err.Error(), "alpha") {
		t.Errorf("expected alpha validation error, got %v", err)
	}
}

func TestSectionAndGenerations(t *testing.T) {
	cfg := smallConfig()
	sec, err := Section(cfg, Jackdaw)
	if err != nil {
		t.Fatalf("Section failed: %v", err)
	}
	if _, ok := sec.(interface{ Validate() error }); !ok {
		t.Errorf("section %T has no Validate", sec)
	}

	tests := []struct {
		model string
		want  int
	}{
		{HawkDove, 10},
		{Jackdaw, 5},
		{Dominance, 5},
		{PredPrey, 10},
	}
	for _, tt := range tests {
		got, err := Generations(cfg, tt.model)
		if err != nil || got != tt.want {
			t.Errorf("Generations(%s) = %d, %v; want %d", tt.model, got, err, tt.want)
		}
	}
	if _, err := Generations(cfg, "nope"); err == nil {
		t.Error("expected error for unknown model")
	}
}
