package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/export"
	"github.com/talgya/evolab/internal/hawkdove"
	"github.com/talgya/evolab/internal/jackdaw"
	"github.com/talgya/evolab/internal/lab"
	"github.com/talgya/evolab/internal/payoff"
	"github.com/talgya/evolab/internal/persistence"
)

// override copies a flag into cfg when the user set it.
type override func(cmd *cobra.Command, cfg *config.Config) error

func newModelCmd(name, short, long string, bind func(cmd *cobra.Command) []override) *cobra.Command {
	var overrides []override
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			for _, o := range overrides {
				if err := o(cmd, cfg); err != nil {
					return err
				}
			}
			return simulate(cmd, cfg, name)
		},
	}
	overrides = bind(cmd)
	return cmd
}

// simulate runs a model, archives and exports it when configured, and
// prints the outcome.
func simulate(cmd *cobra.Command, cfg *config.Config, name string) error {
	rep, err := lab.Run(name, cfg, cfg.Seed, nil)
	if err != nil {
		return err
	}

	var runID, exportPath string
	if cfg.Storage.Path != "" {
		db, err := persistence.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if runID, err = db.SaveReport(rep); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
	}
	if cfg.Export.Dir != "" {
		if exportPath, err = export.WriteReport(cfg.Export.Dir, rep); err != nil {
			return fmt.Errorf("failed to export run: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return writeJSON(out, struct {
			ID     string `json:"id,omitempty"`
			Export string `json:"export,omitempty"`
			*lab.Report
		}{runID, exportPath, rep})
	}

	printReport(out, rep)
	if runID != "" {
		fmt.Fprintf(out, "  saved:    %s\n", runID)
	}
	if exportPath != "" {
		size := ""
		if fi, err := os.Stat(exportPath); err == nil {
			size = " (" + humanize.Bytes(uint64(fi.Size())) + ")"
		}
		fmt.Fprintf(out, "  exported: %s%s\n", exportPath, size)
	}
	return nil
}

func printReport(w io.Writer, rep *lab.Report) {
	title := rep.Model
	if rep.Rule != "" {
		title += " (" + rep.Rule + ")"
	}
	fmt.Fprintf(w, "%s, seed %d\n", title, rep.Seed)

	halted := ""
	if rep.Halted {
		halted = ", halted early"
	}
	fmt.Fprintf(w, "  generations: %s (%s snapshots%s) in %s\n",
		humanize.Comma(int64(rep.Generations)), humanize.Comma(int64(len(rep.Entries))), halted,
		rep.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "  final:    %s\n", lab.Summary(rep))

	for _, key := range []string{"payoffs", "tally", "male_payoffs", "female_payoffs", "interactions"} {
		if t, ok := rep.Extra[key].(payoff.Table); ok {
			printTable(w, t)
		}
	}
	if bars, ok := rep.Extra["final_distribution"].([]jackdaw.Bar); ok {
		printBars(w, bars)
	}
	for _, e := range rep.Events {
		if e.Category != "death" {
			fmt.Fprintf(w, "  [gen %d] %s\n", e.Generation, e.Description)
		}
	}
}

func printTable(w io.Writer, t payoff.Table) {
	fmt.Fprintf(w, "  %s:\n", t.Title)
	fmt.Fprintf(w, "    %-12s %12s %12s\n", "", t.Cols[0], t.Cols[1])
	for i := 0; i < 2; i++ {
		fmt.Fprintf(w, "    %-12s %12.3f %12.3f\n", t.Rows[i], t.Values[i][0], t.Values[i][1])
	}
}

func printBars(w io.Writer, bars []jackdaw.Bar) {
	const width = 40
	fmt.Fprintln(w, "  final distribution:")
	for _, b := range bars {
		n := int(b.Value*width + 0.5)
		fmt.Fprintf(w, "    %-16s %s %.3f\n", b.Label, strings.Repeat("#", n)+strings.Repeat(".", width-n), b.Value)
	}
}

// parseMatrix reads four comma-separated values in row order.
func parseMatrix(s string) (payoff.Matrix, error) {
	var m payoff.Matrix
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return m, fmt.Errorf("matrix needs 4 comma-separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return m, fmt.Errorf("matrix value %q: %w", p, err)
		}
		m[i/2][i%2] = v
	}
	return m, nil
}

func newHawkDoveCmd() *cobra.Command {
	return newModelCmd("hawkdove", "Run the hawk-dove game",
		`Run the hawk-dove game. Hawks always escalate, doves display and retreat.

Rules:
  replicator  closed-form fitness-proportional update of the hawk fraction
  pairwise    explicit population, all-pairs contests, fitness-proportional selection
  drift       explicit population, all-pairs contests, neutral resampling`,
		func(cmd *cobra.Command) []override {
			f := cmd.Flags()
			v := f.Float64("v", 0, "Resource value V")
			c := f.Float64("c", 0, "Cost of an escalated fight C")
			n := f.Int("population", 0, "Population size")
			g := f.Int("generations", 0, "Number of generations")
			rule := f.String("rule", "", "Update rule: replicator, pairwise or drift")
			initial := f.Float64("initial-hawk", 0, "Initial hawk fraction (default random)")
			baseline := f.Float64("baseline", 0, "Baseline fitness added to payoffs (default C)")
			return []override{func(cmd *cobra.Command, cfg *config.Config) error {
				hd := &cfg.HawkDove
				if f.Changed("v") {
					hd.V = *v
				}
				if f.Changed("c") {
					hd.C = *c
				}
				if f.Changed("population") {
					hd.PopulationSize = *n
				}
				if f.Changed("generations") {
					hd.Generations = *g
				}
				if f.Changed("rule") {
					hd.Rule = hawkdove.Rule(*rule)
				}
				if f.Changed("initial-hawk") {
					hd.InitialHawkFraction = initial
				}
				if f.Changed("baseline") {
					hd.BaselineFitness = baseline
				}
				return nil
			}}
		})
}

func newJackdawCmd() *cobra.Command {
	return newModelCmd("jackdaw", "Run the jackdaw consolation game",
		`Run the jackdaw consolation game. Each simulation starts from equal
strategy counts and reinforces whichever strategies pay off.

Payoff matrices are given as four values in row order, rows being the
male strategy (consolation, avoidance) and columns the female strategy
(signal, neutral), e.g. --male 5,2,3,4.`,
		func(cmd *cobra.Command) []override {
			f := cmd.Flags()
			sims := f.Int("simulations", 0, "Number of independent simulations")
			iters := f.Int("iterations", 0, "Interactions per simulation")
			count := f.Float64("initial-count", 0, "Starting count for every strategy")
			male := f.String("male", "", "Male payoff matrix")
			female := f.String("female", "", "Female payoff matrix")
			return []override{func(cmd *cobra.Command, cfg *config.Config) error {
				jd := &cfg.Jackdaw
				if f.Changed("simulations") {
					jd.Simulations = *sims
				}
				if f.Changed("iterations") {
					jd.Iterations = *iters
				}
				if f.Changed("initial-count") {
					jd.InitialCount = *count
				}
				if f.Changed("male") {
					m, err := parseMatrix(*male)
					if err != nil {
						return fmt.Errorf("--male: %w", err)
					}
					jd.Male = m
				}
				if f.Changed("female") {
					m, err := parseMatrix(*female)
					if err != nil {
						return fmt.Errorf("--female: %w", err)
					}
					jd.Female = m
				}
				return nil
			}}
		})
}

func newDominanceCmd() *cobra.Command {
	return newModelCmd("dominance", "Run the dominance hierarchy model",
		`Run the dominance hierarchy model. Every living individual challenges a
random living opponent each generation. Winners gain ability, losers lose
ability and take damage, and accumulated damage raises the risk of death.
The run stops early once at most one individual survives.`,
		func(cmd *cobra.Command) []override {
			f := cmd.Flags()
			n := f.Int("population", 0, "Population size")
			g := f.Int("generations", 0, "Number of generations")
			lr := f.Float64("learning-rate", 0, "Ability transferred per contest")
			skew := f.Float64("skew", 0, "Reproductive share of the top-ranked individual")
			damage := f.Float64("damage", 0, "Damage added to each contest loser")
			mortality := f.Float64("mortality", 0, "Death probability per unit of damage")
			return []override{func(cmd *cobra.Command, cfg *config.Config) error {
				d := &cfg.Dominance
				if f.Changed("population") {
					d.PopulationSize = *n
				}
				if f.Changed("generations") {
					d.Generations = *g
				}
				if f.Changed("learning-rate") {
					d.LearningRate = *lr
				}
				if f.Changed("skew") {
					d.ContestSkew = *skew
				}
				if f.Changed("damage") {
					d.DamageCost = *damage
				}
				if f.Changed("mortality") {
					d.MortalityRisk = *mortality
				}
				return nil
			}}
		})
}

func newPredPreyCmd() *cobra.Command {
	return newModelCmd("predprey", "Run the predator-prey model",
		`Run a discrete-time Lotka-Volterra predator-prey model. A non-zero
--amplitude modulates prey growth with seasonal noise.`,
		func(cmd *cobra.Command) []override {
			f := cmd.Flags()
			alpha := f.Float64("alpha", 0, "Prey growth rate")
			beta := f.Float64("beta", 0, "Predation rate")
			delta := f.Float64("delta", 0, "Predator reproduction rate")
			gamma := f.Float64("gamma", 0, "Predator mortality rate")
			prey := f.Float64("prey", 0, "Initial prey population")
			predators := f.Float64("predators", 0, "Initial predator population")
			steps := f.Int("steps", 0, "Number of steps")
			amplitude := f.Float64("amplitude", 0, "Seasonal modulation amplitude in [0, 1)")
			period := f.Float64("period", 0, "Steps per seasonal noise unit")
			return []override{func(cmd *cobra.Command, cfg *config.Config) error {
				p := &cfg.PredPrey
				if f.Changed("alpha") {
					p.Alpha = *alpha
				}
				if f.Changed("beta") {
					p.Beta = *beta
				}
				if f.Changed("delta") {
					p.Delta = *delta
				}
				if f.Changed("gamma") {
					p.Gamma = *gamma
				}
				if f.Changed("prey") {
					p.PreyInit = *prey
				}
				if f.Changed("predators") {
					p.PredatorInit = *predators
				}
				if f.Changed("steps") {
					p.Steps = *steps
				}
				if f.Changed("amplitude") {
					p.Seasonality.Amplitude = *amplitude
				}
				if f.Changed("period") {
					p.Seasonality.Period = *period
				}
				return nil
			}}
		})
}
