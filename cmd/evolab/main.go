// Command evolab runs evolutionary game theory simulations.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "evolab",
		Short: "Evolutionary game theory simulations",
		Long: `evolab simulates populations whose strategies evolve over generations.

Models:
  hawkdove   hawk-dove contests (replicator, pairwise or drift updates)
  jackdaw    consolation behavior in jackdaw pairs
  dominance  dominance hierarchy formation with mortality
  predprey   Lotka-Volterra predator-prey dynamics

Settings come from built-in defaults, then a YAML file (--config or
EVOLAB_CONFIG), then EVOLAB_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace")
	rootCmd.PersistentFlags().Int64("seed", 0, "Random seed (0 draws a fresh seed)")
	rootCmd.PersistentFlags().String("db", "", "SQLite run archive path")
	rootCmd.PersistentFlags().String("export", "", "Directory for .jsonl.zst history exports")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newHawkDoveCmd(),
		newJackdawCmd(),
		newDominanceCmd(),
		newPredPreyCmd(),
		newServeCmd(),
		newRunsCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// loadConfig builds the effective configuration for a command and installs
// the process logger. Flags override the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("db") {
		cfg.Storage.Path, _ = flags.GetString("db")
	}
	if flags.Changed("export") {
		cfg.Export.Dir, _ = flags.GetString("export")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cmd.ErrOrStderr())
	return cfg, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evolab version %s\n", version)
			return nil
		},
	}
}
