package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/evolab/internal/config"
	"github.com/talgya/evolab/internal/lab"
	"github.com/talgya/evolab/internal/persistence"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse the run archive",
		Long: `Browse runs saved in the SQLite archive (storage.path, EVOLAB_DB or --db).

Examples:
  evolab runs list --model hawkdove
  evolab runs show <id>
  evolab runs delete <id>`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

// openArchive loads config and opens the archive it names.
func openArchive(cmd *cobra.Command) (*persistence.DB, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Path == "" {
		return nil, nil, fmt.Errorf("no run archive configured (set storage.path, EVOLAB_DB or --db)")
	}
	db, err := persistence.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			limit, _ := cmd.Flags().GetInt("limit")
			if model != "" && !lab.Known(model) {
				return fmt.Errorf("unknown model %q", model)
			}

			db, _, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(model, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs saved.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODEL\tSEED\tGENERATIONS\tSNAPSHOTS\tCREATED")
			for _, r := range runs {
				label := r.Model
				if r.Rule != "" {
					label += "/" + r.Rule
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID, label, r.Seed,
					humanize.Comma(int64(r.Generations)), humanize.Comma(int64(r.EntryCount)),
					humanize.Time(r.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("model", "", "Only list runs of this model")
	cmd.Flags().Int("limit", 20, "Maximum number of runs")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := db.GetRun(args[0])
			if err != nil {
				return err
			}
			events, err := db.LoadEvents(run.ID)
			if err != nil {
				return err
			}
			withEntries, _ := cmd.Flags().GetBool("entries")
			var entries []json.RawMessage
			if withEntries || jsonOutput(cmd) {
				if entries, err = db.LoadEntries(run.ID); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]any{
					"run":     run,
					"entries": entries,
					"events":  events,
				})
			}

			fmt.Fprintf(out, "Run %s\n", run.ID)
			fmt.Fprintf(out, "  model:       %s\n", run.Model)
			if run.Rule != "" {
				fmt.Fprintf(out, "  rule:        %s\n", run.Rule)
			}
			fmt.Fprintf(out, "  seed:        %d\n", run.Seed)
			fmt.Fprintf(out, "  generations: %s (halted: %v)\n", humanize.Comma(int64(run.Generations)), run.Halted)
			fmt.Fprintf(out, "  snapshots:   %s\n", humanize.Comma(int64(run.EntryCount)))
			fmt.Fprintf(out, "  elapsed:     %s\n", run.Elapsed.Round(time.Microsecond))
			fmt.Fprintf(out, "  created:     %s (%s)\n", run.CreatedAt.Format(time.RFC3339), humanize.Time(run.CreatedAt))
			if len(events) > 0 {
				fmt.Fprintf(out, "  events:      %d\n", len(events))
				for _, e := range events {
					fmt.Fprintf(out, "    [gen %d] %s: %s\n", e.Generation, e.Category, e.Description)
				}
			}
			for _, e := range entries {
				fmt.Fprintf(out, "  %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().Bool("entries", false, "Print every snapshot")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteRun(args[0]); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
