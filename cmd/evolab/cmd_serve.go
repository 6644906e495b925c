package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/evolab/internal/api"
	"github.com/talgya/evolab/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API.

Endpoints:
  GET    /api/v1/status
  GET    /api/v1/models
  POST   /api/v1/run/{model}      body: partial model config, ?seed=, ?save=1
  GET    /api/v1/stream/{model}   websocket, ?seed=, ?config=<json>
  GET    /api/v1/runs             ?model=, ?limit=
  GET    /api/v1/runs/{id}
  DELETE /api/v1/runs/{id}        requires Authorization: Bearer <admin key>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			// ── Database ──────────────────────────────────────────────
			var db *persistence.DB
			if cfg.Storage.Path != "" {
				db, err = persistence.Open(cfg.Storage.Path)
				if err != nil {
					return err
				}
				defer db.Close()
				slog.Info("database opened", "path", cfg.Storage.Path)
			}

			// ── HTTP API ──────────────────────────────────────────────
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.NewServer(cfg, db, version)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "Listen port (default from config, 8080)")
	return cmd
}
