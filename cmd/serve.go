package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yungbote/docrag-backend/internal/app"
)

var serveAPIOnly bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the ingestion worker",
	Long:  `Serves the ingestion and retrieval API. Unless --api-only is set the job worker and inbox schedule run in the same process.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx, !serveAPIOnly)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the ingestion worker pool and inbox schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.RunWorker(ctx)
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the vector index class or collection if missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.EnsureSchema(ctx); err != nil {
				return err
			}
			a.Log.Info("Vector index schema ready", "provider", a.Cfg.VectorProvider)
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveAPIOnly, "api-only", false, "Do not run the worker in this process")
}
