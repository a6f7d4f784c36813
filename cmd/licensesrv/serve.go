package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"licensesrv/internal/app"
	"licensesrv/internal/infrastructure"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the license HTTP server",
	Example: `  # Serve with settings from the environment
  LICENSESRV_DATABASE_URL=postgres://... licensesrv serve

  # Serve an in-memory ledger for local plugin testing
  LICENSESRV_DATABASE_DRIVER=memory licensesrv serve
`,
	Args: cobra.NoArgs,
	RunE: serveCmdRun,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveCmdRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			application.Logger.Error("Failed to release resources", slog.String("error", err.Error()))
		}
		_ = infrastructure.CloseLogFile()
	}()

	return application.Run(ctx)
}
