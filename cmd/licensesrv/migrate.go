package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"licensesrv/internal/config"
	"licensesrv/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Example:   "  licensesrv migrate up\n  licensesrv migrate down\n",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
	RunE:      migrateCmdRun,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrateCmdRun(cmd *cobra.Command, args []string) error {
	direction, err := postgres.ParseDirection(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations need the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	if err := postgres.Migrate(cmd.Context(), cfg.Database.URL, direction); err != nil {
		return err
	}
	cmd.Printf("✔ migrations applied (%s)\n", direction)
	return nil
}
