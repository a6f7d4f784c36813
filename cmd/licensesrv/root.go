package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"licensesrv/internal/config"
	"licensesrv/internal/infrastructure"
)

var rootCmd = &cobra.Command{
	Use:           "licensesrv",
	Short:         "License activation server for the audio plugin",
	Long:          "licensesrv issues signed, machine-bound licenses to plugin installs and keeps the activation ledger.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type rootFlags struct {
	configFile string
}

var rootArgs rootFlags

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootArgs.configFile, "config", "c", "",
		"path to a YAML config file (defaults to $"+config.ConfigFileEnv+")")
}

func loadConfig() (*config.Config, error) {
	return config.Load(rootArgs.configFile)
}

// commandLogger logs to stderr so command output on stdout stays clean
func commandLogger(cfg *config.Config) (*slog.Logger, error) {
	logCfg := cfg.Logging
	logCfg.Output = "console"
	logger, err := infrastructure.NewLogger(logCfg, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
