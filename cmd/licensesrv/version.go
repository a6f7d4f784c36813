package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"licensesrv/pkg/contracts"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Args:  cobra.NoArgs,
	RunE:  versionCmdRun,
}

type versionFlags struct {
	json bool
}

var versionArgs versionFlags

func init() {
	versionCmd.Flags().BoolVar(&versionArgs.json, "json", false, "print the full build information as JSON")
	rootCmd.AddCommand(versionCmd)
}

func versionCmdRun(cmd *cobra.Command, args []string) error {
	info := contracts.GetVersionInfo()
	if versionArgs.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "licensesrv %s (protocol %s, payload %s)\n",
		info.Version, info.APIVersion, info.PayloadFormat)
	return err
}
