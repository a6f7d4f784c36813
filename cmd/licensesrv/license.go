package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"licensesrv/internal/app"
	"licensesrv/internal/license"
	"licensesrv/pkg/contracts/domain"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Create a license for an owner email",
	Example: `  # Perpetual PRO license for two machines
  licensesrv grant --email artist@example.com --type PRO --max-activations 2

  # Standard license expiring at the end of the year
  licensesrv grant --email artist@example.com --expires 2026-12-31
`,
	Args: cobra.NoArgs,
	RunE: grantCmdRun,
}

type grantFlags struct {
	email          string
	licenseType    string
	maxActivations int
	expires        string
}

var grantArgs = grantFlags{licenseType: "STANDARD", maxActivations: 2}

var revokeCmd = &cobra.Command{
	Use:   "revoke [LICENSE_KEY]",
	Short: "Revoke a license; its machines stop validating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRevokedCmdRun(cmd, args[0], true)
	},
}

var reinstateCmd = &cobra.Command{
	Use:   "reinstate [LICENSE_KEY]",
	Short: "Clear the revoked flag of a license",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRevokedCmdRun(cmd, args[0], false)
	},
}

func init() {
	grantCmd.Flags().StringVar(&grantArgs.email, "email", "", "owner email (required)")
	grantCmd.Flags().StringVar(&grantArgs.licenseType, "type", grantArgs.licenseType, "license type, STANDARD or PRO")
	grantCmd.Flags().IntVar(&grantArgs.maxActivations, "max-activations", grantArgs.maxActivations, "number of machines allowed")
	grantCmd.Flags().StringVar(&grantArgs.expires, "expires", "", "expiration as YYYY-MM-DD or RFC 3339 (default perpetual)")
	_ = grantCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(reinstateCmd)
}

func grantCmdRun(cmd *cobra.Command, args []string) error {
	licenseType, err := domain.ParseLicenseType(grantArgs.licenseType)
	if err != nil {
		return err
	}
	expires, err := parseExpiry(grantArgs.expires)
	if err != nil {
		return err
	}

	manager, closeStore, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	lic, err := manager.Grant(cmd.Context(), license.GrantInput{
		Email:          grantArgs.email,
		Type:           licenseType,
		MaxActivations: grantArgs.maxActivations,
		ExpirationDate: expires,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(lic)
}

func setRevokedCmdRun(cmd *cobra.Command, key string, revoked bool) error {
	manager, closeStore, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	if revoked {
		err = manager.Revoke(cmd.Context(), key)
	} else {
		err = manager.Reinstate(cmd.Context(), key)
	}
	if err != nil {
		return err
	}

	state := "reinstated"
	if revoked {
		state = "revoked"
	}
	cmd.Printf("✔ license %s %s\n", license.NormalizeLicenseKey(key), state)
	return nil
}

// parseExpiry accepts a date, taken as the end of that day in UTC, or an
// RFC 3339 timestamp
func parseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		end := t.Add(24*time.Hour - time.Second).UTC()
		return &end, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --expires %q: use YYYY-MM-DD or RFC 3339", s)
	}
	t = t.UTC()
	return &t, nil
}

// openManager opens the configured store for administrative commands.
// The codec is wired but never loaded; these commands do not sign.
func openManager(ctx context.Context) (*license.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := commandLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	manager := license.NewManager(store, app.NewCodec(cfg.License, logger), logger)
	return manager, func() { _ = closeStore() }, nil
}
