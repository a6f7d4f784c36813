package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"licensesrv/internal/security"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing keypair",
	Long: `Generate an Ed25519 signing keypair.

The public key is compiled into the plugin; the private key is given to the
server through LICENSESRV_LICENSE_PRIVATE_KEY or LICENSESRV_LICENSE_PRIVATE_KEY_FILE.`,
	Example: `  # Print a keypair as JSON
  licensesrv keygen

  # Write PEM files into a directory
  licensesrv keygen --output-dir ./keys
`,
	Args: cobra.NoArgs,
	RunE: keygenCmdRun,
}

type keygenFlags struct {
	outputDir string
}

var keygenArgs keygenFlags

func init() {
	keygenCmd.Flags().StringVarP(&keygenArgs.outputDir, "output-dir", "o", "",
		"write signing.key and signing.pub to this directory instead of printing")
	rootCmd.AddCommand(keygenCmd)
}

func keygenCmdRun(cmd *cobra.Command, args []string) error {
	pair, err := security.GenerateKeyPair()
	if err != nil {
		return err
	}

	if keygenArgs.outputDir == "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pair)
	}

	if err := isDir(keygenArgs.outputDir); err != nil {
		return err
	}
	privatePath := filepath.Join(keygenArgs.outputDir, "signing.key")
	publicPath := filepath.Join(keygenArgs.outputDir, "signing.pub")

	if _, err := os.Stat(privatePath); err == nil {
		return fmt.Errorf("%s already exists", privatePath)
	}
	if err := os.WriteFile(privatePath, []byte(pair.PrivateKeyPEM), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, []byte(pair.PublicKeyPEM), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	cmd.Printf("✔ private key written to: %s\n", privatePath)
	cmd.Printf("✔ public key written to: %s\n", publicPath)
	cmd.Printf("public key (base64): %s\n", pair.PublicKey)
	return nil
}

func isDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory %s does not exist", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
