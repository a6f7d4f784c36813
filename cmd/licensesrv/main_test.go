package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/security"
	"licensesrv/pkg/contracts"
	"licensesrv/pkg/contracts/domain"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(resetCmdArgs)

	buf := new(bytes.Buffer)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	err := rootCmd.Execute()
	return buf.String(), err
}

// resetCmdArgs puts every flag back to its default between runs
func resetCmdArgs() {
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)
}

func useMemoryStore(t *testing.T) {
	t.Setenv("LICENSESRV_DATABASE_DRIVER", "memory")
	t.Setenv("LICENSESRV_CONFIG", "")
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, contracts.Version)
	assert.Contains(t, out, contracts.PayloadFormatVersion)

	out, err = executeCommand(t, "version", "--json")
	require.NoError(t, err)
	var info contracts.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, contracts.APIVersion, info.APIVersion)
}

func TestKeygenCmd(t *testing.T) {
	t.Run("prints a usable keypair", func(t *testing.T) {
		out, err := executeCommand(t, "keygen")
		require.NoError(t, err)

		var pair security.KeyPair
		require.NoError(t, json.Unmarshal([]byte(out), &pair))
		priv, err := security.ParsePrivateKey([]byte(pair.PrivateKey))
		require.NoError(t, err)
		pub, err := security.ParsePublicKey(pair.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, pub, priv.Public())
	})

	t.Run("writes pem files", func(t *testing.T) {
		dir := t.TempDir()
		out, err := executeCommand(t, "keygen", "--output-dir", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "signing.key")

		raw, err := os.ReadFile(filepath.Join(dir, "signing.key"))
		require.NoError(t, err)
		_, err = security.ParsePrivateKey(raw)
		assert.NoError(t, err)

		info, err := os.Stat(filepath.Join(dir, "signing.key"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "signing.key"), []byte("old"), 0o600))

		_, err := executeCommand(t, "keygen", "-o", dir)
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := executeCommand(t, "keygen", "-o", filepath.Join(t.TempDir(), "nope"))
		assert.ErrorContains(t, err, "does not exist")
	})
}

func TestGrantCmd(t *testing.T) {
	useMemoryStore(t)

	out, err := executeCommand(t, "grant", "--email", "Artist@Example.com", "--type", "pro",
		"--max-activations", "3", "--expires", "2030-01-31")
	require.NoError(t, err)

	var lic domain.License
	require.NoError(t, json.Unmarshal([]byte(out), &lic))
	assert.NotEmpty(t, lic.Key)
	assert.Equal(t, "artist@example.com", lic.OwnerEmail)
	assert.Equal(t, domain.LicenseTypePro, lic.Type)
	assert.Equal(t, 3, lic.MaxActivations)
	require.NotNil(t, lic.ExpirationDate)
	assert.Equal(t, "2030-01-31", lic.ExpirationDate.Format(time.DateOnly))
}

func TestGrantCmdErrors(t *testing.T) {
	useMemoryStore(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing email", []string{"grant"}, `required flag(s) "email" not set`},
		{"unknown type", []string{"grant", "--email", "a@example.com", "--type", "GOLD"}, "unknown license type"},
		{"bad expiry", []string{"grant", "--email", "a@example.com", "--expires", "soon"}, "invalid --expires"},
		{"zero activations", []string{"grant", "--email", "a@example.com", "--max-activations", "0"}, "activations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRevokeCmdUnknownLicense(t *testing.T) {
	useMemoryStore(t)

	// every run opens a fresh in-memory ledger
	_, err := executeCommand(t, "revoke", "AAAA-BBBB-CCCC-DDDD")
	assert.Error(t, err)

	_, err = executeCommand(t, "reinstate")
	assert.ErrorContains(t, err, "accepts 1 arg(s)")
}

func TestMigrateCmdRequiresPostgres(t *testing.T) {
	useMemoryStore(t)

	_, err := executeCommand(t, "migrate", "up")
	assert.ErrorContains(t, err, "postgres driver")

	_, err = executeCommand(t, "migrate", "sideways")
	assert.ErrorContains(t, err, "unknown migration direction")
}

func TestParseExpiry(t *testing.T) {
	got, err := parseExpiry("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseExpiry("2027-06-30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 6, 30, 23, 59, 59, 0, time.UTC), *got)

	got, err = parseExpiry("2027-06-30T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 6, 30, 8, 0, 0, 0, time.UTC), *got)

	_, err = parseExpiry("30/06/2027")
	assert.Error(t, err)
}
