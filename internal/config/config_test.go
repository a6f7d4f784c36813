package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("LICENSESRV_DATABASE_URL", "postgres://u:p@localhost:5432/licenses")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/licenses", cfg.Database.URL)
	assert.Equal(t, 5, cfg.License.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.License.LockoutWindow)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "licensesrv.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 9000
  read_timeout: 5s
database:
  driver: memory
license:
  touch_interval: 1m
  lockout_threshold: 3
security:
  admin_api_keys: ["file-key"]
`), 0o600))

	t.Setenv("LICENSESRV_SERVER_PORT", "9100")
	t.Setenv("LICENSESRV_SECURITY_ADMIN_API_KEYS", "env-key-1, env-key-2")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env beats file")
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout, "file beats default")
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "default kept")
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, time.Minute, cfg.License.TouchInterval)
	assert.Equal(t, 3, cfg.License.LockoutThreshold)
	assert.Equal(t, []string{"env-key-1", "env-key-2"}, cfg.Security.AdminAPIKeys)
}

func TestLoadConfigFileFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("database:\n  driver: MEMORY\n"), 0o600))
	t.Setenv(ConfigFileEnv, file)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigFileEnv, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LICENSESRV_DATABASE_DRIVER=memory\nLICENSESRV_LICENSE_LOCKOUT_THRESHOLD=9\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LICENSESRV_DATABASE_DRIVER")
		os.Unsetenv("LICENSESRV_LICENSE_LOCKOUT_THRESHOLD")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 9, cfg.License.LockoutThreshold)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		file := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(file, []byte("server: [not, a, map"), 0o600))
		_, err := Load(file)
		assert.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("LICENSESRV_DATABASE_DRIVER", "memory")
		t.Setenv("LICENSESRV_SERVER_PORT", "eighty")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid memory", mutate: func(c *Config) { c.Database.Driver = DriverMemory }},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "zero read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }, wantErr: "read timeout"},
		{name: "postgres without url", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }, wantErr: "database url"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "unknown database driver"},
		{name: "bad output", mutate: func(c *Config) { c.Logging.Output = "syslog" }, wantErr: "logging output"},
		{name: "file output without path", mutate: func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, wantErr: "file path"},
		{name: "zero lockout threshold", mutate: func(c *Config) { c.License.LockoutThreshold = 0 }, wantErr: "lockout threshold"},
		{name: "negative touch", mutate: func(c *Config) { c.License.TouchInterval = -time.Second }, wantErr: "touch interval"},
		{name: "bad exporter", mutate: func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }, wantErr: "trace exporter"},
		{name: "bad ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 2 }, wantErr: "sample ratio"},
		{name: "bad rate limit", mutate: func(c *Config) { c.Security.RateLimit.RPS = 0 }, wantErr: "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.Driver = DriverMemory
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
