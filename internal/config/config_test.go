package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 31341, cfg.Burst.Port)
	assert.Equal(t, "0.0.0.0:31341", cfg.Burst.Addr())
	assert.Equal(t, time.Second, cfg.Burst.SessionTimeout)
	assert.Equal(t, 60*time.Second, cfg.Burst.GlobalTimeout)
	assert.Equal(t, time.Second, cfg.Burst.ReadTimeout)
	assert.Equal(t, "memory", cfg.Results.Backend)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.False(t, cfg.Server.HTTP3Enabled())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	assert.Equal(t, cfg, Default())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "udpburst.yaml")

	configContent := `
burst:
  port: 40000
  session_timeout: 2s
  max_sessions_per_host: 4

results:
  backend: redis
  ttl: 1h

redis:
  addresses:
    - "localhost:6380"
  pool_size: 5
  min_idle_conns: 1

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 40000, cfg.Burst.Port)
	assert.Equal(t, 2*time.Second, cfg.Burst.SessionTimeout)
	assert.Equal(t, 4, cfg.Burst.MaxSessionsPerHost)
	assert.Equal(t, "redis", cfg.Results.Backend)
	assert.Equal(t, time.Hour, cfg.Results.TTL)
	assert.Equal(t, []string{"localhost:6380"}, cfg.Redis.Addresses)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("UDPBURST_BURST_PORT", "41000")
	t.Setenv("UDPBURST_LOGGING_FORMAT", "text")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 41000, cfg.Burst.Port)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("burst:\n  port: 70000\n"), 0o600))

		cfg, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "burst config")
		assert.Nil(t, cfg)
	})

	t.Run("missing TLS material", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tls.yaml")
		content := "server:\n  tls_cert_file: /nonexistent/cert.pem\n  tls_key_file: /nonexistent/key.pem\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TLS certificate file not found")
	})
}
