package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "agentcron.db", cfg.DBPath)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Minute, cfg.TickInterval())
	assert.Equal(t, time.Hour, cfg.StaleRunAge())
	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.DispatchInterval())
	assert.Equal(t, 5*time.Second, cfg.RetryDelay())
	assert.Equal(t, 30, cfg.Delivery.WebhookPerMinute)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentcron.yaml")
	body := `
db_path: /var/lib/agentcron/data.db
scheduler:
  enabled: false
  tick_seconds: 30
queue:
  max_concurrent: 10
  retry_delay_ms: 2000
  session_link_base: https://app.example.com/sessions
execution:
  base_url: https://exec.example.com
  api_key: secret
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/agentcron/data.db", cfg.DBPath)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Second, cfg.TickInterval())
	assert.Equal(t, 10, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay())
	assert.Equal(t, "https://app.example.com/sessions", cfg.Queue.SessionLinkBase)
	assert.Equal(t, "https://exec.example.com", cfg.Execution.BaseURL)
	assert.Equal(t, "secret", cfg.Execution.APIKey)

	// fields absent from the file keep their defaults
	assert.Equal(t, time.Hour, cfg.StaleRunAge())
	assert.Equal(t, 30, cfg.Delivery.WebhookPerMinute)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTCRON_DB_PATH", "/tmp/env.db")
	t.Setenv("AGENTCRON_EXECUTION_URL", "https://env.example.com")
	t.Setenv("AGENTCRON_EXECUTION_API_KEY", "env-key")
	t.Setenv("AGENTCRON_DISABLED", "true")
	t.Setenv("AGENTCRON_MAX_CONCURRENT", "12")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, "https://env.example.com", cfg.Execution.BaseURL)
	assert.Equal(t, "env-key", cfg.Execution.APIKey)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 12, cfg.Queue.MaxConcurrent)
}

func TestLoad_EnvIgnoresGarbage(t *testing.T) {
	t.Setenv("AGENTCRON_DISABLED", "maybe")
	t.Setenv("AGENTCRON_MAX_CONCURRENT", "-3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
}
