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
	dir := t.TempDir()
	cfg, err := Load([]string{"--state-dir", dir})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, "evidence"), cfg.Browser.EvidenceDir)
	assert.True(t, cfg.Browser.CaptureEvidence)
	assert.Equal(t, time.Second, cfg.Browser.ActionDelay)
	assert.Equal(t, "worker-01", cfg.Worker.ID)
	assert.Equal(t, 10*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, time.Second, cfg.Worker.TaskDelay)
	assert.Equal(t, 5*time.Second, cfg.Worker.ErrorCooldown)
	assert.Equal(t, "http://127.0.0.1:19888", cfg.Provider.URL)
	assert.Equal(t, 120*time.Second, cfg.Provider.Timeout)
	assert.Empty(t, cfg.Server.Addr)
	assert.False(t, cfg.Server.MCP)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SHOPAGENT_STATE_DIR", t.TempDir())
	t.Setenv("SHOPAGENT_WORKER_ID", "env-worker")
	t.Setenv("SHOPAGENT_POLL_INTERVAL", "30s")
	t.Setenv("SHOPAGENT_HTTP_ADDR", "127.0.0.1:7070")
	t.Setenv("SHOPAGENT_BARK_ENABLED", "yes")
	t.Setenv("SHOPAGENT_CAPTURE_EVIDENCE", "false")
	t.Setenv("SHOPAGENT_PROVIDER_PASSWORD", "secret")

	cfg, err := Load([]string{"--worker-id", "flag-worker", "--mcp"})
	require.NoError(t, err)

	assert.Equal(t, "flag-worker", cfg.Worker.ID)
	assert.Equal(t, 30*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Addr)
	assert.True(t, cfg.Server.MCP)
	assert.True(t, cfg.Notification.Bark.Enabled)
	assert.False(t, cfg.Browser.CaptureEvidence)
	assert.Equal(t, "secret", cfg.Provider.Password)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	_, err := Load([]string{"--state-dir", dir, "--log-format", "xml"})
	assert.Error(t, err)

	_, err = Load([]string{"--state-dir", dir, "--poll-interval", "0s"})
	assert.Error(t, err)

	_, err = Load([]string{"--state-dir", dir, "--no-such-flag"})
	assert.Error(t, err)
}

func TestLoadTenants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  shop_a: \"15234\"\n  shop_b: \"15235\"\n"), 0o600))

	tenants, err := LoadTenants(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"shop_a": "15234", "shop_b": "15235"}, tenants)

	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  shop_a: \"\"\n"), 0o600))
	_, err = LoadTenants(path)
	assert.Error(t, err)

	_, err = LoadTenants(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
