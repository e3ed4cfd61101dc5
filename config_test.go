package nexus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ".nexus", cfg.DataDir)
	assert.Equal(t, "main", cfg.Reasoner.MainModel)
	assert.Equal(t, "fast", cfg.Reasoner.FastModel)
	assert.Equal(t, "owner", cfg.Memory.UserID)
	assert.True(t, *cfg.Security.Enforce)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Security.AllowedSourceIPs)
	assert.Equal(t, []string{"100.64.0.0/10"}, cfg.Security.TailscaleCIDRs)
	assert.True(t, *cfg.Remote.OutboundQueue)
	assert.Equal(t, 2, cfg.Remote.OutboundRetryMax)
}

func TestLoadConfig_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	raw := `
data_dir: /var/lib/nexus
persona_path: /etc/nexus/persona.md
sandbox: true
reasoner:
  main_model: deep-1
  fast_model: quick-1
  main_timeout: 18s
  fill_timeout: 10s
  low_latency: true
redis:
  address: localhost:6379
  db: 2
memory:
  user_id: dmitri
  read_budget: 350ms
  redact: false
security:
  enforce: false
remote:
  api_key: sk-test
  router_mode: true
  external_user_id: u-1
  allowlist: ["TELEGRAM_*", "WEATHERMAP_WEATHER"]
  retry_delay: 50ms
owner:
  chat_id: "12345"
  username: dmitri
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/nexus", cfg.DataDir)
	assert.True(t, cfg.Sandbox)
	assert.Equal(t, "deep-1", cfg.Reasoner.MainModel)
	assert.Equal(t, 18*time.Second, cfg.Reasoner.MainTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.Reasoner.FillTimeout.Std())
	assert.True(t, cfg.Reasoner.LowLatency)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "dmitri", cfg.Memory.UserID)
	assert.Equal(t, 350*time.Millisecond, cfg.Memory.ReadBudget.Std())
	assert.False(t, *cfg.Memory.Redact)
	assert.False(t, *cfg.Security.Enforce)
	assert.True(t, cfg.Remote.RouterMode)
	assert.Equal(t, []string{"TELEGRAM_*", "WEATHERMAP_WEATHER"}, cfg.Remote.Allowlist)
	assert.Equal(t, 50*time.Millisecond, cfg.Remote.RetryDelay.Std())
	assert.Equal(t, "12345", cfg.Owner.ChatID)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoner:\n  main_timeout: soon\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
