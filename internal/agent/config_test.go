package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  base_url: https://api.example.com
  timeout: 5s
session:
  language: de
  similarity_threshold: 0.8
heartbeat:
  interval: 30s
  activity_throttle: 45s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "de", cfg.Session.Language)
	assert.InDelta(t, 0.8, cfg.Session.SimilarityThreshold, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.ActivityThrottle)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  base_url: https://api.example.com
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "en", cfg.Session.Language)
	assert.InDelta(t, 0.7, cfg.Session.SimilarityThreshold, 1e-9)
	assert.Zero(t, cfg.Heartbeat.Interval, "periodic heartbeat defaults to disabled")
	assert.Equal(t, time.Minute, cfg.Heartbeat.ActivityThrottle)
	assert.Equal(t, 3, cfg.Heartbeat.TransientLimit)
	assert.Equal(t, 2*time.Second, cfg.Unload.BeaconTimeout)
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("SESSION_KEEPER_TOKEN", "tok-secret")

	path := writeConfigFile(t, `
server:
  base_url: https://api.example.com
  bearer_token: ${SESSION_KEEPER_TOKEN}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-secret", cfg.Server.BearerToken)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.base_url is required")

	cfg.Server.BaseURL = "https://api.example.com"
	require.NoError(t, cfg.Validate())

	cfg.Heartbeat.Interval = -time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat.interval")
}
