package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "agent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "signet/v1", cfg.Schema)
	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.Equal(t, 20, cfg.Search.TopK)
	assert.Equal(t, 0.3, cfg.Search.MinScore)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Perception.RefinerIntervalMinutes)
	assert.Equal(t, 30, cfg.Perception.Screen.IntervalSeconds)
	assert.False(t, cfg.Perception.Voice.Enabled)
	assert.Equal(t, 0.3, cfg.Perception.Voice.VADThreshold)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	manifest := `
version: 1
schema: signet/v1
agent:
  name: dev-agent
search:
  alpha: 0.5
embedding:
  provider: none
perception:
  screen:
    enabled: false
  voice:
    enabled: true
    vadThreshold: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "dev-agent", cfg.Agent.Name)
	assert.Equal(t, 0.5, cfg.Search.Alpha)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.False(t, cfg.Perception.Screen.Enabled)
	assert.True(t, cfg.Perception.Voice.Enabled)
	assert.Equal(t, 0.4, cfg.Perception.Voice.VADThreshold)
	// Untouched keys keep defaults.
	assert.Equal(t, 20, cfg.Search.TopK)
}

func TestValidateRejectsBadAlpha(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  alpha: 1.5\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.alpha")
}

func TestValidateOpenAIRequiresKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  provider: openai\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestPortEnvOverride(t *testing.T) {
	t.Setenv(EnvPort, "4950")
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "agent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4950, cfg.Server.Port)
}

func TestPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg.Agent.Name = "roundtrip"
	cfg.Harnesses = []string{"claude-code"}

	require.NoError(t, Persist(cfg, path))
	assert.NotEmpty(t, cfg.Agent.Created)
	assert.NotEmpty(t, cfg.Agent.Updated)

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Agent.Name)
	assert.Equal(t, []string{"claude-code"}, loaded.Harnesses)
}

func TestStateRootEnv(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/signet-test-root")
	assert.Equal(t, "/tmp/signet-test-root", StateRoot())
	assert.Equal(t, filepath.Join("/tmp/signet-test-root", ".daemon", "pid"), PidPath())
}

func TestNoHooks(t *testing.T) {
	t.Setenv(EnvNoHooks, "1")
	assert.True(t, NoHooks())
	t.Setenv(EnvNoHooks, "")
	assert.False(t, NoHooks())
}
