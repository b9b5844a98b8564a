package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "player.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  channel_url: ws://localhost:8080/ws
  api_base: http://localhost:8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Playback.AutoPlayEnabled())
	assert.Equal(t, 0.7, cfg.Playback.Volume)
	assert.Equal(t, 15*time.Second, cfg.Playback.LoadTimeout())
	assert.Equal(t, 10*time.Second, cfg.Status.PollInterval())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "stdout", cfg.Log.Output)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  channel_url: ws://localhost:8080/ws
  api_base: http://localhost:8080
  token: secret
playback:
  auto_play: false
  volume: 0.3
  load_timeout_ms: 5000
status:
  poll_interval_sec: 30
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Server.Token)
	assert.False(t, cfg.Playback.AutoPlayEnabled())
	assert.Equal(t, 0.3, cfg.Playback.Volume)
	assert.Equal(t, 5*time.Second, cfg.Playback.LoadTimeout())
	assert.Equal(t, 30*time.Second, cfg.Status.PollInterval())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VOICEBOX_CHANNEL_URL", "ws://override:9000/ws")
	t.Setenv("VOICEBOX_TOKEN", "env-token")

	path := writeConfig(t, `
server:
  channel_url: ws://localhost:8080/ws
  api_base: http://localhost:8080
  token: file-token
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://override:9000/ws", cfg.Server.ChannelURL)
	assert.Equal(t, "env-token", cfg.Server.Token)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "Missing channel URL",
			content: `
server:
  api_base: http://localhost:8080
`,
		},
		{
			name: "Volume out of range",
			content: `
server:
  channel_url: ws://localhost:8080/ws
  api_base: http://localhost:8080
playback:
  volume: 1.5
`,
		},
		{
			name: "Poll interval too small",
			content: `
server:
  channel_url: ws://localhost:8080/ws
  api_base: http://localhost:8080
status:
  poll_interval_sec: -1
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)
}
