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
	path := filepath.Join(t.TempDir(), "voicelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/ws/audio", cfg.Server.EndpointURL())
	assert.Equal(t, 3*time.Second, cfg.Server.ReconnectDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Audio.ChunkInterval)
	assert.Equal(t, 16000, cfg.Audio.CaptureSampleRate)
	assert.Equal(t, 24000, cfg.Audio.PlaybackSampleRate)
	assert.Equal(t, SourceMicrophone, cfg.Audio.Source)
	assert.Equal(t, SinkSpeaker, cfg.Audio.Sink)
	assert.True(t, cfg.Session.Transcripts)
	assert.Empty(t, cfg.Debug.Addr)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
server:
  url: ws://file-host:9000
  reconnect_delay: 5s
audio:
  source: sample_audio.wav
  sink: audio_responses
session:
  transcripts: false
debug:
  addr: 127.0.0.1:9090
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := Load([]string{"-f", path})
		require.NoError(t, err)
		assert.Equal(t, "ws://file-host:9000/ws/audio", cfg.Server.EndpointURL())
		assert.Equal(t, 5*time.Second, cfg.Server.ReconnectDelay)
		assert.Equal(t, "sample_audio.wav", cfg.Audio.Source)
		assert.Equal(t, "audio_responses", cfg.Audio.Sink)
		assert.False(t, cfg.Session.Transcripts)
		assert.Equal(t, "127.0.0.1:9090", cfg.Debug.Addr)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("VOICELINK_SERVER_URL", "wss://env-host")
		t.Setenv("VOICELINK_TRANSCRIPTS", "true")
		t.Setenv("VOICELINK_RECONNECT_DELAY", "1500ms")

		cfg, err := Load([]string{"--config", path})
		require.NoError(t, err)
		assert.Equal(t, "wss://env-host/ws/audio", cfg.Server.EndpointURL())
		assert.True(t, cfg.Session.Transcripts)
		assert.Equal(t, 1500*time.Millisecond, cfg.Server.ReconnectDelay)
	})

	t.Run("flags over env", func(t *testing.T) {
		t.Setenv("VOICELINK_SERVER_URL", "wss://env-host")

		cfg, err := Load([]string{"-f", path, "--url", "ws://flag-host:8000/", "--no-transcripts", "--sink", "speaker", "-v"})
		require.NoError(t, err)
		assert.Equal(t, "ws://flag-host:8000/ws/audio", cfg.Server.EndpointURL())
		assert.False(t, cfg.Session.Transcripts)
		assert.Equal(t, SinkSpeaker, cfg.Audio.Sink)
		assert.Equal(t, "warn", cfg.Logging.ConsoleLevel)
	})
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown flag", args: []string{"--bogus"}},
		{name: "missing file", args: []string{"-f", "/nonexistent/voicelink.yaml"}},
		{name: "http scheme", args: []string{"--url", "http://localhost:8000"}},
		{name: "bad env duration", env: map[string]string{"VOICELINK_RECONNECT_DELAY": "soon"}},
		{name: "bad env bool", env: map[string]string{"VOICELINK_TRANSCRIPTS": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	require.Error(t, err)
	assert.True(t, IsHelp(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no host", func(c *Config) { c.Server.URL = "ws://" }},
		{"zero reconnect delay", func(c *Config) { c.Server.ReconnectDelay = 0 }},
		{"token without ttl", func(c *Config) { c.Server.TokenSecret = "s"; c.Server.TokenTTL = 0 }},
		{"capture rate", func(c *Config) { c.Audio.CaptureSampleRate = 100 }},
		{"playback rate", func(c *Config) { c.Audio.PlaybackSampleRate = 96000 }},
		{"channels", func(c *Config) { c.Audio.Channels = 6 }},
		{"chunk interval", func(c *Config) { c.Audio.ChunkInterval = 0 }},
		{"source", func(c *Config) { c.Audio.Source = "" }},
		{"sink", func(c *Config) { c.Audio.Sink = "" }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEndpointURL(t *testing.T) {
	for base, want := range map[string]string{
		"ws://localhost:8000":           "ws://localhost:8000/ws/audio",
		"ws://localhost:8000/":          "ws://localhost:8000/ws/audio",
		"wss://voice.example/ws/audio":  "wss://voice.example/ws/audio",
		"wss://voice.example/ws/audio/": "wss://voice.example/ws/audio",
	} {
		s := ServerConfig{URL: base}
		assert.Equal(t, want, s.EndpointURL(), base)
	}
}
