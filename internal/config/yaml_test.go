// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml in the working directory
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 44100.0, cfg.Audio.SampleRate)
	assert.Equal(t, 2048, cfg.Spectral.FFTSize)
	assert.Equal(t, 512, cfg.Spectral.Hop)
	assert.Equal(t, 1024, cfg.Spectral.Bins)
	assert.Equal(t, 64, cfg.Spectral.Frames)
	assert.Equal(t, "tcp://*:5555", cfg.Broadcast.Endpoint)
	assert.Equal(t, 10, cfg.Broadcast.HighWaterMark)
	assert.InDelta(t, 0.7, cfg.Safety.Threshold, 1e-9)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
audio:
  sample_rate: 48000
  device_hint: "USB Audio"
safety:
  threshold: 0.25
  window: 1024
spectral:
  fft_size: 4096
  hop: 1024
broadcast:
  endpoint: "tcp://127.0.0.1:6000"
  include_rms: false
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 48000.0, cfg.Audio.SampleRate)
	assert.Equal(t, "USB Audio", cfg.Audio.DeviceHint)
	assert.InDelta(t, 0.25, cfg.Safety.Threshold, 1e-9)
	assert.Equal(t, 1024, cfg.Safety.Window)
	assert.Equal(t, 4096, cfg.Spectral.FFTSize)
	assert.Equal(t, 1024, cfg.Spectral.Hop)
	assert.Equal(t, 1024, cfg.Spectral.Bins, "unset keys keep their defaults")
	assert.False(t, cfg.Broadcast.IncludeRMS)
	assert.Equal(t, 12000.0, cfg.Filter.LowPassHz)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_BROADCAST_ENDPOINT", "tcp://*:7000")
	t.Setenv("ENV_SAFETY_THRESHOLD", "0.5")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "50ms")
	t.Setenv("ENV_LOG_LEVEL", "warn")

	path := writeTempConfig(t, "debug: false\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://*:7000", cfg.Broadcast.Endpoint)
	assert.InDelta(t, 0.5, cfg.Safety.Threshold, 1e-9)
	assert.Equal(t, 50*time.Millisecond, cfg.Transport.UDPSendInterval)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_DefersValidation(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "safety:\n  threshold: 0\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err, "validation is left to the caller")
	assert.Equal(t, 0.0, cfg.Safety.Threshold)
	assert.Error(t, cfg.Validate())

	cfg.Safety.Threshold = 0.5
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"fft size not power of two", func(c *Config) { c.Spectral.FFTSize = 2000 }, "power of 2"},
		{"too many bins", func(c *Config) { c.Spectral.Bins = 1025 }, "spectral.bins"},
		{"hop larger than window", func(c *Config) { c.Spectral.Hop = 4096 }, "spectral.hop"},
		{"lowpass above nyquist", func(c *Config) { c.Filter.LowPassHz = 30000 }, "filter.lowpass_hz"},
		{"zero q", func(c *Config) { c.Filter.Q = 0 }, "filter.q"},
		{"zero threshold", func(c *Config) { c.Safety.Threshold = 0 }, "safety.threshold"},
		{"bad endpoint", func(c *Config) { c.Broadcast.Endpoint = "5555" }, "broadcast.endpoint"},
		{"disabled broadcast ignores endpoint", func(c *Config) {
			c.Broadcast.Enabled = false
			c.Broadcast.Endpoint = ""
		}, ""},
		{"udp without port", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPTargetAddress = "localhost"
		}, "udp_target_address"},
		{"mqtt without topic", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Topic = ""
		}, "mqtt.broker and mqtt.topic"},
		{"recording bit depth", func(c *Config) {
			c.Recording.Enabled = true
			c.Recording.BitDepth = 8
		}, "recording.bit_depth"},
		{"sample rate too low", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
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
