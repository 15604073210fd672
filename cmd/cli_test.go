// SPDX-License-Identifier: MIT
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseArgsDefaults(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")
	inv, err := parseArgs([]string{"-f", path})
	require.NoError(t, err)
	require.NotNil(t, inv)

	cfg := inv.Config
	assert.Equal(t, "", cfg.Command)
	assert.Equal(t, 44100.0, cfg.Audio.SampleRate)
	assert.Equal(t, -1, cfg.Audio.InputDevice)
	assert.True(t, cfg.Broadcast.Enabled)
	assert.False(t, cfg.Recording.Enabled)
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
audio:
  sample_rate: 48000
safety:
  threshold: 0.3
broadcast:
  endpoint: "tcp://*:6000"
`)
	inv, err := parseArgs([]string{
		"-f", path,
		"-t", "0.9",
		"--device-hint", "USB",
		"-i", "capture.wav",
		"--loop",
		"--no-broadcast",
		"-r",
		"-v",
	})
	require.NoError(t, err)

	cfg := inv.Config
	assert.Equal(t, 48000.0, cfg.Audio.SampleRate, "file value kept when flag unset")
	assert.Equal(t, 0.9, cfg.Safety.Threshold)
	assert.Equal(t, "tcp://*:6000", cfg.Broadcast.Endpoint)
	assert.Equal(t, "USB", cfg.Audio.DeviceHint)
	assert.Equal(t, "capture.wav", cfg.Audio.InputFile)
	assert.True(t, cfg.Audio.Loop)
	assert.False(t, cfg.Broadcast.Enabled)
	assert.True(t, cfg.Recording.Enabled)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseArgsRejectsInvalidFlags(t *testing.T) {
	path := writeConfig(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{"zero threshold", []string{"-t", "0"}},
		{"sample rate too low", []string{"-s", "100"}},
		{"bad endpoint", []string{"-e", "localhost"}},
		{"unknown flag", []string{"--bogus"}},
		{"stray argument", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(append([]string{"-f", path}, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestParseArgsFlagRepairsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
safety:
  threshold: 0
`)
	_, err := parseArgs([]string{"-f", path})
	require.Error(t, err, "file value alone is invalid")

	inv, err := parseArgs([]string{"-f", path, "-t", "0.4"})
	require.NoError(t, err)
	assert.Equal(t, 0.4, inv.Config.Safety.Threshold)
}

func TestParseArgsFlagRepairsInvalidEnv(t *testing.T) {
	t.Setenv("ENV_BROADCAST_ENDPOINT", "no-scheme")
	path := writeConfig(t, "")

	_, err := parseArgs([]string{"-f", path})
	require.Error(t, err)

	inv, err := parseArgs([]string{"-f", path, "-e", "tcp://*:5600"})
	require.NoError(t, err)
	assert.Equal(t, "tcp://*:5600", inv.Config.Broadcast.Endpoint)
}

func TestParseArgsMissingConfigFile(t *testing.T) {
	_, err := parseArgs([]string{"-f", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestParseArgsList(t *testing.T) {
	path := writeConfig(t, "")

	inv, err := parseArgs([]string{"list", "-f", path})
	require.NoError(t, err)
	assert.Equal(t, CommandList, inv.Config.Command)
	assert.False(t, inv.Interactive)

	inv, err = parseArgs([]string{"list", "--interactive", "-f", path})
	require.NoError(t, err)
	assert.True(t, inv.Interactive)
}

func TestParseArgsMonitor(t *testing.T) {
	path := writeConfig(t, `
broadcast:
  endpoint: "tcp://*:5600"
`)

	inv, err := parseArgs([]string{"monitor", "-f", path})
	require.NoError(t, err)
	assert.Equal(t, CommandMonitor, inv.Config.Command)
	assert.Equal(t, "tcp://127.0.0.1:5600", inv.Endpoint, "bind endpoint is turned into a dial address")

	inv, err = parseArgs([]string{"monitor", "tcp://sensor-4:5555", "-f", path})
	require.NoError(t, err)
	assert.Equal(t, "tcp://sensor-4:5555", inv.Endpoint)

	_, err = parseArgs([]string{"monitor", "a", "b", "-f", path})
	assert.Error(t, err)
}

func TestParseArgsVersion(t *testing.T) {
	inv, err := parseArgs([]string{"version"})
	require.NoError(t, err)
	assert.Equal(t, CommandVersion, inv.Config.Command)
}
