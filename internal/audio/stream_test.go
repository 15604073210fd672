// SPDX-License-Identifier: MIT
package audio

import (
	"testing"
	"time"

	"github.com/HSKCTA/Resonance/internal/config"
	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAudioConfig(channels int) config.AudioConfig {
	cfg := config.Default().Audio
	cfg.InputChannels = channels
	return cfg
}

func TestNewStreamParameters(t *testing.T) {
	dev := &portaudio.DeviceInfo{
		Name:                    "Mic",
		MaxInputChannels:        2,
		DefaultLowInputLatency:  3 * time.Millisecond,
		DefaultHighInputLatency: 30 * time.Millisecond,
	}
	q := NewCaptureQueue(64)

	cfg := testAudioConfig(2)
	cfg.LowLatency = true
	s, err := NewStream(dev, cfg, q)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, s.params.Input.Latency)
	assert.Equal(t, 2, s.params.Input.Channels)
	assert.Equal(t, 0, s.params.Output.Channels)
	assert.Equal(t, cfg.FramesPerBuffer, s.params.FramesPerBuffer)
	assert.Equal(t, cfg.SampleRate, s.params.SampleRate)

	cfg.LowLatency = false
	s, err = NewStream(dev, cfg, q)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, s.params.Input.Latency)
}

func TestNewStreamValidation(t *testing.T) {
	mono := &portaudio.DeviceInfo{Name: "Mono", MaxInputChannels: 1}
	q := NewCaptureQueue(64)

	_, err := NewStream(nil, testAudioConfig(1), q)
	assert.ErrorIs(t, err, ErrNoDevice)
	_, err = NewStream(mono, testAudioConfig(2), q)
	assert.Error(t, err)
	_, err = NewStream(mono, testAudioConfig(1), nil)
	assert.Error(t, err)
}

func TestStreamCallbackTakesFirstChannel(t *testing.T) {
	dev := &portaudio.DeviceInfo{Name: "Stereo", MaxInputChannels: 2}
	q := NewCaptureQueue(64)
	s, err := NewStream(dev, testAudioConfig(2), q)
	require.NoError(t, err)

	s.process([]float32{0.1, -9, 0.2, -9, 0.3, -9})

	var got []float32
	var x float32
	for q.Pop(&x) {
		got = append(got, x)
	}
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got)
}

func TestStreamCallbackAllocs(t *testing.T) {
	dev := &portaudio.DeviceInfo{Name: "Mono", MaxInputChannels: 1}
	q := NewCaptureQueue(1024)
	s, err := NewStream(dev, testAudioConfig(1), q)
	require.NoError(t, err)

	in := make([]float32, 256)
	var x float32
	allocs := testing.AllocsPerRun(100, func() {
		s.process(in)
		for q.Pop(&x) {
		}
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in capture callback, got %.1f", allocs)
	}
}

func TestStreamStopCloseBeforeStart(t *testing.T) {
	dev := &portaudio.DeviceInfo{Name: "Mono", MaxInputChannels: 1}
	s, err := NewStream(dev, testAudioConfig(1), NewCaptureQueue(8))
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Close())
}
