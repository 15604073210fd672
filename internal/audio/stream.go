// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"time"

	"github.com/HSKCTA/Resonance/internal/config"
	applog "github.com/HSKCTA/Resonance/internal/log"

	"github.com/gordonklaus/portaudio"
)

// Stream captures float32 audio from a PortAudio input device and hands
// channel 0 of every frame to a SampleSink.
type Stream struct {
	device   *portaudio.DeviceInfo
	params   portaudio.StreamParameters
	channels int
	sink     SampleSink

	stream *portaudio.Stream
}

// NewStream prepares a capture stream. PortAudio must be initialized before
// Start is called.
func NewStream(device *portaudio.DeviceInfo, cfg config.AudioConfig, sink SampleSink) (*Stream, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	if sink == nil {
		return nil, fmt.Errorf("stream requires a sample sink")
	}
	if cfg.InputChannels < 1 || cfg.InputChannels > device.MaxInputChannels {
		return nil, fmt.Errorf("device %q supports %d input channels, %d requested",
			device.Name, device.MaxInputChannels, cfg.InputChannels)
	}

	var latency time.Duration
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	} else {
		latency = device.DefaultHighInputLatency
	}

	return &Stream{
		device:   device,
		channels: cfg.InputChannels,
		sink:     sink,
		params: portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: cfg.InputChannels,
				Latency:  latency,
			},
			Output: portaudio.StreamDeviceParameters{
				Channels: 0, // No output device
				Device:   nil,
			},
			FramesPerBuffer: cfg.FramesPerBuffer,
			SampleRate:      cfg.SampleRate,
		},
	}, nil
}

// Start opens and starts the PortAudio stream.
func (s *Stream) Start() error {
	stream, err := portaudio.OpenStream(s.params, s.process)
	if err != nil {
		return fmt.Errorf("failed to open input stream on %q: %w", s.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	s.stream = stream
	applog.Infof("Audio: Capturing from %q (%.0f Hz, %d ch, %d frames/buffer, latency %v)",
		s.device.Name, s.params.SampleRate, s.channels, s.params.FramesPerBuffer, s.params.Input.Latency)
	return nil
}

// process is the capture callback. It runs on PortAudio's thread and must
// not allocate, lock or log.
func (s *Stream) process(in []float32) {
	for i := 0; i < len(in); i += s.channels {
		s.sink.Deliver(in[i])
	}
}

// Stop halts capture. The stream can not be restarted after Close.
func (s *Stream) Stop() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Stop()
}

// Close stops and releases the stream.
func (s *Stream) Close() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		applog.Debugf("Audio: Stop before close: %v", err)
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

var _ Source = (*Stream)(nil)
