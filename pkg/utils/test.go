// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"

	"github.com/HSKCTA/Resonance/internal/transport"
)

// MockFrameSink records spectral frames for later inspection instead of
// transmitting them. It is safe for concurrent use.
type MockFrameSink struct {
	mu        sync.Mutex
	LastFrame []float32
	Count     int
}

// UpdateFrame stores a copy of frame.
func (m *MockFrameSink) UpdateFrame(frame []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cap(m.LastFrame) < len(frame) {
		m.LastFrame = make([]float32, len(frame))
	}
	m.LastFrame = m.LastFrame[:len(frame)]
	copy(m.LastFrame, frame)
	m.Count++
}

// Snapshot returns a copy of the last frame and the number of frames seen.
func (m *MockFrameSink) Snapshot() ([]float32, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32(nil), m.LastFrame...), m.Count
}

// GenerateComplexWave returns size samples of a 440 Hz tone with its second
// and third harmonics, peaking at 0.9 full scale.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns size samples of a sine at frequency Hz.
func GenerateSineWave(frequency, sampleRate, amplitude float64, size int) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return buffer
}

// GenerateConstant returns size samples all equal to level.
func GenerateConstant(level float32, size int) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		buffer[i] = level
	}
	return buffer
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1]. Out of range bounds are clamped.
func FindPeakBin(magnitudes []float32, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// RecordingPublisher keeps a deep copy of every published message. Err, when
// set, is returned from Publish and the message is not recorded.
type RecordingPublisher struct {
	mu       sync.Mutex
	Messages []transport.Message
	Err      error
	closed   bool
}

// Publish implements transport.Publisher.
func (p *RecordingPublisher) Publish(msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	cp := msg
	cp.Data = append([]float32(nil), msg.Data...)
	if msg.Header.RMS != nil {
		rms := *msg.Header.RMS
		cp.Header.RMS = &rms
	}
	p.Messages = append(p.Messages, cp)
	return nil
}

// Published returns a copy of the recorded messages.
func (p *RecordingPublisher) Published() []transport.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transport.Message(nil), p.Messages...)
}

// SetErr changes the error returned by Publish.
func (p *RecordingPublisher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Close marks the publisher closed.
func (p *RecordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *RecordingPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// RecordingTransport keeps every value passed to Send.
type RecordingTransport struct {
	mu    sync.Mutex
	Items []any
}

// Send implements transport.Transport.
func (r *RecordingTransport) Send(data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, data)
	return nil
}

// Sent returns a copy of everything sent so far.
func (r *RecordingTransport) Sent() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.Items...)
}

// Close is a no-op.
func (r *RecordingTransport) Close() error { return nil }
