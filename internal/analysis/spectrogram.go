// SPDX-License-Identifier: MIT
package analysis

import "fmt"

// Spectrogram accumulates fixed-length spectra into a bins x frames ring
// stored frame-major: frame f occupies data[f*bins : (f+1)*bins].
//
// Frames are written in place and the ring is never rotated, so once it has
// wrapped the oldest frame sits at Cursor() rather than at index 0. Readers
// that need chronological order must rotate by Cursor() themselves.
type Spectrogram struct {
	bins   int
	frames int
	data   []float32
	cursor int
	ready  bool
}

// NewSpectrogram returns an empty, not-ready ring.
func NewSpectrogram(bins, frames int) (*Spectrogram, error) {
	if bins <= 0 || frames <= 0 {
		return nil, fmt.Errorf("spectrogram dimensions must be positive, got %dx%d", bins, frames)
	}
	return &Spectrogram{
		bins:   bins,
		frames: frames,
		data:   make([]float32, bins*frames),
	}, nil
}

// PushFrame copies frame into the next slot. A frame of the wrong length is
// ignored and PushFrame returns false.
func (s *Spectrogram) PushFrame(frame []float32) bool {
	if len(frame) != s.bins {
		return false
	}
	off := s.cursor * s.bins
	copy(s.data[off:off+s.bins], frame)

	s.cursor++
	if s.cursor == s.frames {
		s.cursor = 0
		s.ready = true
	}
	return true
}

// IsReady reports whether every slot has been written at least once. It
// latches on the first wrap.
func (s *Spectrogram) IsReady() bool {
	return s.ready
}

// Data returns the live ring. The slice aliases internal storage and is
// modified by the next PushFrame.
func (s *Spectrogram) Data() []float32 {
	return s.data
}

// Cursor returns the slot the next frame will overwrite.
func (s *Spectrogram) Cursor() int {
	return s.cursor
}

// Bins returns the number of values per frame.
func (s *Spectrogram) Bins() int {
	return s.bins
}

// Frames returns the number of frame slots.
func (s *Spectrogram) Frames() int {
	return s.frames
}

// Reset empties the ring and clears the ready latch.
func (s *Spectrogram) Reset() {
	clear(s.data)
	s.cursor = 0
	s.ready = false
}
