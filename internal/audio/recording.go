// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	applog "github.com/HSKCTA/Resonance/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// recordBufferSamples is how many samples are batched per encoder write.
const recordBufferSamples = 4096

// Recorder writes raw mono capture to a WAV file. It is owned by the
// processing loop and is not safe for concurrent use.
type Recorder struct {
	path    string
	file    *os.File
	encoder *wav.Encoder
	buf     *audio.IntBuffer
	fill    int
	scale   float64
	samples uint64
	closed  bool
}

// NewRecorder creates dir if needed and opens a timestamped WAV file in it.
func NewRecorder(dir string, sampleRate, bitDepth int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	name := fmt.Sprintf("resonance-%s.wav", time.Now().Format("20060102-150405.000"))
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	applog.Infof("Recorder: Writing %d-bit mono WAV to %s", bitDepth, path)
	return &Recorder{
		path:    path,
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, bitDepth, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, recordBufferSamples),
			SourceBitDepth: bitDepth,
		},
		scale: math.Pow(2, float64(bitDepth-1)) - 1,
	}, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// Samples returns the number of samples accepted so far.
func (r *Recorder) Samples() uint64 {
	return r.samples
}

// Write appends one sample, clipping to full scale. The encoder is only
// called when the internal buffer fills.
func (r *Recorder) Write(sample float32) error {
	if r.closed {
		return os.ErrClosed
	}
	v := float64(sample)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	r.buf.Data[r.fill] = int(math.Round(v * r.scale))
	r.fill++
	r.samples++
	if r.fill == len(r.buf.Data) {
		return r.flush()
	}
	return nil
}

func (r *Recorder) flush() error {
	if r.fill == 0 {
		return nil
	}
	full := r.buf.Data
	r.buf.Data = full[:r.fill]
	err := r.encoder.Write(r.buf)
	r.buf.Data = full
	r.fill = 0
	if err != nil {
		return fmt.Errorf("error writing to WAV file: %w", err)
	}
	return nil
}

// Close flushes buffered samples and finalises the WAV header.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	errs := []error{r.flush()}
	errs = append(errs, r.encoder.Close())
	errs = append(errs, r.file.Close())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	applog.Infof("Recorder: Closed %s (%d samples)", r.path, r.samples)
	return nil
}
