// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	applog "github.com/HSKCTA/Resonance/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavChunkSamples is the decode buffer size in interleaved samples.
const wavChunkSamples = 16384

// WAVOptions controls how a WAV file is replayed.
type WAVOptions struct {
	// Realtime paces delivery at the file's sample rate, one buffer of
	// FramesPerBuffer samples at a time. Samples the sink rejects are lost,
	// exactly as with a live device. When false the source delivers as fast
	// as the sink accepts and waits for room instead of dropping.
	Realtime        bool
	FramesPerBuffer int
	// Loop restarts from the beginning at end of file.
	Loop bool
}

// capacityReporter is implemented by sinks that can report free space.
type capacityReporter interface {
	Len() int
	Cap() int
}

// WAVSource replays channel 0 of a PCM WAV file into a SampleSink.
type WAVSource struct {
	path       string
	sampleRate int
	samples    []float32
	sink       SampleSink
	opts       WAVOptions

	delivered atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewWAVSource decodes path into memory. The file's sample rate must equal
// sampleRate; no resampling is done.
func NewWAVSource(path string, sampleRate float64, sink SampleSink, opts WAVOptions) (*WAVSource, error) {
	if sink == nil {
		return nil, errors.New("wav source requires a sample sink")
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 256
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	samples, rate, err := decodeWAV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if float64(rate) != sampleRate {
		return nil, fmt.Errorf("%s: sample rate %d Hz does not match configured %.0f Hz", path, rate, sampleRate)
	}

	applog.Infof("Audio: Loaded %s (%d samples, %.2fs at %d Hz)", path, len(samples),
		float64(len(samples))/float64(rate), rate)

	return &WAVSource{
		path:       path,
		sampleRate: rate,
		samples:    samples,
		sink:       sink,
		opts:       opts,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// decodeWAV reads channel 0 of the file as float32 in [-1, 1).
func decodeWAV(file *os.File) ([]float32, int, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file format")
	}
	if decoder.NumChans < 1 {
		return nil, 0, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}

	divisor, err := pcmDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, err
	}
	channels := int(decoder.NumChans)

	buf := &audio.IntBuffer{
		Data:   make([]int, wavChunkSamples*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}

	var samples []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			break
		}
		for i := 0; i+channels <= n; i += channels {
			samples = append(samples, float32(buf.Data[i])/divisor)
		}
	}
	if len(samples) == 0 {
		return nil, 0, errors.New("no audio data")
	}
	return samples, int(decoder.SampleRate), nil
}

// pcmDivisor returns the full-scale value for a PCM bit depth.
func pcmDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16, 24, 32:
		return float32(math.Pow(2, float64(bitDepth-1))), nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// Start begins delivering samples on a background goroutine.
func (s *WAVSource) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("wav source already started")
	}
	go s.run()
	return nil
}

func (s *WAVSource) run() {
	defer close(s.done)
	for {
		var ok bool
		if s.opts.Realtime {
			ok = s.replayRealtime()
		} else {
			ok = s.replayUnpaced()
		}
		if !ok {
			return
		}
		if !s.opts.Loop {
			applog.Infof("Audio: Finished replaying %s (%d samples delivered)", s.path, s.delivered.Load())
			return
		}
	}
}

// replayRealtime returns false when stopped.
func (s *WAVSource) replayRealtime() bool {
	chunk := s.opts.FramesPerBuffer
	period := time.Duration(float64(chunk) / float64(s.sampleRate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for off := 0; off < len(s.samples); off += chunk {
		end := min(off+chunk, len(s.samples))
		for _, x := range s.samples[off:end] {
			if s.sink.Deliver(x) {
				s.delivered.Add(1)
			}
		}
		select {
		case <-s.stop:
			return false
		case <-ticker.C:
		}
	}
	return true
}

// replayUnpaced returns false when stopped.
func (s *WAVSource) replayUnpaced() bool {
	reporter, _ := s.sink.(capacityReporter)
	for i, x := range s.samples {
		if i%1024 == 0 {
			select {
			case <-s.stop:
				return false
			default:
			}
		}
		if reporter != nil {
			for reporter.Len() >= reporter.Cap()-1 {
				select {
				case <-s.stop:
					return false
				default:
				}
				runtime.Gosched()
			}
		}
		if s.sink.Deliver(x) {
			s.delivered.Add(1)
		}
	}
	return true
}

// Done is closed once replay has finished or the source was stopped.
func (s *WAVSource) Done() <-chan struct{} {
	return s.done
}

// Len returns the number of samples in one pass over the file.
func (s *WAVSource) Len() int {
	return len(s.samples)
}

// Delivered returns the number of samples the sink accepted.
func (s *WAVSource) Delivered() uint64 {
	return s.delivered.Load()
}

// Stop ends replay and waits for the goroutine to exit.
func (s *WAVSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
	return nil
}

// Close is equivalent to Stop.
func (s *WAVSource) Close() error {
	return s.Stop()
}

var _ Source = (*WAVSource)(nil)
