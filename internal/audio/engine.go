// SPDX-License-Identifier: MIT
/*
Package audio implements the capture side and the processing loop of a
sensing node:
- Lock-free sample hand-off from the capture callback (CaptureQueue)
- PortAudio and WAV file capture sources
- A single-threaded loop running filter, safety gate, spectral analysis and
  spectrogram publishing

Thread Safety:
- The capture callback only touches the producer side of the queue
- Everything else in the loop is owned by the goroutine running Run
- Counters and the reset request are atomics readable from any goroutine
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/HSKCTA/Resonance/internal/analysis"
	"github.com/HSKCTA/Resonance/internal/config"
	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/metrics"
	"github.com/HSKCTA/Resonance/internal/transport"
)

const (
	// idleSpins is how many consecutive empty polls yield before the loop
	// starts sleeping.
	idleSpins = 256
	idleSleep = time.Millisecond
)

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where spectrogram tensors go. Without it tensors are
// only counted and logged at debug level.
func WithPublisher(p transport.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithStatusSinks adds receivers of periodic Status snapshots.
func WithStatusSinks(sinks ...transport.Transport) Option {
	return func(e *Engine) { e.statusSinks = append(e.statusSinks, sinks...) }
}

// WithAlarmSinks adds receivers of safety trip and reset events.
func WithAlarmSinks(sinks ...transport.Transport) Option {
	return func(e *Engine) { e.alarmSinks = append(e.alarmSinks, sinks...) }
}

// WithFrameSink receives every new spectrum as it is computed.
func WithFrameSink(fs transport.FrameSink) Option {
	return func(e *Engine) { e.frameSink = fs }
}

// WithMetrics enables Prometheus reporting.
func WithMetrics(m *metrics.NodeMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecorder writes every raw sample taken off the queue to r.
func WithRecorder(r *Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNodeID stamps alarm events with id.
func WithNodeID(id string) Option {
	return func(e *Engine) { e.nodeID = id }
}

// Engine is the processing loop. Samples popped from the queue are filtered,
// fed to the safety gate and, while the gate is not tripped, to the spectral
// engine. Each completed hop adds a frame to the spectrogram, and once the
// spectrogram is full every new frame publishes the whole tensor.
type Engine struct {
	queue *CaptureQueue

	filter      analysis.SampleProcessor
	gate        *analysis.SafetyGate
	spectral    analysis.SpectrumProvider
	spectrogram *analysis.Spectrogram

	publisher   transport.Publisher
	statusSinks []transport.Transport
	alarmSinks  []transport.Transport
	frameSink   transport.FrameSink
	metrics     *metrics.NodeMetrics
	recorder    *Recorder

	now            func() time.Time
	nodeID         string
	includeRMS     bool
	statusInterval int

	// Loop-owned state.
	processed      uint64
	sinceStatus    int
	recordFailed   bool
	lastPublishErr uint64

	// Shared with other goroutines.
	running          atomic.Bool
	resetRequested   atomic.Bool
	tripped          atomic.Bool
	rmsBits          atomic.Uint32
	samplesProcessed atomic.Uint64
	framesPublished  atomic.Uint64
	publishErrors    atomic.Uint64
}

// NewEngine builds the DSP chain from cfg around queue.
func NewEngine(cfg *config.Config, queue *CaptureQueue, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine requires a config")
	}
	if queue == nil {
		return nil, errors.New("engine requires a capture queue")
	}

	filter, err := analysis.NewIsolationFilter(cfg.Audio.SampleRate,
		cfg.Filter.HighPassHz, cfg.Filter.LowPassHz, cfg.Filter.Q)
	if err != nil {
		return nil, fmt.Errorf("isolation filter: %w", err)
	}
	gate, err := analysis.NewSafetyGate(float32(cfg.Safety.Threshold), cfg.Safety.Window)
	if err != nil {
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	windowType, err := analysis.ParseWindowFunc(cfg.Spectral.Window)
	if err != nil {
		return nil, err
	}
	spectral, err := analysis.NewSpectralEngine(cfg.Spectral.FFTSize, cfg.Spectral.Hop, cfg.Spectral.Bins, windowType)
	if err != nil {
		return nil, fmt.Errorf("spectral engine: %w", err)
	}
	spectrogram, err := analysis.NewSpectrogram(cfg.Spectral.Bins, cfg.Spectral.Frames)
	if err != nil {
		return nil, fmt.Errorf("spectrogram: %w", err)
	}

	logSink := transport.NewLoggingTransport()
	e := &Engine{
		queue:          queue,
		filter:         filter,
		gate:           gate,
		spectral:       spectral,
		spectrogram:    spectrogram,
		statusSinks:    []transport.Transport{logSink},
		alarmSinks:     []transport.Transport{logSink},
		now:            time.Now,
		includeRMS:     cfg.Broadcast.IncludeRMS,
		statusInterval: cfg.Transport.StatusIntervalSamples,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher == nil {
		e.publisher = logSink
	}
	if e.statusInterval <= 0 {
		e.statusInterval = int(cfg.Audio.SampleRate / 10)
	}

	applog.Debugf("Engine: Filter %.0f-%.0f Hz (Q %.3f), safety %.3f over %d samples, fft %d hop %d window %v",
		cfg.Filter.HighPassHz, cfg.Filter.LowPassHz, cfg.Filter.Q, cfg.Safety.Threshold, cfg.Safety.Window,
		cfg.Spectral.FFTSize, cfg.Spectral.Hop, windowType)
	return e, nil
}

// Queue returns the queue the engine consumes.
func (e *Engine) Queue() *CaptureQueue {
	return e.queue
}

// Run consumes samples until ctx is cancelled. It pins itself to an OS
// thread for its lifetime. Run returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.running.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	applog.Infof("Engine: Processing loop started (tensor %dx%d, status every %d samples)",
		e.spectrogram.Bins(), e.spectrogram.Frames(), e.statusInterval)

	var x float32
	idle := 0
	for {
		if !e.queue.Pop(&x) {
			if ctx.Err() != nil {
				break
			}
			idle++
			if idle < idleSpins {
				runtime.Gosched()
				continue
			}
			// Quiet input still has to honour operator resets.
			e.applyPendingReset()
			time.Sleep(idleSleep)
			continue
		}
		idle = 0

		e.processSample(x)

		e.sinceStatus++
		if e.sinceStatus >= e.statusInterval {
			e.sinceStatus = 0
			e.statusTick()
		}
		// Published last so a reader that sees the count also sees every
		// effect of the samples it covers.
		e.samplesProcessed.Store(e.processed)
		if e.sinceStatus == 0 && ctx.Err() != nil {
			break
		}
	}

	applog.Infof("Engine: Processing loop stopped (%d samples, %d tensors published, %d publish errors)",
		e.samplesProcessed.Load(), e.framesPublished.Load(), e.publishErrors.Load())
	return nil
}

// processSample is the per-sample hot path.
func (e *Engine) processSample(x float32) {
	if e.recorder != nil {
		if err := e.recorder.Write(x); err != nil && !e.recordFailed {
			e.recordFailed = true
			applog.Errorf("Engine: Recording failed, further errors suppressed: %v", err)
		}
	}

	y := e.filter.Process(x)
	e.processed++

	wasTripped := e.gate.Tripped()
	e.gate.Push(y)
	if e.gate.Tripped() {
		if !wasTripped {
			e.onTrip()
		}
		return
	}

	if !e.spectral.PushSample(y) {
		return
	}

	var start time.Time
	if e.metrics != nil {
		start = time.Now()
	}
	spectrum := e.spectral.ExtractSpectrum()
	e.spectrogram.PushFrame(spectrum)
	if e.metrics != nil {
		e.metrics.ObserveSpectrum(time.Since(start))
	}
	if e.frameSink != nil {
		e.frameSink.UpdateFrame(spectrum)
	}

	if e.spectrogram.IsReady() {
		e.publish()
	}
}

func (e *Engine) publish() {
	rms := float32(-1)
	if e.includeRMS {
		rms = e.gate.RMS()
	}
	msg := transport.NewMessage(uint64(e.now().UnixMilli()), rms,
		e.spectrogram.Bins(), e.spectrogram.Frames(), e.spectrogram.Data())

	if err := e.publisher.Publish(msg); err != nil {
		n := e.publishErrors.Add(1)
		// At most one line per status interval.
		if e.lastPublishErr == 0 {
			applog.Warnf("Engine: Publish failed (%d so far): %v", n, err)
		}
		e.lastPublishErr = n
		return
	}
	e.framesPublished.Add(1)
}

func (e *Engine) onTrip() {
	rms := e.gate.RMS()
	e.tripped.Store(true)
	e.rmsBits.Store(math.Float32bits(rms))
	if e.metrics != nil {
		e.metrics.RecordTrip()
	}
	e.sendAlarm(transport.EventSafetyTrip, rms)
}

func (e *Engine) sendAlarm(event string, rms float32) {
	ev := transport.AlarmEvent{
		Event:       event,
		TimestampMs: e.now().UnixMilli(),
		RMS:         rms,
		Threshold:   e.gate.Threshold(),
		NodeID:      e.nodeID,
	}
	for _, sink := range e.alarmSinks {
		if err := sink.Send(ev); err != nil {
			applog.Warnf("Engine: Alarm %s not delivered to %T: %v", event, sink, err)
		}
	}
}

// statusTick runs every statusInterval samples.
func (e *Engine) statusTick() {
	e.applyPendingReset()
	e.rmsBits.Store(math.Float32bits(e.gate.RMS()))
	e.lastPublishErr = 0

	st := e.snapshot(e.processed)
	for _, sink := range e.statusSinks {
		if err := sink.Send(st); err != nil {
			applog.Debugf("Engine: Status not delivered to %T: %v", sink, err)
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveStatus(st)
	}
}

// RequestSafetyReset asks the loop to clear the safety latch. It is safe to
// call from any goroutine; the loop acts on it at its next status tick, or
// within a few milliseconds when the queue is empty.
func (e *Engine) RequestSafetyReset() {
	e.resetRequested.Store(true)
}

// applyPendingReset re-arms the whole analysis path so that no pre-trip
// history is published after a reset.
func (e *Engine) applyPendingReset() {
	if !e.resetRequested.Swap(false) {
		return
	}
	wasTripped := e.gate.Tripped()
	e.gate.Reset()
	e.filter.Reset()
	e.spectral.Reset()
	e.spectrogram.Reset()
	e.tripped.Store(false)
	e.rmsBits.Store(0)

	applog.Infof("Engine: Safety gate reset by operator (was tripped: %v)", wasTripped)
	if e.metrics != nil {
		e.metrics.RecordReset()
	}
	e.sendAlarm(transport.EventSafetyReset, 0)
}

// Status returns a snapshot of the loop's counters. It may be called from
// any goroutine; RMS is as of the last status tick or trip.
func (e *Engine) Status() transport.Status {
	return e.snapshot(e.samplesProcessed.Load())
}

func (e *Engine) snapshot(processed uint64) transport.Status {
	return transport.Status{
		Type:             "status",
		TimestampMs:      e.now().UnixMilli(),
		RMS:              math.Float32frombits(e.rmsBits.Load()),
		Threshold:        e.gate.Threshold(),
		Tripped:          e.tripped.Load(),
		SamplesProcessed: processed,
		FramesPublished:  e.framesPublished.Load(),
		PublishErrors:    e.publishErrors.Load(),
		QueueDepth:       e.queue.Len(),
		SamplesDropped:   e.queue.Dropped(),
	}
}

// Close releases the publisher, sinks and recorder. It must only be called
// after Run has returned.
func (e *Engine) Close() error {
	if e.running.Load() {
		return errors.New("engine still running")
	}

	var errs []error
	seen := make(map[any]bool)
	closeOnce := func(c io.Closer) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	closeOnce(e.publisher)
	for _, s := range e.statusSinks {
		closeOnce(s)
	}
	for _, s := range e.alarmSinks {
		closeOnce(s)
	}
	if c, ok := e.frameSink.(io.Closer); ok {
		closeOnce(c)
	}
	if e.recorder != nil {
		closeOnce(e.recorder)
	}
	return errors.Join(errs...)
}
