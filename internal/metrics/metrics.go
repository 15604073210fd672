// SPDX-License-Identifier: MIT

// Package metrics exposes the node's counters and gauges to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resonance"

// NodeMetrics holds the Prometheus collectors for one sensing node. The
// processing loop feeds it through ObserveStatus at status cadence, so no
// collector is touched per sample.
type NodeMetrics struct {
	registry *prometheus.Registry

	samplesProcessed prometheus.Counter
	samplesDropped   prometheus.Counter
	framesPublished  prometheus.Counter
	publishErrors    prometheus.Counter
	safetyTrips      prometheus.Counter
	safetyResets     prometheus.Counter

	queueDepth prometheus.Gauge
	rms        prometheus.Gauge
	tripped    prometheus.Gauge

	spectrumDuration prometheus.Histogram

	mu   sync.Mutex
	last transport.Status
}

// NewNodeMetrics creates the collectors and registers them with registry.
func NewNodeMetrics(registry *prometheus.Registry) (*NodeMetrics, error) {
	m := &NodeMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *NodeMetrics) initMetrics() {
	m.samplesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_processed_total",
		Help:      "Total number of samples taken off the capture queue",
	})
	m.samplesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_dropped_total",
		Help:      "Total number of samples dropped because the capture queue was full",
	})
	m.framesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tensors_published_total",
		Help:      "Total number of spectrogram tensors published",
	})
	m.publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_errors_total",
		Help:      "Total number of failed tensor publishes",
	})
	m.safetyTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "safety_trips_total",
		Help:      "Total number of times the safety gate latched",
	})
	m.safetyResets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "safety_resets_total",
		Help:      "Total number of operator safety resets",
	})

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capture_queue_depth",
		Help:      "Samples waiting in the capture queue",
	})
	m.rms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "safety_rms",
		Help:      "Windowed RMS of the filtered signal",
	})
	m.tripped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "safety_tripped",
		Help:      "1 while the safety gate is latched, 0 otherwise",
	})

	m.spectrumDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "spectrum_duration_seconds",
		Help:      "Time taken to compute one spectrum",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~20ms
	})
}

// Describe implements prometheus.Collector.
func (m *NodeMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.samplesProcessed.Describe(ch)
	m.samplesDropped.Describe(ch)
	m.framesPublished.Describe(ch)
	m.publishErrors.Describe(ch)
	m.safetyTrips.Describe(ch)
	m.safetyResets.Describe(ch)
	m.queueDepth.Describe(ch)
	m.rms.Describe(ch)
	m.tripped.Describe(ch)
	m.spectrumDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *NodeMetrics) Collect(ch chan<- prometheus.Metric) {
	m.samplesProcessed.Collect(ch)
	m.samplesDropped.Collect(ch)
	m.framesPublished.Collect(ch)
	m.publishErrors.Collect(ch)
	m.safetyTrips.Collect(ch)
	m.safetyResets.Collect(ch)
	m.queueDepth.Collect(ch)
	m.rms.Collect(ch)
	m.tripped.Collect(ch)
	m.spectrumDuration.Collect(ch)
}

// ObserveStatus updates every collector from a status snapshot. The
// snapshot's counters are cumulative; only the growth since the previous
// call is added.
func (m *NodeMetrics) ObserveStatus(st transport.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samplesProcessed.Add(delta(st.SamplesProcessed, m.last.SamplesProcessed))
	m.samplesDropped.Add(delta(st.SamplesDropped, m.last.SamplesDropped))
	m.framesPublished.Add(delta(st.FramesPublished, m.last.FramesPublished))
	m.publishErrors.Add(delta(st.PublishErrors, m.last.PublishErrors))

	m.queueDepth.Set(float64(st.QueueDepth))
	m.rms.Set(float64(st.RMS))
	if st.Tripped {
		m.tripped.Set(1)
	} else {
		m.tripped.Set(0)
	}
	m.last = st
}

func delta(now, prev uint64) float64 {
	if now < prev {
		return 0
	}
	return float64(now - prev)
}

// RecordTrip counts a safety trip.
func (m *NodeMetrics) RecordTrip() {
	m.safetyTrips.Inc()
	m.tripped.Set(1)
}

// RecordReset counts an operator reset.
func (m *NodeMetrics) RecordReset() {
	m.safetyResets.Inc()
	m.tripped.Set(0)
}

// ObserveSpectrum records how long one spectrum took to compute.
func (m *NodeMetrics) ObserveSpectrum(d time.Duration) {
	m.spectrumDuration.Observe(d.Seconds())
}

// Handler returns an HTTP handler serving the registry in the text format.
func (m *NodeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics for a NodeMetrics.
type Server struct {
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// Serve starts an HTTP server on addr exposing m at /metrics.
func Serve(addr string, m *NodeMetrics) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	s := &Server{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		applog.Infof("Metrics: Serving Prometheus metrics on http://%s/metrics", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("Metrics: Server error: %v", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close shuts the server down, waiting briefly for in-flight scrapes.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}
