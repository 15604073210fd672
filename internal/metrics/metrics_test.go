// SPDX-License-Identifier: MIT
package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/HSKCTA/Resonance/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestMetrics(t *testing.T) *NodeMetrics {
	t.Helper()
	m, err := NewNodeMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestObserveStatusAddsDeltas(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveStatus(transport.Status{SamplesProcessed: 100, FramesPublished: 2, QueueDepth: 7, RMS: 0.25})
	m.ObserveStatus(transport.Status{SamplesProcessed: 250, FramesPublished: 5, PublishErrors: 1, SamplesDropped: 3, QueueDepth: 1, RMS: 0.5, Tripped: true})

	assert.Equal(t, 250.0, testutil.ToFloat64(m.samplesProcessed))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.framesPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.samplesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.rms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tripped))
}

func TestObserveStatusIgnoresCounterRestart(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveStatus(transport.Status{SamplesProcessed: 100})
	m.ObserveStatus(transport.Status{SamplesProcessed: 40})
	assert.Equal(t, 100.0, testutil.ToFloat64(m.samplesProcessed))
}

func TestTripAndReset(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTrip()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.safetyTrips))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tripped))

	m.RecordReset()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.safetyResets))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tripped))
}

func TestObserveSpectrum(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveSpectrum(50 * time.Microsecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.spectrumDuration))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewNodeMetrics(reg)
	require.NoError(t, err)
	_, err = NewNodeMetrics(reg)
	assert.Error(t, err)
}

func TestServeExposesMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))

	m := newTestMetrics(t)
	m.ObserveStatus(transport.Status{SamplesProcessed: 42})

	srv, err := Serve("127.0.0.1:0", m)
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "resonance_samples_processed_total 42"), string(body))

	require.NoError(t, srv.Close())
}
