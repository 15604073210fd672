// SPDX-License-Identifier: MIT
package transport

// Publisher broadcasts spectrogram messages to downstream consumers.
// Publishing is best-effort: an error means this message was not handed to
// the transport and is only reported, never retried.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// Transport defines a generic interface for sending status snapshots and
// alarm events. Implementations should be thread-safe and must not block
// the caller for long; the processing loop calls Send directly.
type Transport interface {
	Send(data any) error
	Close() error
}

// FrameSink receives the most recent spectral frame. UpdateFrame must copy
// the frame; the caller reuses the slice.
type FrameSink interface {
	UpdateFrame(frame []float32)
}

// Status is a periodic snapshot of the processing loop.
type Status struct {
	Type             string  `json:"type"` // always "status"
	TimestampMs      int64   `json:"timestamp_ms"`
	RMS              float32 `json:"rms"`
	Threshold        float32 `json:"threshold"`
	Tripped          bool    `json:"tripped"`
	SamplesProcessed uint64  `json:"samples_processed"`
	FramesPublished  uint64  `json:"frames_published"`
	PublishErrors    uint64  `json:"publish_errors"`
	QueueDepth       int     `json:"queue_depth"`
	SamplesDropped   uint64  `json:"samples_dropped"`
}

// StatusLabel returns "TRIPPED" or "NORMAL".
func (s Status) StatusLabel() string {
	if s.Tripped {
		return "TRIPPED"
	}
	return "NORMAL"
}

// Alarm event names.
const (
	EventSafetyTrip  = "safety_trip"
	EventSafetyReset = "safety_reset"
)

// AlarmEvent reports a change of the safety latch.
type AlarmEvent struct {
	Event       string  `json:"event"`
	TimestampMs int64   `json:"timestamp_ms"`
	RMS         float32 `json:"rms"`
	Threshold   float32 `json:"threshold"`
	NodeID      string  `json:"node_id,omitempty"`
}
