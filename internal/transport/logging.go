// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	applog "github.com/HSKCTA/Resonance/internal/log"
)

// LoggingTransport writes status snapshots and alarms to the log. It also
// serves as a dry-run Publisher when broadcasting is disabled.
type LoggingTransport struct {
	published atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Debugf("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data. Status snapshots produce the throttled RMS
// status line; alarms are logged at WARN.
func (lt *LoggingTransport) Send(data any) error {
	switch v := data.(type) {
	case Status:
		applog.Infof("RMS: %.5f  STATUS: %s  (queue %d, dropped %d, published %d)",
			v.RMS, v.StatusLabel(), v.QueueDepth, v.SamplesDropped, v.FramesPublished)
	case AlarmEvent:
		switch v.Event {
		case EventSafetyTrip:
			applog.Warnf("[SAFETY] RMS %.5f exceeded threshold %.3f, spectral path bypassed", v.RMS, v.Threshold)
		case EventSafetyReset:
			applog.Warnf("[SAFETY] Gate reset by operator, spectral path resumed")
		default:
			applog.Warnf("[SAFETY] %s (rms %.5f)", v.Event, v.RMS)
		}
	default:
		applog.Debugf("LoggingTransport: Received (%T): %+v", data, data)
	}
	return nil // Logging transport never fails to "send"
}

// Publish counts the message and logs its shape at debug level.
func (lt *LoggingTransport) Publish(msg Message) error {
	n := lt.published.Add(1)
	applog.Debugf("LoggingTransport: Message %d (%dx%d, ts %d)", n, msg.Header.Bins, msg.Header.Frames, msg.Header.TimestampMs)
	return nil
}

// Published returns the number of messages passed to Publish.
func (lt *LoggingTransport) Published() uint64 {
	return lt.published.Load()
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("LoggingTransport: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interfaces at compile time.
var (
	_ Transport = (*LoggingTransport)(nil)
	_ Publisher = (*LoggingTransport)(nil)
)
