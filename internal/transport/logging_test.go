// SPDX-License-Identifier: MIT
package transport

import (
	"bytes"
	"os"
	"strings"
	"testing"

	applog "github.com/HSKCTA/Resonance/internal/log"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	applog.SetOutput(&buf)
	t.Cleanup(func() { applog.SetOutput(os.Stderr) })
	return &buf
}

func TestLoggingTransportStatusLine(t *testing.T) {
	buf := captureLog(t)
	lt := NewLoggingTransport()

	if err := lt.Send(Status{RMS: 0.00012, Tripped: false}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := lt.Send(Status{RMS: 0.9, Tripped: true}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "RMS: 0.00012  STATUS: NORMAL") {
		t.Errorf("missing normal status line in %q", out)
	}
	if !strings.Contains(out, "RMS: 0.90000  STATUS: TRIPPED") {
		t.Errorf("missing tripped status line in %q", out)
	}
}

func TestLoggingTransportAlarm(t *testing.T) {
	buf := captureLog(t)
	lt := NewLoggingTransport()

	lt.Send(AlarmEvent{Event: EventSafetyTrip, RMS: 0.8, Threshold: 0.7})
	if !strings.Contains(buf.String(), "[SAFETY] RMS 0.80000 exceeded threshold 0.700") {
		t.Errorf("missing trip line in %q", buf.String())
	}
}

func TestLoggingTransportPublish(t *testing.T) {
	lt := NewLoggingTransport()
	for range 3 {
		if err := lt.Publish(NewMessage(1, 0, 1, 1, []float32{0})); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if got := lt.Published(); got != 3 {
		t.Errorf("Published() = %d, want 3", got)
	}
	if err := lt.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
