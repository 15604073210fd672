// SPDX-License-Identifier: MIT
package audio

// SampleSink accepts one sample at a time from a capture source. Deliver
// must not block; it returns false when the sample was dropped.
type SampleSink interface {
	Deliver(sample float32) bool
}

// Source produces samples into a SampleSink until stopped.
type Source interface {
	Start() error
	Stop() error
	Close() error
}

var _ SampleSink = (*CaptureQueue)(nil)
