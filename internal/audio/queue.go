// SPDX-License-Identifier: MIT
package audio

import (
	"sync/atomic"

	"github.com/HSKCTA/Resonance/pkg/bitint"
)

// cacheLine is the assumed cache line size used to keep the two cursors apart.
const cacheLine = 64

// CaptureQueue is a bounded single-producer/single-consumer FIFO of float32
// samples. The capture callback is the only producer and the processing loop
// is the only consumer; neither side ever blocks or takes a lock.
//
// One slot is always left empty to tell full from empty, so a queue created
// with capacity C (rounded up to a power of two) holds at most C-1 samples.
type CaptureQueue struct {
	buf  []float32
	mask uint64

	_     [cacheLine]byte
	write atomic.Uint64 // owned by the producer
	_     [cacheLine - 8]byte
	read  atomic.Uint64 // owned by the consumer
	_     [cacheLine - 8]byte

	dropped atomic.Uint64
}

// NewCaptureQueue returns an empty queue. capacity is rounded up to the next
// power of two; values below 2 become 2.
func NewCaptureQueue(capacity int) *CaptureQueue {
	size := bitint.NextPowerOfTwo(max(capacity, 2))
	return &CaptureQueue{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Push appends sample. It returns false and leaves the queue untouched when
// the queue is full; the sample is lost and the drop counter is incremented.
// Push must only be called from the producer goroutine.
func (q *CaptureQueue) Push(sample float32) bool {
	w := q.write.Load()
	next := (w + 1) & q.mask
	if next == q.read.Load() {
		q.dropped.Add(1)
		return false
	}
	q.buf[w] = sample
	// Publishing the cursor after the payload store makes the sample visible
	// to a consumer that observes the new cursor.
	q.write.Store(next)
	return true
}

// Pop removes the oldest sample into *out. It returns false when the queue is
// empty. Pop must only be called from the consumer goroutine.
func (q *CaptureQueue) Pop(out *float32) bool {
	r := q.read.Load()
	if r == q.write.Load() {
		return false
	}
	*out = q.buf[r]
	q.read.Store((r + 1) & q.mask)
	return true
}

// Deliver implements SampleSink.
func (q *CaptureQueue) Deliver(sample float32) bool {
	return q.Push(sample)
}

// Len reports the number of queued samples. The value is a snapshot and may
// be stale by the time the caller uses it.
func (q *CaptureQueue) Len() int {
	w := q.write.Load()
	r := q.read.Load()
	return int((w - r) & q.mask)
}

// Cap returns the number of slots in the ring. Usable depth is Cap()-1.
func (q *CaptureQueue) Cap() int {
	return len(q.buf)
}

// Dropped returns the number of samples rejected because the queue was full.
func (q *CaptureQueue) Dropped() uint64 {
	return q.dropped.Load()
}
