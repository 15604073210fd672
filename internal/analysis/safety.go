// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
)

// SafetyGate tracks the RMS of the last Window filtered samples and latches
// once that RMS exceeds Threshold. Once tripped it stays tripped until Reset
// is called explicitly; nothing in the processing path resets it.
type SafetyGate struct {
	threshold float32
	window    []float32 // circular history of the last len(window) samples
	pos       int
	sumSq     float32
	tripped   bool
}

// NewSafetyGate returns an untripped gate with an all-zero history.
func NewSafetyGate(threshold float32, window int) (*SafetyGate, error) {
	if threshold <= 0 || math.IsNaN(float64(threshold)) {
		return nil, fmt.Errorf("safety threshold must be positive, got %v", threshold)
	}
	if window <= 0 {
		return nil, fmt.Errorf("safety window must be positive, got %d", window)
	}
	return &SafetyGate{
		threshold: threshold,
		window:    make([]float32, window),
	}, nil
}

// Push adds one sample to the window and latches the gate if the RMS over
// the window is now above the threshold.
func (g *SafetyGate) Push(x float32) {
	old := g.window[g.pos]
	g.sumSq += x*x - old*old
	// Float drift can take the running sum slightly negative.
	if g.sumSq < 0 {
		g.sumSq = 0
	}
	g.window[g.pos] = x
	g.pos++
	if g.pos == len(g.window) {
		g.pos = 0
	}

	if !g.tripped && g.RMS() > g.threshold {
		g.tripped = true
	}
}

// RMS returns sqrt(sum of squares / window) over the current history.
func (g *SafetyGate) RMS() float32 {
	return float32(math.Sqrt(float64(g.sumSq / float32(len(g.window)))))
}

// Tripped reports whether the gate has latched.
func (g *SafetyGate) Tripped() bool {
	return g.tripped
}

// Threshold returns the configured trip level.
func (g *SafetyGate) Threshold() float32 {
	return g.threshold
}

// Window returns the number of samples in the RMS window.
func (g *SafetyGate) Window() int {
	return len(g.window)
}

// Reset clears the latch and the sample history. It is an operator action
// and is never called by the gate itself.
func (g *SafetyGate) Reset() {
	clear(g.window)
	g.pos = 0
	g.sumSq = 0
	g.tripped = false
}
