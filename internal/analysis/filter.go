// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"

	applog "github.com/HSKCTA/Resonance/internal/log"
)

// Biquad is a second-order IIR section in transposed direct form II. The
// coefficients are normalised by a0 at design time, so the difference
// equation is
//
//	y  = b0*x + z1
//	z1 = b1*x - a1*y + z2
//	z2 = b2*x - a2*y
type Biquad struct {
	b0, b1, b2 float32
	a1, a2     float32
	z1, z2     float32
}

// NewBiquad returns a section with the given normalised coefficients and zero state.
func NewBiquad(b0, b1, b2, a1, a2 float32) *Biquad {
	return &Biquad{b0: b0, b1: b1, b2: b2, a1: a1, a2: a2}
}

// NewHighPass designs an RBJ cookbook high-pass section.
func NewHighPass(sampleRate, cutoff, q float64) (*Biquad, error) {
	cosW, alpha, err := rbjPrewarp(sampleRate, cutoff, q)
	if err != nil {
		return nil, fmt.Errorf("high-pass: %w", err)
	}
	a0 := 1 + alpha
	return &Biquad{
		b0: float32((1 + cosW) / 2 / a0),
		b1: float32(-(1 + cosW) / a0),
		b2: float32((1 + cosW) / 2 / a0),
		a1: float32(-2 * cosW / a0),
		a2: float32((1 - alpha) / a0),
	}, nil
}

// NewLowPass designs an RBJ cookbook low-pass section.
func NewLowPass(sampleRate, cutoff, q float64) (*Biquad, error) {
	cosW, alpha, err := rbjPrewarp(sampleRate, cutoff, q)
	if err != nil {
		return nil, fmt.Errorf("low-pass: %w", err)
	}
	a0 := 1 + alpha
	return &Biquad{
		b0: float32((1 - cosW) / 2 / a0),
		b1: float32((1 - cosW) / a0),
		b2: float32((1 - cosW) / 2 / a0),
		a1: float32(-2 * cosW / a0),
		a2: float32((1 - alpha) / a0),
	}, nil
}

func rbjPrewarp(sampleRate, cutoff, q float64) (cosW, alpha float64, err error) {
	if sampleRate <= 0 {
		return 0, 0, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if cutoff <= 0 || cutoff >= sampleRate/2 {
		return 0, 0, fmt.Errorf("cutoff %g Hz must be in (0, %g)", cutoff, sampleRate/2)
	}
	if q <= 0 {
		return 0, 0, fmt.Errorf("q must be positive, got %g", q)
	}
	w0 := 2 * math.Pi * cutoff / sampleRate
	return math.Cos(w0), math.Sin(w0) / (2 * q), nil
}

// Process filters one sample.
func (b *Biquad) Process(x float32) float32 {
	y := b.b0*x + b.z1
	b.z1 = b.b1*x - b.a1*y + b.z2
	b.z2 = b.b2*x - b.a2*y
	return y
}

// Reset clears the delay line.
func (b *Biquad) Reset() {
	b.z1, b.z2 = 0, 0
}

// Coefficients returns b0, b1, b2, a1, a2.
func (b *Biquad) Coefficients() (b0, b1, b2, a1, a2 float32) {
	return b.b0, b.b1, b.b2, b.a1, b.a2
}

// FilterChain runs samples through its stages in order. It is owned by the
// processing loop and is not safe for concurrent use.
type FilterChain struct {
	stages []*Biquad
}

// NewFilterChain returns a chain of the given stages, applied first to last.
func NewFilterChain(stages ...*Biquad) *FilterChain {
	return &FilterChain{stages: stages}
}

// NewIsolationFilter builds the high-pass then low-pass band used to isolate
// the signal of interest from DC, rumble, and ultrasonic noise.
func NewIsolationFilter(sampleRate, highPassHz, lowPassHz, q float64) (*FilterChain, error) {
	if highPassHz >= lowPassHz {
		return nil, fmt.Errorf("high-pass cutoff %g Hz must be below low-pass cutoff %g Hz", highPassHz, lowPassHz)
	}
	hp, err := NewHighPass(sampleRate, highPassHz, q)
	if err != nil {
		return nil, err
	}
	lp, err := NewLowPass(sampleRate, lowPassHz, q)
	if err != nil {
		return nil, err
	}
	chain := NewFilterChain(hp, lp)
	for i, stage := range chain.stages {
		b0, b1, b2, a1, a2 := stage.Coefficients()
		applog.Debugf("Analysis: Isolation stage %d b=[%.6g %.6g %.6g] a=[1 %.6g %.6g]", i, b0, b1, b2, a1, a2)
	}
	return chain, nil
}

// Process filters one sample through every stage.
func (c *FilterChain) Process(x float32) float32 {
	for _, s := range c.stages {
		x = s.Process(x)
	}
	return x
}

// Reset clears the state of every stage.
func (c *FilterChain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// Len returns the number of stages.
func (c *FilterChain) Len() int {
	return len(c.stages)
}
