// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"github.com/HSKCTA/Resonance/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 44100.0

func TestBiquadDifferenceEquation(t *testing.T) {
	// With b0=1 and everything else zero the section is a pass-through.
	b := NewBiquad(1, 0, 0, 0, 0)
	for _, x := range []float32{0.5, -1, 2} {
		assert.Equal(t, x, b.Process(x))
	}

	// One-sample delay: y[n] = x[n-1].
	d := NewBiquad(0, 1, 0, 0, 0)
	assert.Equal(t, float32(0), d.Process(3))
	assert.Equal(t, float32(3), d.Process(4))
	assert.Equal(t, float32(4), d.Process(0))

	d.Reset()
	assert.Equal(t, float32(0), d.Process(7), "reset must clear the delay line")
}

func TestDesignRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		sr     float64
		cutoff float64
		q      float64
	}{
		{"zero cutoff", testSampleRate, 0, 0.707},
		{"at nyquist", testSampleRate, testSampleRate / 2, 0.707},
		{"zero q", testSampleRate, 1000, 0},
		{"zero sample rate", 0, 1000, 0.707},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHighPass(tt.sr, tt.cutoff, tt.q)
			assert.Error(t, err)
			_, err = NewLowPass(tt.sr, tt.cutoff, tt.q)
			assert.Error(t, err)
		})
	}

	_, err := NewIsolationFilter(testSampleRate, 12000, 150, 0.707)
	assert.Error(t, err, "inverted band must be rejected")
}

func TestDesignCoefficientShape(t *testing.T) {
	hp, err := NewHighPass(testSampleRate, 150, 0.707)
	require.NoError(t, err)
	b0, b1, b2, a1, a2 := hp.Coefficients()
	assert.Equal(t, b0, b2)
	assert.InDelta(t, -2*b0, b1, 1e-6)
	assert.InDelta(t, 0, b0+b1+b2, 1e-6, "high-pass has a zero at DC")

	lp, err := NewLowPass(testSampleRate, 12000, 0.707)
	require.NoError(t, err)
	b0, b1, b2, a1, a2 = lp.Coefficients()
	assert.Equal(t, b0, b2)
	assert.InDelta(t, 2*b0, b1, 1e-6)
	assert.InDelta(t, 1, (b0+b1+b2)/(1+a1+a2), 1e-4, "low-pass has unity gain at DC")
}

func TestHighPassRemovesDC(t *testing.T) {
	chain, err := NewIsolationFilter(testSampleRate, 150, 12000, 0.707)
	require.NoError(t, err)

	var y float32
	for range 44100 {
		y = chain.Process(1.0)
	}
	assert.Less(t, math.Abs(float64(y)), 1e-3, "DC should decay towards zero, got %v", y)
}

func TestLowPassAttenuatesHighFrequencies(t *testing.T) {
	measure := func(freq float64) float64 {
		chain, err := NewIsolationFilter(testSampleRate, 150, 12000, 0.707)
		require.NoError(t, err)
		in := utils.GenerateSineWave(freq, testSampleRate, 1.0, 8192)
		var sumSq float64
		for i, x := range in {
			y := chain.Process(x)
			if i >= 4096 { // skip the transient
				sumSq += float64(y) * float64(y)
			}
		}
		return math.Sqrt(sumSq / 4096)
	}

	pass := measure(1000)
	stop := measure(20000)

	assert.InDelta(t, 1/math.Sqrt2, pass, 0.05, "1 kHz should pass almost unchanged")
	assert.Less(t, stop/pass, 0.5, "20 kHz should be attenuated (pass=%v stop=%v)", pass, stop)
}

func TestFilterChainResetMatchesFreshChain(t *testing.T) {
	a, err := NewIsolationFilter(testSampleRate, 150, 12000, 0.707)
	require.NoError(t, err)
	b, err := NewIsolationFilter(testSampleRate, 150, 12000, 0.707)
	require.NoError(t, err)

	for range 100 {
		a.Process(0.9)
	}
	a.Reset()

	in := utils.GenerateSineWave(440, testSampleRate, 0.5, 256)
	for _, x := range in {
		require.Equal(t, b.Process(x), a.Process(x))
	}
	assert.Equal(t, 2, a.Len())
}

func TestFilterChainHotPathAllocs(t *testing.T) {
	chain, err := NewIsolationFilter(testSampleRate, 150, 12000, 0.707)
	require.NoError(t, err)
	in := utils.GenerateSineWave(440, testSampleRate, 0.5, 1024)

	allocs := testing.AllocsPerRun(100, func() {
		for _, x := range in {
			chain.Process(x)
		}
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in filter hot path, got %.1f", allocs)
	}
}

func BenchmarkFilterChain(b *testing.B) {
	chain, _ := NewIsolationFilter(testSampleRate, 150, 12000, 0.707)
	in := utils.GenerateSineWave(440, testSampleRate, 0.5, 256)
	for b.Loop() {
		for _, x := range in {
			chain.Process(x)
		}
	}
}
