// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "BartlettHann"
	case Blackman:
		return "Blackman"
	case BlackmanNuttall:
		return "BlackmanNuttall"
	case Hann:
		return "Hann"
	case Hamming:
		return "Hamming"
	case Lanczos:
		return "Lanczos"
	case Nuttall:
		return "Nuttall"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// logFloor keeps log10 finite for silent bins.
const logFloor = 1e-12

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	ring      []float32    // Circular history of the last size samples.
	input     []float64    // Buffer for windowed input signal (float64).
	fftOutput []complex128 // Buffer for FFT complex results.
	window    []float64    // Pre-calculated window coefficients.
	spectrum  []float32    // Log-magnitude output, bins 1..K.
}

// SpectralEngine keeps a sliding window of the most recent samples and turns
// it into a log-magnitude spectrum on demand. PushSample tells the caller
// when a hop's worth of new samples has arrived.
//
// It is owned by the processing loop and is not safe for concurrent use.
type SpectralEngine struct {
	fftCalculator *fourier.FFT // Reusable FFT calculator instance.
	size          int          // Analysis window length (power of 2).
	hop           int          // Samples between analyses.
	bins          int          // Output bins per spectrum.
	windowType    WindowFunc

	cursor    int // next ring slot to write; also the oldest sample
	sinceLast int // samples pushed since the last hop boundary
	workspace fftWorkspace
}

// NewSpectralEngine validates the geometry and pre-allocates every buffer
// used by ExtractSpectrum.
func NewSpectralEngine(size, hop, bins int, windowType WindowFunc) (*SpectralEngine, error) {
	if !bitint.IsPowerOfTwo(size) || size < 2 {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", size)
	}
	if hop < 1 || hop > size {
		return nil, fmt.Errorf("hop must be in [1, %d], got %d", size, hop)
	}
	if bins < 1 || bins > size/2 {
		return nil, fmt.Errorf("bins must be in [1, %d], got %d", size/2, bins)
	}

	windowCoeffs := make([]float64, size)
	applyWindow(windowCoeffs, windowType)

	applog.Debugf("Analysis: Initializing SpectralEngine (Size: %d, Hop: %d, Bins: %d, Window: %v)",
		size, hop, bins, windowType)

	return &SpectralEngine{
		fftCalculator: fourier.NewFFT(size),
		size:          size,
		hop:           hop,
		bins:          bins,
		windowType:    windowType,
		workspace: fftWorkspace{
			ring:      make([]float32, size),
			input:     make([]float64, size),
			fftOutput: make([]complex128, size/2+1),
			window:    windowCoeffs,
			spectrum:  make([]float32, bins),
		},
	}, nil
}

// PushSample appends x to the window. It returns true on every hop-th call,
// which is when the caller should extract a new spectrum.
func (e *SpectralEngine) PushSample(x float32) bool {
	e.workspace.ring[e.cursor] = x
	e.cursor++
	if e.cursor == e.size {
		e.cursor = 0
	}
	e.sinceLast++
	if e.sinceLast >= e.hop {
		e.sinceLast = 0
		return true
	}
	return false
}

// ExtractSpectrum windows the current history in time order, runs a real
// FFT and returns log10(|X[k]|+1e-12) for k = 1..bins. The DC bin is
// dropped. Before size samples have been pushed the missing history is
// zero.
//
// The returned slice is owned by the engine and overwritten by the next call.
func (e *SpectralEngine) ExtractSpectrum() []float32 {
	ws := &e.workspace

	// The oldest sample sits at the write cursor.
	for i := range e.size {
		idx := e.cursor + i
		if idx >= e.size {
			idx -= e.size
		}
		ws.input[i] = float64(ws.ring[idx]) * ws.window[i]
	}

	e.fftCalculator.Coefficients(ws.fftOutput, ws.input)

	for i := range e.bins {
		ws.spectrum[i] = float32(math.Log10(cmplx.Abs(ws.fftOutput[i+1]) + logFloor))
	}
	return ws.spectrum
}

// Reset clears the sample history and the hop counter.
func (e *SpectralEngine) Reset() {
	clear(e.workspace.ring)
	e.cursor = 0
	e.sinceLast = 0
}

// Size returns the analysis window length.
func (e *SpectralEngine) Size() int { return e.size }

// Hop returns the number of samples between analyses.
func (e *SpectralEngine) Hop() int { return e.hop }

// Bins returns the number of values in each spectrum.
func (e *SpectralEngine) Bins() int { return e.bins }

// Window returns the configured window function.
func (e *SpectralEngine) Window() WindowFunc { return e.windowType }

// FrequencyForBin returns the centre frequency (Hz) of spectrum index i,
// which is FFT bin i+1. Out of range indices return 0.
func (e *SpectralEngine) FrequencyForBin(i int, sampleRate float64) float64 {
	if i < 0 || i >= e.bins {
		return 0
	}
	return float64(i+1) * sampleRate / float64(e.size)
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. Unknown types fall back
// to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// gonum windows scale the slice in place, so start from all ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
