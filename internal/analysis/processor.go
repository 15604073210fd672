// SPDX-License-Identifier: MIT
package analysis

// SampleProcessor transforms one sample at a time. Implementations are
// called from the processing loop for every captured sample and must not
// allocate or block.
type SampleProcessor interface {
	Process(x float32) float32
	Reset()
}

// SpectrumProvider turns a sample stream into fixed-length spectra at a
// fixed hop.
type SpectrumProvider interface {
	PushSample(x float32) bool  // PushSample returns true when a new spectrum is due.
	ExtractSpectrum() []float32 // ExtractSpectrum returns a buffer owned by the provider.
	Bins() int                  // Bins returns the length of each spectrum.
	Reset()                     // Reset clears the sample history.
}

// Compile-time checks for interface implementations.
var (
	_ SampleProcessor  = (*Biquad)(nil)
	_ SampleProcessor  = (*FilterChain)(nil)
	_ SpectrumProvider = (*SpectralEngine)(nil)
)
