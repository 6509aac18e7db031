package dsp

import (
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyzer pre-computes and caches the expensive spectrum resources. It
// stores a Hamming window, a scratch buffer and an FFT instance that are
// reused across calls, which matters when a capture loop summarizes
// every buffer it drains.
type Analyzer struct {
	mu        sync.RWMutex
	window    []float64
	windowSum float64
	scratch   []complex128
	size      int
	fft       *fourier.CmplxFFT
}

// NewAnalyzer creates an analyzer for the given FFT size.
func NewAnalyzer(size int) *Analyzer {
	window, sum := Hamming(size)
	return &Analyzer{
		window:    window,
		windowSum: sum,
		size:      size,
		fft:       fourier.NewCmplxFFT(size),
	}
}

// Spectrum computes the DC-centered spectrum and its dBFS magnitudes
// using the cached window and FFT instance. Inputs of a different length
// fall back to the uncached path.
func (a *Analyzer) Spectrum(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}

	a.mu.Lock()
	if len(samples) != a.size {
		a.mu.Unlock()
		return SpectrumDBFS(samples)
	}
	a.scratch = ApplyWindow(a.scratch, samples, a.window)
	fft := a.fft.Coefficients(nil, a.scratch)
	sum := a.windowSum
	a.mu.Unlock()

	for i := range fft {
		fft[i] /= complex(sum, 0)
	}

	shifted := FFTShift(fft)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = -math.Inf(1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag)
	}
	return shifted, dbfs
}

// UpdateSize recreates cached resources for a new FFT size.
func (a *Analyzer) UpdateSize(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.size = size
	a.window, a.windowSum = Hamming(size)
	a.scratch = nil
	a.fft = fourier.NewCmplxFFT(size)
}

// Size returns the current FFT size for this analyzer.
func (a *Analyzer) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// NoiseFloor estimates the spectrum's noise floor as the median bin
// level. A single strong carrier barely moves it, which is the point.
func NoiseFloor(dbfs []float64) float64 {
	if len(dbfs) == 0 {
		return math.Inf(-1)
	}
	sorted := make([]float64, len(dbfs))
	copy(sorted, dbfs)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
