package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := append(data[half:], data[:half]...)
	return shifted
}

// SpectrumDBFS performs an FFT on the provided complex64 samples, applies
// a Hamming window, normalizes by the window sum, and converts the
// magnitude to dBFS. Full scale is a unit-amplitude tone, matching
// baseband normalized to [-1, 1].
func SpectrumDBFS(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	win, sumWin := Hamming(len(samples))
	windowed := ApplyWindow(nil, samples, win)
	fft := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	for i := range fft {
		fft[i] /= complex(sumWin, 0)
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

// Peak returns the index and level of the strongest bin.
func Peak(dbfs []float64) (int, float64) {
	idx := 0
	level := math.Inf(-1)
	for i, v := range dbfs {
		if v > level {
			level = v
			idx = i
		}
	}
	return idx, level
}

// BinOffset converts a DC-centered bin index to its frequency offset in
// Hz for the given sample rate.
func BinOffset(bin, n int, rate uint) float64 {
	if n == 0 {
		return 0
	}
	return float64(bin-n/2) * float64(rate) / float64(n)
}
