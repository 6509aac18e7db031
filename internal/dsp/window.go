package dsp

import "math"

// Hamming returns a Hamming window of length n together with its
// coefficient sum, the normalization that maps a windowed full-scale
// tone back to unit magnitude. n below one yields an empty window.
func Hamming(n int) ([]float64, float64) {
	if n <= 0 {
		return []float64{}, 0
	}
	if n == 1 {
		return []float64{1}, 1
	}
	win := make([]float64, n)
	sum := 0.0
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		sum += win[i]
	}
	return win, sum
}

// ApplyWindow multiplies samples into the window, widening to the
// complex128 the FFT operates on. dst is reused when its length matches
// and reallocated otherwise; the windowed slice is returned. Mismatched
// sample and window lengths yield an empty result.
func ApplyWindow(dst []complex128, samples []complex64, window []float64) []complex128 {
	if len(samples) != len(window) {
		return []complex128{}
	}
	if len(dst) != len(samples) {
		dst = make([]complex128, len(samples))
	}
	for i, v := range samples {
		dst[i] = complex(float64(real(v))*window[i], float64(imag(v))*window[i])
	}
	return dst
}
