package bladerf

import "math"

// convertPacked8 expands packed 8-bit IQ out of 16-bit transfer words.
// The firmware packs one component of two consecutive samples into each
// word: the low byte belongs to the earlier sample, the high byte to the
// later one. Words travel in pairs, word i carrying the I components and
// word i+1 the Q components of samples i and i+1. Components are signed
// 8-bit values scaled by 1/127.
//
// len(src) words yield len(src) complex samples, rounded down to a pair.
// dst must hold at least that many. Returns the sample count written.
func convertPacked8(dst []complex64, src []int16) int {
	n := len(src) &^ 1
	for i := 0; i < n; i += 2 {
		w0, w1 := src[i], src[i+1]
		dst[i] = complex(float32(int8(w0))/127.0, float32(int8(w1))/127.0)
		dst[i+1] = complex(float32(int8(w0>>8))/127.0, float32(int8(w1>>8))/127.0)
	}
	return n
}

// packPacked8 is the inverse of convertPacked8. Sessions that replay or
// synthesize baseband use it to emit the device wire format. Components
// saturate at the signed 8-bit range. Returns the word count written.
func packPacked8(dst []int16, src []complex64) int {
	n := len(src) &^ 1
	for i := 0; i < n; i += 2 {
		re0 := packComponent(real(src[i]))
		im0 := packComponent(imag(src[i]))
		re1 := packComponent(real(src[i+1]))
		im1 := packComponent(imag(src[i+1]))
		dst[i] = int16(uint16(uint8(re0)) | uint16(uint8(re1))<<8)
		dst[i+1] = int16(uint16(uint8(im0)) | uint16(uint8(im1))<<8)
	}
	return n
}

func packComponent(v float32) int8 {
	s := math.Round(float64(v) * 127)
	if s > 127 {
		s = 127
	}
	if s < -128 {
		s = -128
	}
	return int8(s)
}
