package bladerf

import "unsafe"

// vectorAlignment is the byte boundary conversion buffers are placed on,
// sized for 256-bit SIMD loads.
const vectorAlignment = 32

// AlignmentMultiple reports the sample granularity implied by the vector
// alignment. Callers that slice produced buffers on this multiple keep
// them aligned.
func AlignmentMultiple() int {
	m := vectorAlignment / int(unsafe.Sizeof(complex64(0)))
	if m < 1 {
		return 1
	}
	return m
}

// alignedInt16 returns a slice of n int16 whose first element sits on
// the vector alignment boundary.
func alignedInt16(n int) []int16 {
	buf := make([]int16, n+vectorAlignment/2)
	off := alignOffset(unsafe.Pointer(&buf[0]), 2)
	return buf[off : off+n : off+n]
}

// alignedComplex64 returns a slice of n complex64 whose first element
// sits on the vector alignment boundary.
func alignedComplex64(n int) []complex64 {
	buf := make([]complex64, n+vectorAlignment/8)
	off := alignOffset(unsafe.Pointer(&buf[0]), 8)
	return buf[off : off+n : off+n]
}

func alignOffset(p unsafe.Pointer, elemSize uintptr) int {
	rem := uintptr(p) % vectorAlignment
	if rem == 0 {
		return 0
	}
	return int((vectorAlignment - rem) / elemSize)
}
