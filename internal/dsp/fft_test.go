package dsp

import (
	"math"
	"testing"
)

func TestSpectrumDBFS(t *testing.T) {
	n := 64
	data := make([]complex64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i) / float64(n)
		data[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
	}
	fft, db := SpectrumDBFS(data)
	if len(fft) != n || len(db) != n {
		t.Fatalf("unexpected lengths %d/%d", len(fft), len(db))
	}

	idx, level := Peak(db)
	expectedIdx := n/2 + 1
	if idx != expectedIdx {
		t.Fatalf("expected peak at %d got %d", expectedIdx, idx)
	}
	// A unit tone on an exact bin lands at 0 dBFS after window
	// normalization.
	if math.Abs(level) > 0.01 {
		t.Errorf("full-scale tone peaks at %.3f dBFS, want about 0", level)
	}
	for _, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("dbfs contains NaN")
		}
	}
}

func TestSpectrumDBFSEmpty(t *testing.T) {
	fft, db := SpectrumDBFS(nil)
	if len(fft) != 0 || len(db) != 0 {
		t.Fatalf("empty input produced %d/%d bins", len(fft), len(db))
	}
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
}

func TestBinOffset(t *testing.T) {
	// 1024 bins at 2 MS/s is 1953.125 Hz per bin.
	if off := BinOffset(512, 1024, 2_000_000); off != 0 {
		t.Errorf("center bin offset = %v, want 0", off)
	}
	if off := BinOffset(563, 1024, 2_000_000); math.Abs(off-99609.375) > 1e-6 {
		t.Errorf("bin 563 offset = %v", off)
	}
	if off := BinOffset(0, 1024, 2_000_000); off != -1_000_000 {
		t.Errorf("first bin offset = %v, want -1000000", off)
	}
}
