package app

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.c64")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	want := []complex64{1 + 2i, -0.5 + 0.25i, 0, 3 - 1i}
	if err := sink.Write(want[:2]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(want[2:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sink.Samples() != 4 {
		t.Errorf("Samples() = %d, want 4", sink.Samples())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	got := make([]complex64, 4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDiscardSinkCounts(t *testing.T) {
	sink := &DiscardSink{}
	if err := sink.Write(make([]complex64, 128)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(make([]complex64, 64)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sink.Samples() != 192 {
		t.Errorf("Samples() = %d, want 192", sink.Samples())
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
