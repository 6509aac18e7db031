package bladerf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

func writeRawCapture(t *testing.T, samples []complex64) string {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, samples); err != nil {
		t.Fatalf("encode capture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "capture.c64")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return path
}

// gridSamples yields values the 8-bit wire format represents exactly, so
// replay comparisons can demand equality.
func gridSamples(n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		k := int8(i % 100)
		out[i] = complex(float32(k)/127, float32(-k)/127)
	}
	return out
}

func quietPlayback() PlaybackConfig {
	return PlaybackConfig{Logger: logging.New(logging.Error, logging.Text, io.Discard)}
}

func TestPlaybackRawNeedsRate(t *testing.T) {
	path := writeRawCapture(t, gridSamples(8))
	if _, err := OpenRawCapture(path, 0, quietPlayback()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("OpenRawCapture with zero rate: %v, want ErrConfiguration", err)
	}
}

func TestPlaybackRawReplaysSamples(t *testing.T) {
	const n = 64
	want := gridSamples(n)
	sess, err := OpenRawCapture(writeRawCapture(t, want), 2_000_000, quietPlayback())
	if err != nil {
		t.Fatalf("OpenRawCapture: %v", err)
	}
	if sess.CaptureRate() != 2_000_000 {
		t.Errorf("CaptureRate = %d, want 2000000", sess.CaptureRate())
	}

	s := newTestSource(t, Config{SamplesPerBuffer: n}, sess)
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := outBuffers(1, n)
	got, err := s.Produce(out, n)
	if got != n || err != nil {
		t.Fatalf("Produce = (%d, %v), want (%d, nil)", got, err, n)
	}
	for i := range want {
		if out[0][i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, out[0][i], want[i])
		}
	}
}

func TestPlaybackExhaustionEndsStream(t *testing.T) {
	const n = 32
	want := gridSamples(n)
	sess, err := OpenRawCapture(writeRawCapture(t, want), 1_000_000, quietPlayback())
	if err != nil {
		t.Fatalf("OpenRawCapture: %v", err)
	}

	s := newTestSource(t, Config{SamplesPerBuffer: n}, sess)
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := outBuffers(1, n)
	if _, err := s.Produce(out, n); err != nil {
		t.Fatalf("first Produce: %v", err)
	}

	// The capture is dry. Two draws come back success-shaped with the
	// previous samples, the third ends the stream.
	for call := 2; call <= 3; call++ {
		got, err := s.Produce(out, n)
		if got != n || err != nil {
			t.Fatalf("draw %d = (%d, %v), want (%d, nil)", call, got, err, n)
		}
		for i := range want {
			if out[0][i] != want[i] {
				t.Fatalf("draw %d sample %d = %v, want stale %v", call, i, out[0][i], want[i])
			}
		}
	}
	got, err := s.Produce(out, n)
	if got != 0 || err != io.EOF {
		t.Fatalf("draw 4 = (%d, %v), want (0, io.EOF)", got, err)
	}
}

func TestPlaybackLoopRewinds(t *testing.T) {
	const n = 32
	want := gridSamples(n)
	cfg := quietPlayback()
	cfg.Loop = true
	sess, err := OpenRawCapture(writeRawCapture(t, want), 1_000_000, cfg)
	if err != nil {
		t.Fatalf("OpenRawCapture: %v", err)
	}

	s := newTestSource(t, Config{SamplesPerBuffer: n}, sess)
	defer s.Close()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := outBuffers(1, n)
	for pass := 1; pass <= 3; pass++ {
		got, err := s.Produce(out, n)
		if got != n || err != nil {
			t.Fatalf("pass %d = (%d, %v), want (%d, nil)", pass, got, err, n)
		}
		for i := range want {
			if out[0][i] != want[i] {
				t.Fatalf("pass %d sample %d = %v, want %v", pass, i, out[0][i], want[i])
			}
		}
	}
}

func TestPlaybackSingleChannelOnly(t *testing.T) {
	sess, err := OpenRawCapture(writeRawCapture(t, gridSamples(8)), 1_000_000, quietPlayback())
	if err != nil {
		t.Fatalf("OpenRawCapture: %v", err)
	}
	defer sess.Close()

	if err := sess.ConfigureStream(StreamConfig{Layout: LayoutX2}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("dual-channel configure: %v, want ErrConfiguration", err)
	}
	if err := sess.EnableChannel(1, true); !errors.Is(err, ErrConfiguration) {
		t.Errorf("enable channel 1: %v, want ErrConfiguration", err)
	}

	// Asking the source for two streams clamps to the one the capture has.
	s := newTestSource(t, Config{NumStreams: 2}, sess)
	if s.ActiveChannels() != 1 {
		t.Errorf("ActiveChannels = %d, want 1", s.ActiveChannels())
	}
}
