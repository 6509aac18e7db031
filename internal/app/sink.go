package app

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// Sink consumes captured baseband buffers.
type Sink interface {
	Write(samples []complex64) error
	Close() error
}

// FileSink writes little-endian complex64 samples to a file, the
// headerless format the playback session reads back.
type FileSink struct {
	f       *os.File
	w       *bufio.Writer
	samples uint64
}

// NewFileSink creates or truncates the capture file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	return &FileSink{f: f, w: bufio.NewWriterSize(f, 1<<16)}, nil
}

func (s *FileSink) Write(samples []complex64) error {
	if err := binary.Write(s.w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	s.samples += uint64(len(samples))
	return nil
}

// Samples reports how many samples have been written.
func (s *FileSink) Samples() uint64 { return s.samples }

func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("flush capture: %w", err)
	}
	return s.f.Close()
}

// DiscardSink drops everything written to it. It stands in when a
// capture run only needs telemetry.
type DiscardSink struct {
	samples uint64
}

func (s *DiscardSink) Write(samples []complex64) error {
	s.samples += uint64(len(samples))
	return nil
}

// Samples reports how many samples have been dropped.
func (s *DiscardSink) Samples() uint64 { return s.samples }

func (s *DiscardSink) Close() error { return nil }
