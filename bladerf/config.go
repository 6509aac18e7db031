package bladerf

import (
	"time"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// SampleFormat selects the wire format between device and host.
type SampleFormat int

const (
	// FormatSC16Q11 is the interleaved 16-bit IQ transfer format.
	FormatSC16Q11 SampleFormat = iota
	// FormatSC16Q11Meta is the same layout with per-buffer metadata.
	FormatSC16Q11Meta
)

func (f SampleFormat) String() string {
	switch f {
	case FormatSC16Q11:
		return "sc16q11"
	case FormatSC16Q11Meta:
		return "sc16q11+meta"
	default:
		return "unknown"
	}
}

// Layout is the number of hardware channels interleaved into one
// transfer stream.
type Layout int

const (
	LayoutX1 Layout = 1
	LayoutX2 Layout = 2
)

func layoutFor(streams int) Layout {
	if streams > 1 {
		return LayoutX2
	}
	return LayoutX1
}

// Defaults for the synchronous stream geometry.
const (
	DefaultNumBuffers       = 512
	DefaultSamplesPerBuffer = 4096
	DefaultNumTransfers     = 32
	DefaultTimeout          = 3 * time.Second
)

const maxConsecutiveFailures = 3

// Config shapes a Source.
type Config struct {
	// NumStreams is the number of logical output streams. Requests above
	// the session's channel count are clamped with a warning.
	NumStreams int

	Format SampleFormat

	// Stream geometry, zero values take the defaults above.
	NumBuffers       int
	SamplesPerBuffer int
	NumTransfers     int
	Timeout          time.Duration

	// FailureLimit is the number of consecutive receive failures after
	// which Produce reports end of stream. Zero means 3.
	FailureLimit int

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.NumStreams <= 0 {
		c.NumStreams = 1
	}
	if c.NumBuffers <= 0 {
		c.NumBuffers = DefaultNumBuffers
	}
	if c.SamplesPerBuffer <= 0 {
		c.SamplesPerBuffer = DefaultSamplesPerBuffer
	}
	if c.NumTransfers <= 0 {
		c.NumTransfers = DefaultNumTransfers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = maxConsecutiveFailures
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}
