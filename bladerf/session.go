package bladerf

import (
	"time"

	"hz.tools/rf"
)

// Metadata mirrors the per-buffer metadata of the metadata wire format.
type Metadata struct {
	Timestamp uint64
	Flags     uint32
	Status    uint32
}

// MetaFlagRXNow asks the device to begin receiving immediately instead
// of waiting for Metadata.Timestamp.
const MetaFlagRXNow uint32 = 1 << 31

// StreamConfig is the stream geometry a Source hands its Session before
// any channel is enabled.
type StreamConfig struct {
	Layout           Layout
	Format           SampleFormat
	NumBuffers       int
	SamplesPerBuffer int
	NumTransfers     int
	Timeout          time.Duration
}

// Session is the device boundary a Source drives. Implementations need
// not be safe for concurrent use; the Source serializes every call.
type Session interface {
	// ConfigureStream applies the stream geometry.
	ConfigureStream(cfg StreamConfig) error

	// EnableChannel turns a receive channel on or off.
	EnableChannel(channel int, enable bool) error

	// Receive fills dst[:2*n] with the raw transfer words of n device
	// samples. meta is non-nil only for the metadata format. dst must be
	// left untouched on error.
	Receive(dst []int16, n int, meta *Metadata, timeout time.Duration) error

	// MaxChannels reports how many receive channels the device has.
	MaxChannels() int

	Close() error
}

// Tuner is implemented by sessions whose device exposes analog tuning.
type Tuner interface {
	SetFrequency(channel int, freq rf.Hz) error
	Frequency(channel int) (rf.Hz, error)
	SetSampleRate(channel int, rate uint) (uint, error)
	SampleRate(channel int) (uint, error)
	SetBandwidth(channel int, bw rf.Hz) (rf.Hz, error)
	Bandwidth(channel int) (rf.Hz, error)
}

// GainController is implemented by sessions with adjustable receive gain.
type GainController interface {
	SetGain(channel int, gain float64) error
	Gain(channel int) (float64, error)
	SetGainMode(channel int, automatic bool) error
	GainMode(channel int) (bool, error)
	SetAGCMode(name string) error
}

// Corrector is implemented by sessions that can trim DC offset and IQ
// imbalance.
type Corrector interface {
	SetDCOffset(channel int, offset complex64) error
	SetIQBalance(channel int, balance complex64) error
}

// HardwareControl is implemented by sessions exposing device-wide
// toggles. A session may answer ErrUnsupported per call; the Source
// degrades that to a warning.
type HardwareControl interface {
	SetBiasTee(channel int, enable bool) error
	SetLoopback(mode Loopback) error
	SetRXMux(mode RXMux) error
	SetSampling(mode Sampling) error
}

// ClockControl is implemented by sessions with a selectable reference
// clock.
type ClockControl interface {
	SetClockSource(source string) error
	ClockSource() (string, error)
}
