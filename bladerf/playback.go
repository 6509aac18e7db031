package bladerf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/racerxdl/fastconvert"
	"hz.tools/rfcap"
	"hz.tools/sdr"
	"hz.tools/sdr/stream"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// PlaybackConfig shapes a capture replay session.
type PlaybackConfig struct {
	// Loop rewinds the capture at end of file instead of letting
	// receives fail.
	Loop bool

	Logger logging.Logger
}

// PlaybackSession replays captured baseband through the device wire
// format, packing each draw the way the firmware would. Captures are
// single channel. Once the capture runs dry every receive fails, which
// walks a Source into its end-of-stream path.
type PlaybackSession struct {
	log  logging.Logger
	loop bool

	f      *os.File
	reader sdr.Reader // nil in raw mode
	rate   uint
	ts     uint64
	closed bool

	scratch []complex64
}

// OpenCapture opens an rfcap recording for replay.
func OpenCapture(path string, cfg PlaybackConfig) (*PlaybackSession, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	p := &PlaybackSession{log: cfg.Logger, loop: cfg.Loop, f: f}
	if err := p.attachCapture(); err != nil {
		f.Close()
		return nil, err
	}
	cfg.Logger.Info("capture opened",
		logging.Field{Key: "path", Value: path},
		logging.Field{Key: "rate", Value: p.rate})
	return p, nil
}

// OpenRawCapture opens a headerless file of little-endian complex64
// samples recorded at the given rate.
func OpenRawCapture(path string, rate uint, cfg PlaybackConfig) (*PlaybackSession, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if rate == 0 {
		return nil, fmt.Errorf("%w: raw capture needs a sample rate", ErrConfiguration)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return &PlaybackSession{log: cfg.Logger, loop: cfg.Loop, f: f, rate: rate}, nil
}

func (p *PlaybackSession) attachCapture() error {
	reader, _, err := rfcap.Reader(p.f)
	if err != nil {
		return fmt.Errorf("read capture header: %w", err)
	}
	converted, err := stream.ConvertReader(reader, sdr.SampleFormatC64)
	if err != nil {
		return fmt.Errorf("convert capture: %w", err)
	}
	p.reader = converted
	p.rate = uint(converted.SampleRate())
	return nil
}

// CaptureRate reports the recording's sample rate.
func (p *PlaybackSession) CaptureRate() uint { return p.rate }

// ConfigureStream accepts single-channel geometry only; a recording has
// no second channel to interleave.
func (p *PlaybackSession) ConfigureStream(cfg StreamConfig) error {
	if cfg.Layout != LayoutX1 {
		return fmt.Errorf("%w: capture replay is single channel", ErrConfiguration)
	}
	return nil
}

func (p *PlaybackSession) EnableChannel(channel int, enable bool) error {
	if channel != 0 {
		return fmt.Errorf("%w: capture replay has one channel", ErrConfiguration)
	}
	return nil
}

// Receive packs the next n capture samples into dst[:n] and zeroes the
// tail words. An exhausted capture fails the receive and leaves dst
// untouched.
func (p *PlaybackSession) Receive(dst []int16, n int, meta *Metadata, timeout time.Duration) error {
	if p.closed {
		return &DeviceError{Op: "playback rx", Text: "session closed"}
	}
	if cap(p.scratch) < n {
		p.scratch = make([]complex64, n)
	}
	scratch := p.scratch[:n]

	if err := p.fill(scratch); err != nil {
		if !p.loop || !isEOF(err) {
			return &DeviceError{Op: "playback rx", Text: fmt.Sprintf("capture exhausted: %v", err)}
		}
		if err := p.rewind(); err != nil {
			return &DeviceError{Op: "playback rewind", Text: err.Error()}
		}
		if err := p.fill(scratch); err != nil {
			return &DeviceError{Op: "playback rx", Text: fmt.Sprintf("capture exhausted: %v", err)}
		}
	}

	packPacked8(dst[:n], scratch)
	for i := n; i < 2*n && i < len(dst); i++ {
		dst[i] = 0
	}

	if meta != nil {
		meta.Timestamp = p.ts
	}
	p.ts += uint64(n)
	return nil
}

func (p *PlaybackSession) fill(out []complex64) error {
	if p.reader != nil {
		buf := sdr.SamplesC64(out)
		if _, err := sdr.ReadFull(p.reader, buf); err != nil {
			return err
		}
		return nil
	}
	raw := make([]byte, 8*len(out))
	if _, err := io.ReadFull(p.f, raw); err != nil {
		return err
	}
	copy(out, fastconvert.ByteArrayToComplex64Array(raw))
	return nil
}

func (p *PlaybackSession) rewind() error {
	if _, err := p.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if p.reader != nil {
		return p.attachCapture()
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (p *PlaybackSession) MaxChannels() int { return 1 }

func (p *PlaybackSession) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.f.Close()
}
