// Package bladerf implements the continuous receive path of a bladeRF
// software defined radio: stream setup, packed 8-bit sample expansion,
// and round-robin fan-out onto one or two complex baseband streams.
//
// A Source drives a Session, the boundary to the actual device. Three
// sessions ship with the package: hardware over libbladeRF, playback
// from capture files, and a synthesized simulator.
package bladerf

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// Source streams complex baseband samples out of a device session. A
// single mutex guards lifecycle, production and retuning; Produce holds
// it across the blocking receive, so control calls queue behind stream
// draws rather than interleave with them.
type Source struct {
	mu      sync.Mutex
	cfg     Config
	session Session
	chanmap *ChannelMap
	log     logging.Logger

	running     bool
	everStarted bool
	failures    int

	// Conversion buffers, allocated on Start and released on Stop. The
	// raw buffer holds two transfer words per sample slot.
	raw []int16
	flt []complex64

	// Health counters, atomics so Stats never waits on the stream lock.
	delivered uint64
	failed    uint64
	restarts  uint64

	// Per-stream correction state.
	dcMode []CorrectionMode
	iqMode []CorrectionMode
	dcLast []complex64
	iqLast []complex64
}

// New builds a Source over sess. The Source owns the session from here
// on; Close releases it.
func New(cfg Config, sess Session) (*Source, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: nil session", ErrConfiguration)
	}
	cfg = cfg.withDefaults()
	log := cfg.Logger

	max := sess.MaxChannels()
	if max < 1 {
		return nil, fmt.Errorf("%w: session reports no receive channels", ErrConfiguration)
	}
	if cfg.NumStreams > max {
		log.Warn("requested stream count exceeds device channels, clamping",
			logging.Field{Key: "requested", Value: cfg.NumStreams},
			logging.Field{Key: "max", Value: max})
		cfg.NumStreams = max
	}
	cm, err := NewChannelMap(cfg.NumStreams, max)
	if err != nil {
		return nil, err
	}

	s := &Source{
		cfg:     cfg,
		session: sess,
		chanmap: cm,
		log:     log,
		dcMode:  make([]CorrectionMode, cfg.NumStreams),
		iqMode:  make([]CorrectionMode, cfg.NumStreams),
		dcLast:  make([]complex64, cfg.NumStreams),
		iqLast:  make([]complex64, cfg.NumStreams),
	}
	log.Debug("source initialized",
		logging.Field{Key: "streams", Value: cfg.NumStreams},
		logging.Field{Key: "format", Value: cfg.Format.String()})
	return s, nil
}

// Start configures the stream, enables the mapped channels and arms
// Produce. On failure the source is left stopped. Starting a running
// source is a no-op.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Source) startLocked() error {
	if s.running {
		return nil
	}
	s.log.Debug("starting source")

	sc := StreamConfig{
		Layout:           layoutFor(s.chanmap.Streams()),
		Format:           s.cfg.Format,
		NumBuffers:       s.cfg.NumBuffers,
		SamplesPerBuffer: s.cfg.SamplesPerBuffer,
		NumTransfers:     s.cfg.NumTransfers,
		Timeout:          s.cfg.Timeout,
	}
	if err := s.session.ConfigureStream(sc); err != nil {
		return fmt.Errorf("configure stream: %w", err)
	}
	for _, ch := range s.chanmap.Channels() {
		if err := s.session.EnableChannel(ch, true); err != nil {
			return fmt.Errorf("enable channel %d: %w", ch, err)
		}
	}

	s.raw = alignedInt16(2 * s.cfg.SamplesPerBuffer)
	s.flt = alignedComplex64(s.cfg.SamplesPerBuffer)

	s.failures = 0
	if s.everStarted {
		atomic.AddUint64(&s.restarts, 1)
	}
	s.everStarted = true
	s.running = true
	return nil
}

// Stop halts production before releasing device channels and buffers.
// The running flag drops first so a stop observed mid-drain cannot hand
// out freed buffers. Stopping a stopped source is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	s.log.Debug("stopping source")

	if !s.running {
		s.log.Warn("source already stopped, nothing to do")
		return nil
	}
	s.running = false

	var firstErr error
	for _, ch := range s.chanmap.Channels() {
		if err := s.session.EnableChannel(ch, false); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disable channel %d: %w", ch, err)
		}
	}

	s.raw = nil
	s.flt = nil
	return firstErr
}

// Running reports whether the stream is armed.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close stops the source if needed and releases the session.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		if err := s.stopLocked(); err != nil {
			s.log.Warn("stop during close", logging.Err(err))
		}
	}
	return s.session.Close()
}

// Produce draws n samples from the device, expands them to complex
// baseband and spreads them round robin across the buffers in out. n
// counts samples before fan-out: each of the S active streams receives
// n/S, and n must be an even multiple of S no larger than the configured
// samples per buffer.
//
// A stopped source produces 0 with a nil error. A receive failure below
// the consecutive limit still yields a success-shaped result carrying
// whatever the raw buffer last held; hitting the limit returns io.EOF.
func (s *Source) Produce(out [][]complex64, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return 0, nil
	}

	streams := s.chanmap.Streams()
	if len(out) < streams {
		return 0, fmt.Errorf("%w: %d output buffers for %d streams", ErrConfiguration, len(out), streams)
	}
	if n <= 0 || n%2 != 0 || n%streams != 0 {
		return 0, fmt.Errorf("%w: sample count %d must be a positive even multiple of %d streams", ErrConfiguration, n, streams)
	}
	if n > s.cfg.SamplesPerBuffer {
		return 0, fmt.Errorf("%w: %d samples exceeds buffer capacity %d", ErrResourceExhausted, n, s.cfg.SamplesPerBuffer)
	}
	per := n / streams
	for i := 0; i < streams; i++ {
		if len(out[i]) < per {
			return 0, fmt.Errorf("%w: stream %d buffer holds %d of %d samples", ErrConfiguration, i, len(out[i]), per)
		}
	}

	var meta *Metadata
	if s.cfg.Format == FormatSC16Q11Meta {
		meta = &Metadata{Flags: MetaFlagRXNow}
	}

	if err := s.session.Receive(s.raw, n, meta, s.cfg.Timeout); err != nil {
		atomic.AddUint64(&s.failed, 1)
		s.failures++
		s.log.Warn("receive failed", logging.Field{Key: "detail", Value: DeviceErrorText(err)})

		if s.failures >= s.cfg.FailureLimit {
			s.log.Warn("consecutive receive failure limit hit, ending stream",
				logging.Field{Key: "limit", Value: s.cfg.FailureLimit})
			return 0, io.EOF
		}
	} else {
		s.failures = 0
	}

	convertPacked8(s.flt[:n], s.raw[:n])

	if streams > 1 {
		deinterleave(out[:streams], s.flt[:n])
	} else {
		copy(out[0], s.flt[:n])
	}

	atomic.AddUint64(&s.delivered, uint64(n))
	return n, nil
}

// MaxChannels reports the device's receive channel count.
func (s *Source) MaxChannels() int { return s.chanmap.MaxChannels() }

// ActiveChannels reports the number of logical output streams.
func (s *Source) ActiveChannels() int { return s.chanmap.Streams() }

// Antennas lists the receive antennas of the underlying device.
func (s *Source) Antennas() []string {
	names := make([]string, s.chanmap.MaxChannels())
	for i := range names {
		names[i] = AntennaName(i)
	}
	return names
}

// Antenna reports the antenna a stream currently reads from.
func (s *Source) Antenna(stream int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.chanmap.Channel(stream)
	if err != nil {
		return "", err
	}
	return AntennaName(ch), nil
}

// SetAntenna points a stream at the named antenna and returns the name
// now mapped. A running source is stopped around the remap and restarted
// afterwards; if either transition fails the source is left stopped and
// the error returned.
func (s *Source) SetAntenna(stream int, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.chanmap.Channel(stream); err != nil {
		return "", err
	}
	ch, err := ParseAntenna(name)
	if err != nil {
		return "", err
	}
	if ch >= s.chanmap.MaxChannels() {
		return "", fmt.Errorf("%w: antenna %q not present on this device", ErrConfiguration, name)
	}

	if err := s.reconfigureLocked(func() error {
		return s.chanmap.SetChannel(stream, ch)
	}); err != nil {
		return "", err
	}
	return AntennaName(ch), nil
}

// reconfigureLocked applies mutate inside a stop/start pair when the
// source is streaming; a stopped source is mutated in place. Failure of
// either transition, or of mutate itself, leaves the source stopped.
func (s *Source) reconfigureLocked(mutate func() error) error {
	wasRunning := s.running
	if wasRunning {
		if err := s.stopLocked(); err != nil {
			return fmt.Errorf("stop for reconfigure: %w", err)
		}
	}
	if err := mutate(); err != nil {
		return err
	}
	if !wasRunning {
		return nil
	}
	if err := s.startLocked(); err != nil {
		return fmt.Errorf("restart after reconfigure: %w", err)
	}
	return nil
}

// Stats is a point-in-time snapshot of the stream health counters.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Restarts  uint64
}

// Stats reads the health counters without taking the stream lock.
func (s *Source) Stats() Stats {
	return Stats{
		Delivered: atomic.LoadUint64(&s.delivered),
		Failed:    atomic.LoadUint64(&s.failed),
		Restarts:  atomic.LoadUint64(&s.restarts),
	}
}
