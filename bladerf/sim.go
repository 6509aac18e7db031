package bladerf

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"hz.tools/rf"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// SimConfig shapes a simulated device session.
type SimConfig struct {
	// MaxChannels is the simulated receive channel count (default 2).
	MaxChannels int

	// ToneOffset is the base tone offset from center in Hz. Channel c
	// emits a tone at (c+1)*ToneOffset so streams stay distinguishable.
	ToneOffset float64

	// Noise is the standard deviation of the additive noise.
	Noise float64

	// Seed makes runs repeatable.
	Seed int64

	Logger logging.Logger
}

// SimSession synthesizes per-channel test tones in the device wire
// format. It implements every optional capability: controls are stored,
// and the ones with an audible effect (gain, DC offset, IQ balance) are
// folded into the generated baseband.
type SimSession struct {
	cfg SimConfig
	log logging.Logger
	rng *rand.Rand

	enabled map[int]bool
	closed  bool
	ts      uint64

	phase []float64
	rate  uint

	freqs map[int]rf.Hz
	bws   map[int]rf.Hz

	gains map[int]float64
	auto  map[int]bool

	dcOffset  map[int]complex64
	iqBalance map[int]complex64

	biasTee  map[int]bool
	loopback Loopback
	rxmux    RXMux
	sampling Sampling
	clock    string
}

// NewSim builds a simulated session.
func NewSim(cfg SimConfig) *SimSession {
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = 2
	}
	if cfg.ToneOffset == 0 {
		cfg.ToneOffset = 100e3
	}
	if cfg.Noise == 0 {
		cfg.Noise = 1e-4
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &SimSession{
		cfg:       cfg,
		log:       cfg.Logger,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		enabled:   make(map[int]bool),
		phase:     make([]float64, cfg.MaxChannels),
		rate:      2_000_000,
		freqs:     make(map[int]rf.Hz),
		bws:       make(map[int]rf.Hz),
		gains:     make(map[int]float64),
		auto:      make(map[int]bool),
		dcOffset:  make(map[int]complex64),
		iqBalance: make(map[int]complex64),
		biasTee:   make(map[int]bool),
		loopback:  LoopbackNone,
		rxmux:     RXMuxBaseband,
		sampling:  SamplingInternal,
		clock:     "internal",
	}
}

func (m *SimSession) ConfigureStream(cfg StreamConfig) error {
	if m.closed {
		return &DeviceError{Op: "sim configure", Text: "session closed"}
	}
	for i := range m.phase {
		m.phase[i] = 0
	}
	return nil
}

func (m *SimSession) EnableChannel(channel int, enable bool) error {
	if channel < 0 || channel >= m.cfg.MaxChannels {
		return &DeviceError{Op: "sim enable", Text: fmt.Sprintf("channel %d out of range", channel)}
	}
	m.enabled[channel] = enable
	return nil
}

// Receive packs n freshly synthesized samples into dst[:n] and zeroes
// the tail words; only the first n words reach the converter.
func (m *SimSession) Receive(dst []int16, n int, meta *Metadata, timeout time.Duration) error {
	if m.closed {
		return &DeviceError{Op: "sim rx", Text: "session closed"}
	}
	chans := m.enabledChannels()
	if len(chans) == 0 {
		return &DeviceError{Op: "sim rx", Text: "no channel enabled"}
	}

	scratch := make([]complex64, n)
	for k := range scratch {
		scratch[k] = m.next(chans[k%len(chans)])
	}
	packPacked8(dst[:n], scratch)
	for i := n; i < 2*n && i < len(dst); i++ {
		dst[i] = 0
	}

	if meta != nil {
		meta.Timestamp = m.ts
	}
	m.ts += uint64(n)
	return nil
}

func (m *SimSession) enabledChannels() []int {
	var chans []int
	for ch, on := range m.enabled {
		if on {
			chans = append(chans, ch)
		}
	}
	sort.Ints(chans)
	return chans
}

func (m *SimSession) next(ch int) complex64 {
	freq := m.cfg.ToneOffset * float64(ch+1)
	step := 2 * math.Pi * freq / float64(m.rate)
	p := m.phase[ch]
	m.phase[ch] = math.Mod(p+step, 2*math.Pi)

	amp := 0.5 * math.Pow(10, m.gains[ch]/20)
	if amp > 1 {
		amp = 1
	}
	out := complex64(complex(
		amp*math.Cos(p)+m.rng.NormFloat64()*m.cfg.Noise,
		amp*math.Sin(p)+m.rng.NormFloat64()*m.cfg.Noise,
	))

	out += m.dcOffset[ch]
	if bal := m.iqBalance[ch]; bal != 0 {
		out = complex(real(out)*(1+real(bal)), imag(out)*(1+imag(bal)))
	}
	return out
}

func (m *SimSession) MaxChannels() int { return m.cfg.MaxChannels }

func (m *SimSession) Close() error {
	m.closed = true
	return nil
}

func (m *SimSession) SetFrequency(channel int, freq rf.Hz) error {
	m.freqs[channel] = freq
	return nil
}

func (m *SimSession) Frequency(channel int) (rf.Hz, error) {
	return m.freqs[channel], nil
}

func (m *SimSession) SetSampleRate(channel int, rate uint) (uint, error) {
	if rate == 0 {
		return 0, &DeviceError{Op: "sim set rate", Text: "zero sample rate"}
	}
	m.rate = rate
	return rate, nil
}

func (m *SimSession) SampleRate(channel int) (uint, error) {
	return m.rate, nil
}

func (m *SimSession) SetBandwidth(channel int, bw rf.Hz) (rf.Hz, error) {
	m.bws[channel] = bw
	return bw, nil
}

func (m *SimSession) Bandwidth(channel int) (rf.Hz, error) {
	return m.bws[channel], nil
}

func (m *SimSession) SetGain(channel int, gain float64) error {
	m.gains[channel] = gain
	return nil
}

func (m *SimSession) Gain(channel int) (float64, error) {
	return m.gains[channel], nil
}

func (m *SimSession) SetGainMode(channel int, automatic bool) error {
	m.auto[channel] = automatic
	return nil
}

func (m *SimSession) GainMode(channel int) (bool, error) {
	return m.auto[channel], nil
}

func (m *SimSession) SetAGCMode(name string) error {
	switch name {
	case "default", "manual", "fast", "slow", "hybrid":
		return nil
	}
	return fmt.Errorf("agc mode %q: %w", name, ErrUnsupported)
}

func (m *SimSession) SetDCOffset(channel int, offset complex64) error {
	m.dcOffset[channel] = offset
	return nil
}

func (m *SimSession) SetIQBalance(channel int, balance complex64) error {
	m.iqBalance[channel] = balance
	return nil
}

func (m *SimSession) SetBiasTee(channel int, enable bool) error {
	m.biasTee[channel] = enable
	return nil
}

// SetLoopback accepts the modes of current boards; the legacy baseband
// and LNA paths answer ErrUnsupported.
func (m *SimSession) SetLoopback(mode Loopback) error {
	switch mode {
	case LoopbackNone, LoopbackFirmware, LoopbackRFICBIST:
		m.loopback = mode
		return nil
	}
	return fmt.Errorf("loopback %q: %w", string(mode), ErrUnsupported)
}

func (m *SimSession) SetRXMux(mode RXMux) error {
	m.rxmux = mode
	return nil
}

func (m *SimSession) SetSampling(mode Sampling) error {
	m.sampling = mode
	return nil
}

func (m *SimSession) SetClockSource(source string) error {
	switch source {
	case "internal", "external":
		m.clock = source
		return nil
	}
	return fmt.Errorf("%w: unknown clock source %q", ErrConfiguration, source)
}

func (m *SimSession) ClockSource() (string, error) {
	return m.clock, nil
}
