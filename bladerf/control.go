package bladerf

import (
	"errors"
	"fmt"

	"hz.tools/rf"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// CorrectionMode selects how DC offset and IQ imbalance trims are
// driven.
type CorrectionMode int

const (
	CorrectionOff CorrectionMode = iota
	CorrectionManual
	CorrectionAutomatic
)

// Loopback routes a transmit path back into the receive chain for self
// test. Names follow the libbladeRF modes.
type Loopback string

const (
	LoopbackNone           Loopback = "none"
	LoopbackBBTXLPFRXVGA2  Loopback = "bb_txlpf_rxvga2"
	LoopbackBBTXLPFRXLPF   Loopback = "bb_txlpf_rxlpf"
	LoopbackBBTXVGA1RXVGA2 Loopback = "bb_txvga1_rxvga2"
	LoopbackBBTXVGA1RXLPF  Loopback = "bb_txvga1_rxlpf"
	LoopbackRFLNA1         Loopback = "rf_lna1"
	LoopbackRFLNA2         Loopback = "rf_lna2"
	LoopbackRFLNA3         Loopback = "rf_lna3"
	LoopbackFirmware       Loopback = "firmware"
	LoopbackRFICBIST       Loopback = "rfic_bist"
)

// ParseLoopback validates a loopback mode name.
func ParseLoopback(s string) (Loopback, error) {
	switch Loopback(s) {
	case LoopbackNone, LoopbackBBTXLPFRXVGA2, LoopbackBBTXLPFRXLPF,
		LoopbackBBTXVGA1RXVGA2, LoopbackBBTXVGA1RXLPF,
		LoopbackRFLNA1, LoopbackRFLNA2, LoopbackRFLNA3,
		LoopbackFirmware, LoopbackRFICBIST:
		return Loopback(s), nil
	}
	return "", fmt.Errorf("%w: unknown loopback mode %q", ErrConfiguration, s)
}

// RXMux selects what feeds the receive FIFOs.
type RXMux string

const (
	RXMuxBaseband        RXMux = "baseband"
	RXMux12BitCounter    RXMux = "12bit"
	RXMux32BitCounter    RXMux = "32bit"
	RXMuxDigitalLoopback RXMux = "digital"
)

// ParseRXMux validates an RX mux mode name.
func ParseRXMux(s string) (RXMux, error) {
	switch RXMux(s) {
	case RXMuxBaseband, RXMux12BitCounter, RXMux32BitCounter, RXMuxDigitalLoopback:
		return RXMux(s), nil
	}
	return "", fmt.Errorf("%w: unknown rx mux mode %q", ErrConfiguration, s)
}

// Sampling selects the ADC input connection.
type Sampling string

const (
	SamplingInternal Sampling = "internal"
	SamplingExternal Sampling = "external"
)

// ParseSampling validates a sampling mode name.
func ParseSampling(s string) (Sampling, error) {
	switch Sampling(s) {
	case SamplingInternal, SamplingExternal:
		return Sampling(s), nil
	}
	return "", fmt.Errorf("%w: unknown sampling mode %q", ErrConfiguration, s)
}

func (s *Source) warnUnsupported(op string) {
	s.log.Warn("operation not supported by this session", logging.Field{Key: "op", Value: op})
}

func (s *Source) streamChannel(stream int) (int, error) {
	return s.chanmap.Channel(stream)
}

// SetSampleRate asks the device for the given rate on the first mapped
// channel and returns the rate actually achieved. Sessions without
// tuning accept the request as-is.
func (s *Source) SetSampleRate(rate uint) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.session.(Tuner)
	if !ok {
		s.warnUnsupported("set sample rate")
		return rate, nil
	}
	ch, _ := s.chanmap.Channel(0)
	actual, err := t.SetSampleRate(ch, rate)
	if err != nil {
		return 0, fmt.Errorf("set sample rate: %w", err)
	}
	return actual, nil
}

// SampleRate reports the device sample rate, or 0 when the session has
// no tuning.
func (s *Source) SampleRate() (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.session.(Tuner)
	if !ok {
		return 0, nil
	}
	ch, _ := s.chanmap.Channel(0)
	return t.SampleRate(ch)
}

// SetFrequency tunes the stream's channel and returns the frequency now
// set.
func (s *Source) SetFrequency(stream int, freq rf.Hz) (rf.Hz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return 0, err
	}
	t, ok := s.session.(Tuner)
	if !ok {
		s.warnUnsupported("set frequency")
		return freq, nil
	}
	if err := t.SetFrequency(ch, freq); err != nil {
		return 0, fmt.Errorf("set frequency: %w", err)
	}
	return t.Frequency(ch)
}

// Frequency reports the stream's channel tuning.
func (s *Source) Frequency(stream int) (rf.Hz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return 0, err
	}
	t, ok := s.session.(Tuner)
	if !ok {
		return 0, nil
	}
	return t.Frequency(ch)
}

// SetBandwidth sets the analog filter bandwidth on the stream's channel
// and returns the bandwidth actually achieved. Zero selects the filter
// automatically from the sample rate.
func (s *Source) SetBandwidth(stream int, bw rf.Hz) (rf.Hz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return 0, err
	}
	t, ok := s.session.(Tuner)
	if !ok {
		s.warnUnsupported("set bandwidth")
		return bw, nil
	}
	if bw == 0 {
		rate, err := t.SampleRate(ch)
		if err != nil {
			return 0, fmt.Errorf("set bandwidth: %w", err)
		}
		bw = 0.75 * rf.Hz(rate)
	}
	actual, err := t.SetBandwidth(ch, bw)
	if err != nil {
		return 0, fmt.Errorf("set bandwidth: %w", err)
	}
	return actual, nil
}

// Bandwidth reports the stream's analog filter bandwidth.
func (s *Source) Bandwidth(stream int) (rf.Hz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return 0, err
	}
	t, ok := s.session.(Tuner)
	if !ok {
		return 0, nil
	}
	return t.Bandwidth(ch)
}

// SetFrequencyCorrection is not implemented; the VCTCXO trim also moves
// the transmit side. It warns and reports the current correction.
func (s *Source) SetFrequencyCorrection(stream int, ppm float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.streamChannel(stream); err != nil {
		return 0, err
	}
	s.log.Warn("frequency correction is not implemented")
	return 0, nil
}

// FrequencyCorrection reports the frequency correction in ppm.
func (s *Source) FrequencyCorrection(stream int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.streamChannel(stream); err != nil {
		return 0, err
	}
	return 0, nil
}

// SetGain sets the overall receive gain in dB on the stream's channel
// and returns the gain now set.
func (s *Source) SetGain(stream int, gain float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return 0, err
	}
	g, ok := s.session.(GainController)
	if !ok {
		s.warnUnsupported("set gain")
		return gain, nil
	}
	if err := g.SetGain(ch, gain); err != nil {
		return 0, fmt.Errorf("set gain: %w", err)
	}
	return g.Gain(ch)
}

// Gain reports the stream's receive gain in dB.
func (s *Source) Gain(stream int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return 0, err
	}
	g, ok := s.session.(GainController)
	if !ok {
		return 0, nil
	}
	return g.Gain(ch)
}

// SetGainMode switches the stream's channel between manual and automatic
// gain.
func (s *Source) SetGainMode(stream int, automatic bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return err
	}
	g, ok := s.session.(GainController)
	if !ok {
		s.warnUnsupported("set gain mode")
		return nil
	}
	if err := g.SetGainMode(ch, automatic); err != nil {
		return fmt.Errorf("set gain mode: %w", err)
	}
	return nil
}

// GainMode reports whether the stream's channel gain is automatic.
func (s *Source) GainMode(stream int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.streamChannel(stream)
	if err != nil {
		return false, err
	}
	g, ok := s.session.(GainController)
	if !ok {
		return false, nil
	}
	return g.GainMode(ch)
}

// SetAGCMode selects the automatic gain control profile by name. Unknown
// names are warned about and ignored.
func (s *Source) SetAGCMode(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.session.(GainController)
	if !ok {
		s.warnUnsupported("set agc mode")
		return nil
	}
	if err := g.SetAGCMode(name); err != nil {
		if errors.Is(err, ErrUnsupported) {
			s.log.Warn("unknown agc mode", logging.Field{Key: "mode", Value: name})
			return nil
		}
		return fmt.Errorf("set agc mode: %w", err)
	}
	return nil
}

// SetDCOffsetMode drives the stream's DC offset correction. Off resets
// the trim to zero, manual keeps correcting with the last applied
// values, automatic is not implemented and warns.
func (s *Source) SetDCOffsetMode(stream int, mode CorrectionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.streamChannel(stream); err != nil {
		return err
	}
	switch mode {
	case CorrectionOff:
		s.dcMode[stream] = mode
		return s.setDCOffsetLocked(stream, 0)
	case CorrectionManual:
		s.dcMode[stream] = mode
		return nil
	case CorrectionAutomatic:
		s.log.Warn("automatic dc correction mode is not implemented")
		return nil
	default:
		return fmt.Errorf("%w: unknown correction mode %d", ErrConfiguration, mode)
	}
}

// SetDCOffset applies a manual DC offset trim on the stream's channel.
func (s *Source) SetDCOffset(stream int, offset complex64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.streamChannel(stream); err != nil {
		return err
	}
	return s.setDCOffsetLocked(stream, offset)
}

func (s *Source) setDCOffsetLocked(stream int, offset complex64) error {
	s.dcLast[stream] = offset
	c, ok := s.session.(Corrector)
	if !ok {
		s.warnUnsupported("set dc offset")
		return nil
	}
	ch, _ := s.chanmap.Channel(stream)
	if err := c.SetDCOffset(ch, offset); err != nil {
		return fmt.Errorf("set dc offset: %w", err)
	}
	return nil
}

// SetIQBalanceMode drives the stream's IQ imbalance correction with the
// same semantics as SetDCOffsetMode.
func (s *Source) SetIQBalanceMode(stream int, mode CorrectionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.streamChannel(stream); err != nil {
		return err
	}
	switch mode {
	case CorrectionOff:
		s.iqMode[stream] = mode
		return s.setIQBalanceLocked(stream, 0)
	case CorrectionManual:
		s.iqMode[stream] = mode
		return nil
	case CorrectionAutomatic:
		s.log.Warn("automatic iq correction mode is not implemented")
		return nil
	default:
		return fmt.Errorf("%w: unknown correction mode %d", ErrConfiguration, mode)
	}
}

// SetIQBalance applies a manual IQ imbalance trim on the stream's
// channel.
func (s *Source) SetIQBalance(stream int, balance complex64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.streamChannel(stream); err != nil {
		return err
	}
	return s.setIQBalanceLocked(stream, balance)
}

func (s *Source) setIQBalanceLocked(stream int, balance complex64) error {
	s.iqLast[stream] = balance
	c, ok := s.session.(Corrector)
	if !ok {
		s.warnUnsupported("set iq balance")
		return nil
	}
	ch, _ := s.chanmap.Channel(stream)
	if err := c.SetIQBalance(ch, balance); err != nil {
		return fmt.Errorf("set iq balance: %w", err)
	}
	return nil
}

// SetBiasTee powers the antenna bias tee on the first mapped channel.
// Devices without one warn and carry on.
func (s *Source) SetBiasTee(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hc, ok := s.session.(HardwareControl)
	if !ok {
		s.warnUnsupported("set bias tee")
		return nil
	}
	ch, _ := s.chanmap.Channel(0)
	if err := hc.SetBiasTee(ch, enable); err != nil {
		if errors.Is(err, ErrUnsupported) {
			s.log.Warn("bias tee not supported by device")
			return nil
		}
		return fmt.Errorf("set bias tee: %w", err)
	}
	return nil
}

// SetLoopback selects a loopback mode. Modes the device rejects as
// unsupported warn and carry on.
func (s *Source) SetLoopback(mode Loopback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hc, ok := s.session.(HardwareControl)
	if !ok {
		s.warnUnsupported("set loopback")
		return nil
	}
	if err := hc.SetLoopback(mode); err != nil {
		if errors.Is(err, ErrUnsupported) {
			s.log.Warn("loopback mode not supported by device", logging.Field{Key: "mode", Value: string(mode)})
			return nil
		}
		return fmt.Errorf("set loopback: %w", err)
	}
	return nil
}

// SetRXMux selects what feeds the receive FIFOs. Modes the device
// rejects as unsupported warn and carry on.
func (s *Source) SetRXMux(mode RXMux) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hc, ok := s.session.(HardwareControl)
	if !ok {
		s.warnUnsupported("set rx mux")
		return nil
	}
	if err := hc.SetRXMux(mode); err != nil {
		if errors.Is(err, ErrUnsupported) {
			s.log.Warn("rx mux mode not supported by device", logging.Field{Key: "mode", Value: string(mode)})
			return nil
		}
		return fmt.Errorf("set rx mux: %w", err)
	}
	return nil
}

// SetSampling selects the ADC input connection. Any device refusal is
// reported as a warning.
func (s *Source) SetSampling(mode Sampling) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hc, ok := s.session.(HardwareControl)
	if !ok {
		s.warnUnsupported("set sampling")
		return nil
	}
	if err := hc.SetSampling(mode); err != nil {
		s.log.Warn("problem while setting sampling mode", logging.Err(err))
	}
	return nil
}

// ClockSources lists the selectable reference clock sources.
func (s *Source) ClockSources() []string {
	return []string{"internal", "external"}
}

// SetClockSource selects the reference clock.
func (s *Source) SetClockSource(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.session.(ClockControl)
	if !ok {
		s.warnUnsupported("set clock source")
		return nil
	}
	if err := cc.SetClockSource(source); err != nil {
		return fmt.Errorf("set clock source: %w", err)
	}
	return nil
}

// ClockSource reports the selected reference clock.
func (s *Source) ClockSource() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.session.(ClockControl)
	if !ok {
		return "internal", nil
	}
	return cc.ClockSource()
}
