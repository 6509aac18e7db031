package bladerf

import (
	"fmt"
	"time"

	brf "github.com/erayarslan/go-bladerf"
	"hz.tools/rf"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// HardwareConfig selects and shapes a physical device session.
type HardwareConfig struct {
	// Identifier picks a device when several are attached. Only the
	// first device is currently reachable; anything else warns.
	Identifier string

	// MaxChannels overrides the assumed receive channel count. The
	// default of 2 matches current boards.
	MaxChannels int

	Logger logging.Logger
}

// HardwareSession drives a physical bladeRF through the synchronous
// libbladeRF interface. It implements Session and Tuner; gain, loopback
// and the other device toggles are not exposed by the binding, so the
// Source degrades those to warnings.
type HardwareSession struct {
	dev brf.BladeRF
	cfg HardwareConfig
	log logging.Logger

	// The binding has no read-back calls, so the session remembers what
	// it applied.
	freqs map[int]rf.Hz
	rates map[int]uint
	bws   map[int]rf.Hz
}

// OpenHardware opens a device session.
func OpenHardware(cfg HardwareConfig) (*HardwareSession, error) {
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Identifier != "" && cfg.Identifier != "0" {
		cfg.Logger.Warn("device selection by identifier is not available, opening first device",
			logging.Field{Key: "identifier", Value: cfg.Identifier})
	}

	dev, err := brf.Open()
	if err != nil {
		return nil, fmt.Errorf("open bladerf: %w", err)
	}
	cfg.Logger.Info("bladerf device opened")
	return &HardwareSession{
		dev:   dev,
		cfg:   cfg,
		log:   cfg.Logger,
		freqs: make(map[int]rf.Hz),
		rates: make(map[int]uint),
		bws:   make(map[int]rf.Hz),
	}, nil
}

func (h *HardwareSession) ConfigureStream(cfg StreamConfig) error {
	layout := brf.RxX1
	if cfg.Layout == LayoutX2 {
		layout = brf.RxX2
	}
	format := brf.FormatSc16Q11
	if cfg.Format == FormatSC16Q11Meta {
		format = brf.FormatSc16Q11Meta
	}
	err := h.dev.SyncConfig(layout, format, uint(cfg.NumBuffers), uint(cfg.SamplesPerBuffer),
		uint(cfg.NumTransfers), uint(cfg.Timeout/time.Millisecond))
	if err != nil {
		return &DeviceError{Op: "sync config", Text: err.Error()}
	}
	return nil
}

func (h *HardwareSession) EnableChannel(channel int, enable bool) error {
	ch := brf.ChannelRx(channel)
	var err error
	if enable {
		err = h.dev.EnableModule(ch)
	} else {
		err = h.dev.DisableModule(ch)
	}
	if err != nil {
		return &DeviceError{Op: fmt.Sprintf("enable module rx%d", channel+1), Text: err.Error()}
	}
	return nil
}

// Receive draws n device samples into dst. The binding owns the wire
// metadata for the metadata format, so meta is informational here; the
// immediate-receive behavior is implied by the synchronous interface.
func (h *HardwareSession) Receive(dst []int16, n int, meta *Metadata, timeout time.Duration) error {
	data, _, err := h.dev.SyncRX(uintptr(n), brf.Metadata{})
	if err != nil {
		return &DeviceError{Op: "sync rx", Text: err.Error()}
	}
	copy(dst, data)
	return nil
}

func (h *HardwareSession) MaxChannels() int { return h.cfg.MaxChannels }

func (h *HardwareSession) Close() error {
	h.dev.Close()
	return nil
}

func (h *HardwareSession) SetFrequency(channel int, freq rf.Hz) error {
	if err := h.dev.SetFrequency(brf.ChannelRx(channel), uint64(freq)); err != nil {
		return &DeviceError{Op: "set frequency", Text: err.Error()}
	}
	h.freqs[channel] = freq
	return nil
}

func (h *HardwareSession) Frequency(channel int) (rf.Hz, error) {
	return h.freqs[channel], nil
}

func (h *HardwareSession) SetSampleRate(channel int, rate uint) (uint, error) {
	actual, err := h.dev.SetSampleRate(brf.ChannelRx(channel), rate)
	if err != nil {
		return 0, &DeviceError{Op: "set sample rate", Text: err.Error()}
	}
	h.rates[channel] = uint(actual)
	return uint(actual), nil
}

func (h *HardwareSession) SampleRate(channel int) (uint, error) {
	return h.rates[channel], nil
}

func (h *HardwareSession) SetBandwidth(channel int, bw rf.Hz) (rf.Hz, error) {
	actual, err := h.dev.SetBandwidth(brf.ChannelRx(channel), uint(bw))
	if err != nil {
		return 0, &DeviceError{Op: "set bandwidth", Text: err.Error()}
	}
	h.bws[channel] = rf.Hz(actual)
	return rf.Hz(actual), nil
}

func (h *HardwareSession) Bandwidth(channel int) (rf.Hz, error) {
	return h.bws[channel], nil
}
