// Package osmosdr opens bladeRF receive sources from device argument
// strings. The argument string selects a session and shapes the stream:
//
//	Open("bladerf=0,buflen=8192")          first attached board
//	Open("sim,nchan=2")                    synthesized dual-channel source
//	Open("file=dump.rfcap,loop")           capture replay with header
//	Open("file=dump.c64,rate=2000000")     headerless capture replay
//
// Stream geometry keys: nchan, buffers, buflen, transfers,
// stream_timeout (ms), fail_limit, meta. Hardware keys: sampling,
// biastee, loopback, rxmux, agc, agc_mode. Logging: loglevel.
package osmosdr

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CellWizard/gr-osmosdr/bladerf"
	"github.com/CellWizard/gr-osmosdr/internal/args"
	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// Open builds a receive source from a device argument string. The
// session is owned by the source; Close releases it.
func Open(deviceArgs string) (*bladerf.Source, error) {
	d := args.Parse(deviceArgs)

	log := logging.Default()
	if d.Has("loglevel") {
		lvl, err := logging.ParseLevel(d.String("loglevel", "info"))
		if err != nil {
			return nil, err
		}
		log = logging.New(lvl, logging.Text, os.Stderr)
	}

	cfg, err := sourceConfig(d, log)
	if err != nil {
		return nil, err
	}

	sess, err := openSession(d, log)
	if err != nil {
		return nil, err
	}

	src, err := bladerf.New(cfg, sess)
	if err != nil {
		sess.Close()
		return nil, err
	}

	if err := applyDeviceArgs(src, d); err != nil {
		src.Close()
		return nil, err
	}
	return src, nil
}

func sourceConfig(d args.Dict, log logging.Logger) (bladerf.Config, error) {
	cfg := bladerf.Config{Logger: log}

	var err error
	if cfg.NumStreams, err = d.Int("nchan", 1); err != nil {
		return cfg, err
	}
	if cfg.NumBuffers, err = d.Int("buffers", 0); err != nil {
		return cfg, err
	}
	if cfg.SamplesPerBuffer, err = d.Int("buflen", 0); err != nil {
		return cfg, err
	}
	if cfg.NumTransfers, err = d.Int("transfers", 0); err != nil {
		return cfg, err
	}
	if cfg.FailureLimit, err = d.Int("fail_limit", 0); err != nil {
		return cfg, err
	}

	timeoutMS, err := d.Int("stream_timeout", 0)
	if err != nil {
		return cfg, err
	}
	if timeoutMS > 0 {
		cfg.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}

	if d.Bool("meta", false) {
		cfg.Format = bladerf.FormatSC16Q11Meta
	}
	return cfg, nil
}

func openSession(d args.Dict, log logging.Logger) (bladerf.Session, error) {
	switch {
	case d.Has("sim"):
		seed, err := d.Int("seed", 0)
		if err != nil {
			return nil, err
		}
		return bladerf.NewSim(bladerf.SimConfig{Seed: int64(seed), Logger: log}), nil

	case d.Has("file"):
		path := d.String("file", "")
		if path == "" {
			return nil, fmt.Errorf("file argument needs a path")
		}
		pcfg := bladerf.PlaybackConfig{Loop: d.Bool("loop", false), Logger: log}
		if d.Has("rate") {
			rate, err := d.Uint("rate", 0)
			if err != nil {
				return nil, err
			}
			return bladerf.OpenRawCapture(path, rate, pcfg)
		}
		return bladerf.OpenCapture(path, pcfg)

	default:
		return bladerf.OpenHardware(bladerf.HardwareConfig{
			Identifier: d.String("bladerf", ""),
			Logger:     log,
		})
	}
}

// applyDeviceArgs pushes hardware keys through the source's control
// surface. Unknown mode names are construction errors; devices that
// reject a supported name only warn.
func applyDeviceArgs(src *bladerf.Source, d args.Dict) error {
	if d.Has("loopback") {
		mode, err := bladerf.ParseLoopback(d.String("loopback", string(bladerf.LoopbackNone)))
		if err != nil {
			return err
		}
		if err := src.SetLoopback(mode); err != nil {
			return err
		}
	}
	if d.Has("rxmux") {
		mode, err := bladerf.ParseRXMux(d.String("rxmux", string(bladerf.RXMuxBaseband)))
		if err != nil {
			return err
		}
		if err := src.SetRXMux(mode); err != nil {
			return err
		}
	}
	if d.Has("sampling") {
		mode, err := bladerf.ParseSampling(d.String("sampling", string(bladerf.SamplingInternal)))
		if err != nil {
			return err
		}
		if err := src.SetSampling(mode); err != nil {
			return err
		}
	}
	if d.Has("biastee") {
		if err := src.SetBiasTee(biasTeeRequested(d.String("biastee", ""))); err != nil {
			return err
		}
	}
	if d.Has("agc_mode") {
		if err := src.SetAGCMode(d.String("agc_mode", "default")); err != nil {
			return err
		}
	}
	if d.Has("agc") {
		auto := d.Bool("agc", false)
		for stream := 0; stream < src.ActiveChannels(); stream++ {
			if err := src.SetGainMode(stream, auto); err != nil {
				return err
			}
		}
	}
	return nil
}

func biasTeeRequested(value string) bool {
	switch strings.ToLower(value) {
	case "", "1", "on", "true", "rx":
		return true
	}
	return false
}
