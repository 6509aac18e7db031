// Command osmofm plays wideband FM broadcast audio from a receive
// source through PulseAudio.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/racerxdl/segdsp/demodcore"
	"hz.tools/pulseaudio"
	"hz.tools/rf"

	osmosdr "github.com/CellWizard/gr-osmosdr"
	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

const (
	sampleRate       = 2_000_000
	filterBandwidth  = 240_000
	signalBandwidth  = 80_000
	audioRate        = 48_000
	samplesPerBuffer = 4096
)

func main() {
	device := flag.String("device", "bladerf=0", "Device argument string (e.g. bladerf=0 or sim)")
	freq := flag.Float64("freq", 96.6e6, "Station frequency in Hz")
	gain := flag.Float64("gain", 30, "Overall RX gain (dB)")
	volume := flag.Float64("volume", 1, "Audio scale factor")
	logLevel := flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	logger := logging.New(level, logging.Text, os.Stderr)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := osmosdr.Open(*device)
	if err != nil {
		log.Fatalf("open source: %v", err)
	}
	defer src.Close()

	if src.ActiveChannels() != 1 {
		log.Fatalf("osmofm needs a single stream, got %d", src.ActiveChannels())
	}

	if _, err := src.SetSampleRate(sampleRate); err != nil {
		log.Fatalf("set sample rate: %v", err)
	}
	if _, err := src.SetFrequency(0, rf.Hz(*freq)); err != nil {
		log.Fatalf("set frequency: %v", err)
	}
	if _, err := src.SetBandwidth(0, filterBandwidth); err != nil {
		log.Fatalf("set bandwidth: %v", err)
	}
	if _, err := src.SetGain(0, *gain); err != nil {
		log.Fatalf("set gain: %v", err)
	}

	speaker, err := pulseaudio.NewWriter(pulseaudio.Config{
		Format:     pulseaudio.SampleFormatFloat32NE,
		Rate:       audioRate,
		AppName:    "osmofm",
		StreamName: "wbfm",
		Channels:   1,
	})
	if err != nil {
		log.Fatalf("open audio: %v", err)
	}

	demod := demodcore.MakeWBFMDemodulator(sampleRate, signalBandwidth, audioRate)

	if err := src.Start(); err != nil {
		log.Fatalf("start source: %v", err)
	}
	defer src.Stop()

	log.Printf("Playing %.1f MHz (Ctrl+C to stop)...", *freq/1e6)
	out := [][]complex64{make([]complex64, samplesPerBuffer)}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := src.Produce(out, samplesPerBuffer)
		if errors.Is(err, io.EOF) {
			logger.Info("stream ended")
			return
		}
		if err != nil {
			log.Fatalf("produce: %v", err)
		}
		if n == 0 {
			return
		}

		res := demod.Work(out[0][:n])
		if res == nil {
			continue
		}
		audio := res.(demodcore.DemodData).Data
		if *volume != 1 {
			for i := range audio {
				audio[i] *= float32(*volume)
			}
		}
		if err := speaker.Write(audio); err != nil {
			log.Fatalf("write audio: %v", err)
		}
	}
}
