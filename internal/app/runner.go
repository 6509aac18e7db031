package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/CellWizard/gr-osmosdr/bladerf"
	"github.com/CellWizard/gr-osmosdr/internal/dsp"
	"github.com/CellWizard/gr-osmosdr/internal/logging"
	"github.com/CellWizard/gr-osmosdr/internal/telemetry"
)

// Producer is the slice of the source the runner drives. A
// *bladerf.Source satisfies it.
type Producer interface {
	Start() error
	Stop() error
	Produce(out [][]complex64, n int) (int, error)
	ActiveChannels() int
	Stats() bladerf.Stats
}

// SpectrumRecorder receives periodic spectrum snapshots.
type SpectrumRecorder interface {
	UpdateSpectrumSnapshot(bins []float64, source string)
}

// Config captures runner configuration.
type Config struct {
	// BufferSize is the number of samples drawn per iteration. It must
	// fit the source's stream configuration.
	BufferSize int

	// SampleRate is the configured device rate, used to place spectrum
	// peaks in Hz.
	SampleRate uint

	// WarmupBuffers are drained and discarded before capture starts.
	WarmupBuffers int

	// ReportEvery is the telemetry cadence. Zero means once a second.
	ReportEvery time.Duration

	// MaxBuffers ends the run after this many captured buffers. Zero
	// runs until the context is canceled or the stream ends.
	MaxBuffers uint64
}

// Runner drives a source's produce loop into a sink, summarizing stream
// health and spectra along the way.
type Runner struct {
	source   Producer
	sink     Sink
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config

	analyzer *dsp.Analyzer
	spectrum SpectrumRecorder
	buffers  uint64
}

// NewRunner wires a producer to a sink. The sink stays open after the
// run; closing it is the caller's job.
func NewRunner(source Producer, sink Sink, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 4096
	}
	if cfg.WarmupBuffers == 0 {
		cfg.WarmupBuffers = 3
	}
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = time.Second
	}
	streams := source.ActiveChannels()
	if streams < 1 {
		streams = 1
	}
	return &Runner{
		source:   source,
		sink:     sink,
		reporter: reporter,
		logger:   logger,
		cfg:      cfg,
		analyzer: dsp.NewAnalyzer(cfg.BufferSize / streams),
	}
}

// AttachSpectrum registers a destination for periodic spectrum
// snapshots.
func (r *Runner) AttachSpectrum(rec SpectrumRecorder) {
	r.spectrum = rec
}

// Buffers reports how many buffers the run has captured, warmup
// excluded.
func (r *Runner) Buffers() uint64 { return r.buffers }

// Run starts the source and pumps buffers into the sink until the
// context is canceled, the buffer budget is spent, or the stream ends.
// The source is stopped on the way out.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.source.Start(); err != nil {
		return fmt.Errorf("start source: %w", err)
	}
	defer func() {
		if err := r.source.Stop(); err != nil {
			r.logger.Warn("stop source", logging.Err(err))
		}
	}()

	streams := r.source.ActiveChannels()
	if streams < 1 {
		streams = 1
	}
	per := r.cfg.BufferSize / streams
	out := make([][]complex64, streams)
	for i := range out {
		out[i] = make([]complex64, per)
	}

	if err := r.warmup(ctx, out); err != nil {
		return err
	}

	lastReport := time.Now()
	var sinceReport uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.source.Produce(out, r.cfg.BufferSize)
		if err == io.EOF {
			r.logger.Info("stream ended", logging.Field{Key: "buffers", Value: r.buffers})
			return nil
		}
		if err != nil {
			return fmt.Errorf("produce: %w", err)
		}
		if n == 0 {
			return nil
		}

		if err := r.sink.Write(out[0][:n/streams]); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
		r.buffers++
		sinceReport += uint64(n)

		if elapsed := time.Since(lastReport); elapsed >= r.cfg.ReportEvery {
			r.report(out[0][:n/streams], sinceReport, elapsed)
			lastReport = time.Now()
			sinceReport = 0
		}

		if r.cfg.MaxBuffers > 0 && r.buffers >= r.cfg.MaxBuffers {
			r.logger.Info("buffer budget spent", logging.Field{Key: "buffers", Value: r.buffers})
			return nil
		}
	}
}

func (r *Runner) warmup(ctx context.Context, out [][]complex64) error {
	for i := 0; i < r.cfg.WarmupBuffers; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		warmupStart := time.Now()
		if _, err := r.source.Produce(out, r.cfg.BufferSize); err != nil {
			return fmt.Errorf("warmup buffer %d: %w", i, err)
		}
		r.logger.Debug("warmup buffer processed",
			logging.Field{Key: "index", Value: i},
			logging.Field{Key: "duration_ms", Value: time.Since(warmupStart).Seconds() * 1000})
	}
	return nil
}

func (r *Runner) report(buf []complex64, produced uint64, elapsed time.Duration) {
	stats := r.source.Stats()
	sample := telemetry.Sample{
		Timestamp: time.Now(),
		Delivered: stats.Delivered,
		Failed:    stats.Failed,
		Restarts:  stats.Restarts,
	}
	if elapsed > 0 {
		sample.RateSPS = float64(produced) / elapsed.Seconds()
	}

	_, dbfs := r.analyzer.Spectrum(buf)
	if len(dbfs) > 0 {
		bin, level := dsp.Peak(dbfs)
		sample.PeakDBFS = level
		sample.PeakHz = dsp.BinOffset(bin, len(dbfs), r.cfg.SampleRate)
		sample.FloorDBFS = dsp.NoiseFloor(dbfs)
		if r.spectrum != nil {
			r.spectrum.UpdateSpectrumSnapshot(dbfs, "live")
		}
	}

	if r.reporter != nil {
		r.reporter.Report(sample)
	}
}
