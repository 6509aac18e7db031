package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hz.tools/rf"

	osmosdr "github.com/CellWizard/gr-osmosdr"
	"github.com/CellWizard/gr-osmosdr/bladerf"
	"github.com/CellWizard/gr-osmosdr/internal/app"
	"github.com/CellWizard/gr-osmosdr/internal/logging"
	"github.com/CellWizard/gr-osmosdr/internal/telemetry"
)

func main() {
	const configPath = "osmocap.json"

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	logger := logging.New(level, logging.Text, os.Stderr)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := osmosdr.Open(cfg.deviceArgs)
	if err != nil {
		log.Fatalf("open source: %v", err)
	}
	defer src.Close()

	if err := tune(src, cfg); err != nil {
		log.Fatalf("tune source: %v", err)
	}

	var sink app.Sink
	if cfg.outPath != "" {
		fileSink, err := app.NewFileSink(cfg.outPath)
		if err != nil {
			log.Fatalf("open output: %v", err)
		}
		sink = fileSink
	} else {
		sink = &app.DiscardSink{}
	}

	var reporters []telemetry.Reporter
	var hub *telemetry.Hub
	if cfg.webAddr != "" {
		hub = telemetry.NewHub(cfg.historyLimit, logger)
		reporters = append(reporters, hub)
		go telemetry.NewWebServer(cfg.webAddr, hub, logger).Start(ctx)
		log.Printf("Web interface: http://localhost%s", cfg.webAddr)
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	runner := app.NewRunner(src, sink, telemetry.MultiReporter(reporters), logger, app.Config{
		BufferSize:    cfg.bufferSize,
		SampleRate:    uint(cfg.sampleRate),
		WarmupBuffers: cfg.warmupBuffers,
		ReportEvery:   time.Duration(cfg.reportMillis) * time.Millisecond,
		MaxBuffers:    uint64(cfg.maxBuffers),
	})
	if hub != nil {
		runner.AttachSpectrum(hub)
	}

	log.Printf("Starting capture (Ctrl+C to stop)...")
	runErr := runner.Run(ctx)
	closeErr := sink.Close()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("run capture: %v", runErr)
	}
	if closeErr != nil {
		log.Fatalf("close output: %v", closeErr)
	}
	if fileSink, ok := sink.(*app.FileSink); ok {
		log.Printf("Wrote %d samples to %s", fileSink.Samples(), cfg.outPath)
	}
}

// tune pushes the command line's analog settings to every stream.
func tune(src *bladerf.Source, cfg cliConfig) error {
	actualRate, err := src.SetSampleRate(uint(cfg.sampleRate))
	if err != nil {
		return err
	}
	log.Printf("Sample rate: %d S/s", actualRate)

	for stream := 0; stream < src.ActiveChannels(); stream++ {
		if _, err := src.SetFrequency(stream, rf.Hz(cfg.frequency)); err != nil {
			return err
		}
		if _, err := src.SetBandwidth(stream, rf.Hz(cfg.bandwidth)); err != nil {
			return err
		}
		if _, err := src.SetGain(stream, cfg.gain); err != nil {
			return err
		}
	}
	if cfg.antenna != "" {
		name, err := src.SetAntenna(0, cfg.antenna)
		if err != nil {
			return err
		}
		log.Printf("Antenna: %s", name)
	}
	return nil
}

type cliConfig struct {
	deviceArgs    string
	sampleRate    float64
	frequency     float64
	bandwidth     float64
	gain          float64
	antenna       string
	outPath       string
	bufferSize    int
	warmupBuffers int
	maxBuffers    int
	reportMillis  int
	historyLimit  int
	webAddr       string
	logLevel      string
}

type persistentConfig struct {
	DeviceArgs    string  `json:"device_args"`
	SampleRate    float64 `json:"sample_rate"`
	Frequency     float64 `json:"frequency"`
	Bandwidth     float64 `json:"bandwidth"`
	Gain          float64 `json:"gain"`
	Antenna       string  `json:"antenna"`
	OutPath       string  `json:"out_path"`
	BufferSize    int     `json:"buffer_size"`
	WarmupBuffers int     `json:"warmup_buffers"`
	MaxBuffers    int     `json:"max_buffers"`
	ReportMillis  int     `json:"report_interval_ms"`
	HistoryLimit  int     `json:"history_limit"`
	WebAddr       string  `json:"web_addr"`
	LogLevel      string  `json:"log_level"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("osmocap", flag.ContinueOnError)
	fs.StringVar(&cfg.deviceArgs, "device", envString(lookup, "OSMOCAP_DEVICE", defaults.DeviceArgs), "Device argument string (e.g. bladerf=0,nchan=2 or sim)")
	fs.Float64Var(&cfg.sampleRate, "sample-rate", envFloat(lookup, "OSMOCAP_SAMPLE_RATE", defaults.SampleRate), "Sample rate in Hz")
	fs.Float64Var(&cfg.frequency, "freq", envFloat(lookup, "OSMOCAP_FREQ", defaults.Frequency), "Center frequency in Hz")
	fs.Float64Var(&cfg.bandwidth, "bandwidth", envFloat(lookup, "OSMOCAP_BANDWIDTH", defaults.Bandwidth), "Filter bandwidth in Hz (0 picks one from the sample rate)")
	fs.Float64Var(&cfg.gain, "gain", envFloat(lookup, "OSMOCAP_GAIN", defaults.Gain), "Overall RX gain (dB)")
	fs.StringVar(&cfg.antenna, "antenna", envString(lookup, "OSMOCAP_ANTENNA", defaults.Antenna), "RX antenna for stream 0 (RX1|RX2)")
	fs.StringVar(&cfg.outPath, "out", envString(lookup, "OSMOCAP_OUT", defaults.OutPath), "Capture file path (empty discards samples)")
	fs.IntVar(&cfg.bufferSize, "buffer-size", envInt(lookup, "OSMOCAP_BUFFER_SIZE", defaults.BufferSize), "Samples per produce call")
	fs.IntVar(&cfg.warmupBuffers, "warmup-buffers", envInt(lookup, "OSMOCAP_WARMUP_BUFFERS", defaults.WarmupBuffers), "Number of RX buffers to discard for warm-up")
	fs.IntVar(&cfg.maxBuffers, "max-buffers", envInt(lookup, "OSMOCAP_MAX_BUFFERS", defaults.MaxBuffers), "Stop after this many buffers (0 runs until interrupted)")
	fs.IntVar(&cfg.reportMillis, "report-interval-ms", envInt(lookup, "OSMOCAP_REPORT_INTERVAL_MS", defaults.ReportMillis), "Telemetry report interval in milliseconds")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "OSMOCAP_HISTORY_LIMIT", defaults.HistoryLimit), "Maximum samples to keep in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "OSMOCAP_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "OSMOCAP_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		DeviceArgs:    cfg.deviceArgs,
		SampleRate:    cfg.sampleRate,
		Frequency:     cfg.frequency,
		Bandwidth:     cfg.bandwidth,
		Gain:          cfg.gain,
		Antenna:       cfg.antenna,
		OutPath:       cfg.outPath,
		BufferSize:    cfg.bufferSize,
		WarmupBuffers: cfg.warmupBuffers,
		MaxBuffers:    cfg.maxBuffers,
		ReportMillis:  cfg.reportMillis,
		HistoryLimit:  cfg.historyLimit,
		WebAddr:       cfg.webAddr,
		LogLevel:      cfg.logLevel,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	var cfg persistentConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		DeviceArgs:    "sim",
		SampleRate:    2e6,
		Frequency:     100e6,
		Bandwidth:     0,
		Gain:          30,
		OutPath:       "",
		BufferSize:    1 << 12,
		WarmupBuffers: 3,
		MaxBuffers:    0,
		ReportMillis:  1000,
		HistoryLimit:  500,
		WebAddr:       "",
		LogLevel:      "info",
	}
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
