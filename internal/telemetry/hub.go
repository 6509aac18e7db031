package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Sample captures one stream-health report.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Delivered uint64    `json:"delivered"`
	Failed    uint64    `json:"failed"`
	Restarts  uint64    `json:"restarts"`
	RateSPS   float64   `json:"rateSps"`
	PeakDBFS  float64   `json:"peakDbfs"`
	PeakHz    float64   `json:"peakHz"`
	FloorDBFS float64   `json:"floorDbfs"`
}

// SpectrumSnapshot holds the most recent spectrum handed to the hub.
type SpectrumSnapshot struct {
	Bins      []float64 `json:"bins"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProcessStats describes the running process for diagnostics.
type ProcessStats struct {
	Uptime       float64 `json:"uptimeSeconds"`
	NumGoroutine int     `json:"numGoroutine"`
}

// Diagnostics aggregates process, spectrum and stream state for one
// diagnostics response.
type Diagnostics struct {
	Process  ProcessStats     `json:"process"`
	Spectrum SpectrumSnapshot `json:"spectrum"`
	Stream   Sample           `json:"stream"`
}

// HealthStatus reports a coarse ok/degraded verdict.
type HealthStatus struct {
	Status  string       `json:"status"`
	Detail  string       `json:"detail,omitempty"`
	Process ProcessStats `json:"process"`
}

// Hub collects history and fans out telemetry updates to subscribers.
type Hub struct {
	mu           sync.RWMutex
	log          logging.Logger
	started      time.Time
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
	config       Config
	spectrum     SpectrumSnapshot
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, _ = validateConfig(cfg, defaultConfig())
	return &Hub{
		log:          logger,
		started:      time.Now(),
		historyLimit: cfg.HistoryLimit,
		subscribers:  make(map[chan Sample]struct{}),
		config:       cfg,
	}
}

// Report implements Reporter and records a new telemetry sample.
func (h *Hub) Report(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Latest returns the most recent sample, if any was reported.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return Sample{}, false
	}
	return h.history[len(h.history)-1], true
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateSpectrumSnapshot stores the latest spectrum for diagnostics.
func (h *Hub) UpdateSpectrumSnapshot(bins []float64, source string) {
	snap := SpectrumSnapshot{
		Bins:      append([]float64{}, bins...),
		Source:    source,
		UpdatedAt: time.Now(),
	}
	h.mu.Lock()
	h.spectrum = snap
	h.mu.Unlock()
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

func (h *Hub) processStats() ProcessStats {
	return ProcessStats{
		Uptime:       time.Since(h.started).Seconds(),
		NumGoroutine: runtime.NumGoroutine(),
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()
	h.log.Info("telemetry config updated", logging.Field{Key: "history_limit", Value: cfg.HistoryLimit})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

func (h *Hub) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	spectrum := h.spectrum
	var stream Sample
	if len(h.history) > 0 {
		stream = h.history[len(h.history)-1]
	}
	h.mu.RUnlock()

	resp := Diagnostics{
		Process:  h.processStats(),
		Spectrum: spectrum,
		Stream:   stream,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Hub) handleSpectrumSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	spectrum := h.spectrum
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(spectrum)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	haveSpectrum := len(h.spectrum.Bins) > 0
	h.mu.RUnlock()

	status := HealthStatus{Status: "ok", Process: h.processStats()}
	if !haveSpectrum {
		status.Status = "degraded"
		status.Detail = "no spectrum data received yet"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()
	h.log.Debug("live subscriber connected", logging.Field{Key: "remote", Value: r.RemoteAddr})
	defer h.log.Debug("live subscriber disconnected", logging.Field{Key: "remote", Value: r.RemoteAddr})

	// send existing history for immediate display
	for _, sample := range h.History() {
		payload, _ := json.Marshal(sample)
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(sample)
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
