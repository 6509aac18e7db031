package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// WebServer exposes telemetry history, diagnostics and live updates over
// HTTP.
type WebServer struct {
	srv *http.Server
	hub *Hub
	log logging.Logger
}

// NewWebServer builds an HTTP server serving the history, diagnostics and
// live endpoints.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/config", hub.handleGetConfig)
	mux.HandleFunc("/api/config/update", hub.handleSetConfig)
	mux.HandleFunc("/api/diagnostics", hub.handleDiagnostics)
	mux.HandleFunc("/api/diagnostics/spectrum", hub.handleSpectrumSnapshot)
	mux.HandleFunc("/api/diagnostics/health", hub.handleHealth)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service": "osmosdr telemetry",
			"endpoints": []string{
				"/api/history",
				"/api/live",
				"/api/config",
				"/api/config/update",
				"/api/diagnostics",
				"/api/diagnostics/spectrum",
				"/api/diagnostics/health",
			},
		})
	})

	return &WebServer{
		hub: hub,
		log: logger,
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		w.log.Error("web telemetry server error", logging.Err(err))
	}
}
