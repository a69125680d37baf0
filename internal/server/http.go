package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lorenzodonini/netmic/internal/audio"
	"github.com/lorenzodonini/netmic/internal/config"
	"github.com/lorenzodonini/netmic/internal/metrics"
	"github.com/lorenzodonini/netmic/internal/stream"
)

// Version is reported by the status API
var Version = "dev"

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	streamMgr *stream.Manager
	tcpServer *TCPServer
	metrics   *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer backs the /metrics
// endpoint and should be the registry m was created with.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	streamMgr *stream.Manager, tcpServer *TCPServer, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		streamMgr: streamMgr,
		tcpServer: tcpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/devices", h.withMetrics("/devices", h.handleDevices))

	// no request metrics for the metrics endpoint itself
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler, for serving without Start
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to encode HTTP response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.streamMgr.GetStats()

	status := "healthy"
	code := http.StatusOK
	select {
	case <-h.tcpServer.Done():
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	default:
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "netmic",
			"version": Version,
		},
		"components": map[string]interface{}{
			"tcp_server": map[string]interface{}{
				"phase":           stats.Phase,
				"sessions_served": stats.SessionsServed,
				"accept_errors":   stats.AcceptErrors,
			},
			"capture": map[string]interface{}{
				"backend":         h.config.Audio.Backend,
				"device_failures": stats.DeviceFailures,
			},
		},
	}

	h.writeJSON(w, code, health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"active":    false,
	}

	if current, ok := h.streamMgr.Current(); ok {
		response["active"] = true
		response["session"] = current
	}
	if last := h.streamMgr.GetStats().LastSession; last != nil {
		response["last_session"] = last
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := h.streamMgr.Config().Params
	cfg := map[string]interface{}{
		"server": map[string]interface{}{
			"bind_address": h.config.Server.BindAddress,
			"port":         h.config.Server.Port,
		},
		"audio": map[string]interface{}{
			"backend":      h.config.Audio.Backend,
			"input_device": params.DeviceIndex,
			"format":       params.Format.String(),
			"sample_rate":  params.SampleRate,
			"channels":     params.Channels,
			"chunk_size":   params.ChunkSize,
			"frame_bytes":  params.FrameSize(),
			"wav_path":     h.config.Audio.WAVPath,
		},
		"pipeline": map[string]interface{}{
			"queue_capacity": h.config.Pipeline.QueueCapacity,
			"idle_timeout":   h.config.Pipeline.GetIdleTimeoutDuration().String(),
			"write_timeout":  h.config.Pipeline.GetWriteTimeoutDuration().String(),
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"tcp":       h.tcpServer.GetStatistics(),
	}
	if current, ok := h.streamMgr.Current(); ok {
		stats["queue"] = current.Queue
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleDevices implements the /devices endpoint
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := h.streamMgr.Config().Source
	devices, err := source.Devices()
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backend": source.Name(),
		"devices": audio.InputDevices(devices),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "netmic",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /session": "Active and last client session",
			"GET /stats":   "Server and queue statistics",
			"GET /config":  "Effective configuration",
			"GET /devices": "Audio input devices of the active backend",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
