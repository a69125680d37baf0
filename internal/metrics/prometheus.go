package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the netmic service
type Metrics struct {
	// Capture metrics
	FramesCaptured   prometheus.Counter
	FramesDropped    prometheus.Counter
	DeviceReadErrors prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Network metrics
	FramesSent   prometheus.Counter
	BytesSent    prometheus.Counter
	SendDuration prometheus.Histogram

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "netmic_frames_captured_total",
			Help: "Total number of audio frames read from the input device",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "netmic_frames_dropped_total",
			Help: "Total number of audio frames discarded because the queue was full",
		}),
		DeviceReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "netmic_device_read_errors_total",
			Help: "Total number of failed device reads",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netmic_queue_depth",
			Help: "Current number of frames waiting to be sent",
		}),

		// Network metrics
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "netmic_frames_sent_total",
			Help: "Total number of audio frames written to clients",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "netmic_bytes_sent_total",
			Help: "Total number of audio bytes written to clients",
		}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "netmic_frame_send_duration_seconds",
			Help:    "Time spent writing one frame to the client",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netmic_active_sessions",
			Help: "Number of clients currently being served",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "netmic_sessions_started_total",
			Help: "Total number of client sessions started",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netmic_sessions_ended_total",
			Help: "Total number of client sessions ended, by cause",
		}, []string{"cause"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "netmic_session_duration_seconds",
			Help:    "Duration of client sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netmic_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netmic_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netmic_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted counts a new session and marks it active
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded records why a session ended and how long it ran
func (m *Metrics) RecordSessionEnded(cause string, durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsEnded.WithLabelValues(cause).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrameCaptured increments the frames captured counter
func (m *Metrics) RecordFrameCaptured() {
	m.FramesCaptured.Inc()
}

// RecordFrameDropped increments the frames dropped counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordFrameSent records a frame written in full
func (m *Metrics) RecordFrameSent(sizeBytes int, durationSeconds float64) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(sizeBytes))
	m.SendDuration.Observe(durationSeconds)
}

// RecordDeviceReadError increments the device read errors counter
func (m *Metrics) RecordDeviceReadError() {
	m.DeviceReadErrors.Inc()
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
