// Package metrics defines the Prometheus metrics for the live transcription
// service: session lifecycle, chunk pipeline, engine calls, and HTTP/WS
// traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the live transcription service.
type Metrics struct {
	// Session lifecycle metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsSaved     prometheus.Counter
	SessionsDiscarded prometheus.Counter
	SessionsReaped    prometheus.Counter

	// Chunk pipeline metrics
	ChunksProcessed     prometheus.Counter
	ChunksFailed        prometheus.Counter
	ChunkProcessingTime prometheus.Histogram
	SegmentsEmitted     prometheus.Counter

	// Live connection metrics
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	WSMessages        *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_active_sessions",
			Help: "Current number of live transcription sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_saved_total",
			Help: "Total number of sessions persisted to durable storage",
		}),
		SessionsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_discarded_total",
			Help: "Total number of sessions discarded without saving",
		}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_reaped_total",
			Help: "Total number of expired sessions purged by the reaper sweep",
		}),

		ChunksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_chunks_processed_total",
			Help: "Total number of audio chunks transcribed successfully",
		}),
		ChunksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_chunks_failed_total",
			Help: "Total number of audio chunks whose transcript was lost",
		}),
		ChunkProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_chunk_processing_duration_seconds",
			Help:    "Time spent processing one audio chunk end to end",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		SegmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_segments_emitted_total",
			Help: "Total number of transcript segments streamed to clients",
		}),

		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_connections_opened_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		ConnectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_connections_closed_total",
			Help: "Total number of WebSocket connections closed",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_ws_messages_total",
			Help: "Total number of WebSocket messages by direction and type",
		}, []string{"direction", "type"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "live_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// SetActiveSessions sets the current number of live sessions.
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionSaved increments the sessions saved counter.
func (m *Metrics) RecordSessionSaved() {
	m.SessionsSaved.Inc()
}

// RecordSessionDiscarded increments the sessions discarded counter.
func (m *Metrics) RecordSessionDiscarded() {
	m.SessionsDiscarded.Inc()
}

// RecordSessionsReaped adds to the reaped counter after a sweep.
func (m *Metrics) RecordSessionsReaped(count int) {
	m.SessionsReaped.Add(float64(count))
}

// RecordChunkProcessed records one successfully processed chunk.
func (m *Metrics) RecordChunkProcessed(durationSeconds float64, segments int) {
	m.ChunksProcessed.Inc()
	m.ChunkProcessingTime.Observe(durationSeconds)
	m.SegmentsEmitted.Add(float64(segments))
}

// RecordChunkFailed records one chunk whose transcript was lost.
func (m *Metrics) RecordChunkFailed() {
	m.ChunksFailed.Inc()
}

// RecordConnectionOpened increments the connections opened counter.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsOpened.Inc()
}

// RecordConnectionClosed increments the connections closed counter.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsClosed.Inc()
}

// RecordWSMessage records one WebSocket message in the given direction
// ("in" or "out") with its message type.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
