package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dmscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Detection metrics
	detectRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmscan_detect_requests_total",
			Help: "Total number of detection requests",
		},
		[]string{"source", "status"}, // source: upload, base64, url, websocket
	)

	detectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dmscan_detection_duration_seconds",
			Help:    "Time spent running the backend set per image",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmscan_detections_total",
			Help: "Total number of codes reported after deduplication",
		},
		[]string{"method"},
	)

	backendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmscan_backend_failures_total",
			Help: "Total number of backend invocations that failed or panicked",
		},
		[]string{"backend"},
	)

	dedupeDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmscan_dedupe_dropped_total",
			Help: "Total number of detections dropped as duplicates",
		},
	)

	annotationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmscan_annotation_failures_total",
			Help: "Total number of annotated images that could not be rendered or stored",
		},
	)

	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmscan_fetch_total",
			Help: "Remote image fetches by outcome",
		},
		[]string{"outcome"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmscan_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dmscan_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 4 * 1024 * 1024, 16 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmscan_active_websockets",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
