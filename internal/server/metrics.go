package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefuse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagefuse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefuse_api_requests_total",
			Help: "Total number of processing requests",
		},
		[]string{"type", "status"}, // type: refine, normalize, detect, websocket_refine
	)

	apiImagesPerRequest = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagefuse_api_images_per_request",
			Help:    "Number of images per processing request",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"type"},
	)

	// Images whose raw rows did not match the configured class count
	shapeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagefuse_shape_errors_total",
			Help: "Total number of images rejected for malformed prediction rows",
		},
	)

	annotationsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagefuse_annotations_returned",
			Help:    "Detections returned per image by label",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
		[]string{"label"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagefuse_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagefuse_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagefuse_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefuse_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
