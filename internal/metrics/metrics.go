// Package metrics holds the Prometheus collectors shared by the pipeline,
// the fusion engine and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BoxRepairs counts coordinate repairs applied before fusion and invalid
	// boxes that refine lets through unrepaired.
	BoxRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefuse_box_repairs_total",
			Help: "Total number of box coordinate repairs, drops and unrepaired invalid boxes",
		},
		[]string{"kind"}, // kind: swap, clamp, zero_area, non_finite, unrepaired
	)

	// ImagesProcessed counts images through each pipeline stage.
	ImagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefuse_images_processed_total",
			Help: "Total number of images processed per pipeline stage",
		},
		[]string{"stage", "status"}, // stage: normalize, refine, detect; status: ok, error
	)

	// DetectionsEmitted counts detections in final refined output.
	DetectionsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagefuse_detections_emitted_total",
			Help: "Total number of detections emitted after refinement",
		},
		[]string{"label"},
	)

	// StageDuration observes batch latency per pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagefuse_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds per batch",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"stage"},
	)

	// ClusterSize observes the member count of each fused cluster.
	ClusterSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagefuse_fusion_cluster_size",
			Help:    "Number of boxes merged into each fused cluster",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
)
