package server

import (
	"context"
	"encoding/json"
	"image"
	"net/http"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/MeKo-Tech/pagefuse/internal/refine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pipelineInterface defines the methods needed by the server from a pipeline.
type pipelineInterface interface {
	Normalize(ctx context.Context, raw [][][]float32, shapes []detector.ImageShape) ([]layout.AnnotationSet, error)
	Process(ctx context.Context, raw [][][]float32, shapes []detector.ImageShape) (*pipeline.BatchResult, error)
	RefineWith(ctx context.Context, sets []layout.AnnotationSet, opts refine.Options) ([]layout.AnnotationSet, error)
	DetectImages(ctx context.Context, images []image.Image) (*pipeline.BatchResult, error)
	HasModel() bool
	Config() pipeline.Config
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    pipelineInterface
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	PipelineConfig pipeline.Config
	RateLimit      RateLimitConfig
}

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Model   bool   `json:"model"`
	Time    string `json:"time"`
}

// RefineRequest is the body of /v1/refine and of WebSocket refine messages.
type RefineRequest struct {
	Annotations []layout.AnnotationSet `json:"annotations"`
	FinalThresh *float64               `json:"final_thresh,omitempty"`
}

// UnmarshalJSON also accepts a bare array of annotation sets.
func (r *RefineRequest) UnmarshalJSON(data []byte) error {
	var sets []layout.AnnotationSet
	if err := json.Unmarshal(data, &sets); err == nil {
		*r = RefineRequest{Annotations: sets}
		return nil
	}
	type plain RefineRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RefineRequest(p)
	return nil
}

// AnnotationsResponse is returned by the refine, normalize and detect endpoints.
type AnnotationsResponse struct {
	Success     bool                   `json:"success"`
	RequestID   string                 `json:"request_id,omitempty"`
	Annotations []layout.AnnotationSet `json:"annotations,omitempty"`
	Timings     map[string]float64     `json:"timings_ms,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// NewServer creates a server with a pipeline built from config.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.New(config.PipelineConfig)
	if err != nil {
		return nil, err
	}
	return newServer(config, pl), nil
}

func newServer(config Config, pl pipelineInterface) *Server {
	s := &Server{
		pipeline:    pl,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 50
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}
	return s
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/refine", s.chain(s.refineHandler))
	mux.HandleFunc("/v1/normalize", s.chain(s.normalizeHandler))
	mux.HandleFunc("/v1/detect", s.chain(s.detectHandler))
	mux.HandleFunc("/ws/refine", s.requestIDMiddleware(s.refineWebSocketHandler))
}

// chain applies CORS, request ID and rate limiting to an API handler.
func (s *Server) chain(h http.HandlerFunc) http.HandlerFunc {
	return s.corsMiddleware(s.requestIDMiddleware(s.rateLimitMiddleware(h)))
}
