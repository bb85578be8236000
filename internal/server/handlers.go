package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/MeKo-Tech/pagefuse/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Model:   s.pipeline != nil && s.pipeline.HasModel(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// refineHandler applies layout heuristics to posted annotation sets.
func (s *Server) refineHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, r, "pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	var req RefineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, r, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	opts := s.pipeline.Config().Refine
	if req.FinalThresh != nil {
		if *req.FinalThresh < 0 || *req.FinalThresh > 1 {
			s.writeErrorResponse(w, r, "final_thresh must be between 0 and 1", http.StatusBadRequest)
			return
		}
		opts.FinalThreshold = *req.FinalThresh
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	sets, err := s.pipeline.RefineWith(ctx, req.Annotations, opts)
	if err != nil {
		apiRequestsTotal.WithLabelValues("refine", "error").Inc()
		s.writeErrorResponse(w, r, fmt.Sprintf("refine failed: %v", err), statusForError(err))
		return
	}
	apiRequestsTotal.WithLabelValues("refine", "success").Inc()
	apiImagesPerRequest.WithLabelValues("refine").Observe(float64(len(sets)))
	observeAnnotations(sets)

	s.writeJSON(w, http.StatusOK, AnnotationsResponse{
		Success:     true,
		RequestID:   requestIDFrom(r.Context()),
		Annotations: sets,
		Timings:     map[string]float64{"refine": float64(time.Since(start).Microseconds()) / 1000},
	})
}

// normalizeHandler decodes raw detector output and, unless ?refine=false,
// refines the result.
func (s *Server) normalizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, r, "pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	batch, err := detector.DecodeRawBatch(r.Body)
	if err != nil {
		s.writeErrorResponse(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if err := batch.Validate(); err != nil {
		s.writeErrorResponse(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	resp := AnnotationsResponse{RequestID: requestIDFrom(r.Context())}
	if r.URL.Query().Get("refine") == "false" {
		start := time.Now()
		resp.Annotations, err = s.pipeline.Normalize(ctx, batch.Predictions, batch.ImageShapes())
		resp.Timings = map[string]float64{"normalize": float64(time.Since(start).Microseconds()) / 1000}
	} else {
		var res *pipeline.BatchResult
		res, err = s.pipeline.Process(ctx, batch.Predictions, batch.ImageShapes())
		if res != nil {
			resp.Annotations, resp.Timings = res.Annotations, res.Timings
		}
	}

	apiImagesPerRequest.WithLabelValues("normalize").Observe(float64(len(batch.Predictions)))
	observeAnnotations(resp.Annotations)
	if err != nil {
		shapeErrorsTotal.Add(float64(countShapeErrors(err)))
		apiRequestsTotal.WithLabelValues("normalize", "error").Inc()
		resp.Error = err.Error()
		s.writeJSON(w, statusForError(err), resp)
		return
	}
	apiRequestsTotal.WithLabelValues("normalize", "success").Inc()
	resp.Success = true
	s.writeJSON(w, http.StatusOK, resp)
}

// detectHandler runs the local model over uploaded images.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil || !s.pipeline.HasModel() {
		s.writeErrorResponse(w, r, "page-elements model not configured", http.StatusServiceUnavailable)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, r, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, r, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["image"]
	if len(headers) == 0 {
		s.writeErrorResponse(w, r, "No image file provided", http.StatusBadRequest)
		return
	}

	images := make([]image.Image, 0, len(headers))
	for _, fh := range headers {
		uploadSizeBytes.Observe(float64(fh.Size))
		f, err := fh.Open()
		if err != nil {
			s.writeErrorResponse(w, r, "Failed to read image data", http.StatusInternalServerError)
			return
		}
		img, _, err := utils.DecodeImage(f)
		_ = f.Close()
		if err != nil {
			s.writeErrorResponse(w, r, fmt.Sprintf("Invalid image %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		images = append(images, img)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.pipeline.DetectImages(ctx, images)
	apiImagesPerRequest.WithLabelValues("detect").Observe(float64(len(images)))
	if res == nil {
		apiRequestsTotal.WithLabelValues("detect", "error").Inc()
		s.writeErrorResponse(w, r, fmt.Sprintf("detection failed: %v", err), statusForError(err))
		return
	}

	resp := AnnotationsResponse{
		Success:     err == nil,
		RequestID:   requestIDFrom(r.Context()),
		Annotations: res.Annotations,
		Timings:     res.Timings,
	}
	if err != nil {
		apiRequestsTotal.WithLabelValues("detect", "error").Inc()
		resp.Error = err.Error()
		s.writeJSON(w, statusForError(err), resp)
		return
	}
	apiRequestsTotal.WithLabelValues("detect", "success").Inc()
	observeAnnotations(res.Annotations)
	s.writeJSON(w, http.StatusOK, resp)
}

// requestContext bounds processing by the configured timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeoutSec <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
}

// observeAnnotations records per-label result sizes.
func observeAnnotations(sets []layout.AnnotationSet) {
	for _, set := range sets {
		for _, label := range layout.Labels() {
			annotationsReturned.WithLabelValues(label.String()).Observe(float64(len(set.Get(label))))
		}
	}
}

// countShapeErrors counts the per-image shape errors joined into err.
func countShapeErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range joined.Unwrap() {
			n += countShapeErrors(e)
		}
		return n
	}
	if _, ok := err.(*layout.ShapeMismatchError); ok {
		return 1
	}
	return countShapeErrors(errors.Unwrap(err))
}

// statusForError maps pipeline errors to HTTP status codes.
func statusForError(err error) int {
	var shapeErr *layout.ShapeMismatchError
	var dataErr *layout.PrecomputedDataMismatchError
	switch {
	case errors.As(err, &shapeErr), errors.As(err, &dataErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	s.writeJSON(w, statusCode, AnnotationsResponse{
		Success:   false,
		RequestID: requestIDFrom(r.Context()),
		Error:     message,
	})
}
