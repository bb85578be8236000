// Package pipeline runs page-elements post-processing over image batches:
// raw detector output is normalized, refined by layout heuristics and
// filtered. With a local model it also covers image preprocessing and
// inference. Images are processed in parallel and results keep input order.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MeKo-Tech/pagefuse/internal/pipeline"

// Pipeline holds the configured stages. It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	model  *detector.Model
	tracer trace.Tracer
}

// New creates a pipeline, loading the model when EnableModel is set.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	p := &Pipeline{cfg: cfg, tracer: otel.Tracer(tracerName)}
	if !cfg.EnableModel {
		return p, nil
	}

	model, err := detector.NewModel(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load page-elements model: %w", err)
	}
	if cfg.WarmupIterations > 0 {
		if err := model.Warmup(cfg.WarmupIterations); err != nil {
			_ = model.Close()
			return nil, err
		}
	}
	p.model = model

	slog.Info("Pipeline initialized", "model", cfg.Model.ModelPath, "max_batch_size", cfg.MaxBatchSize)
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// HasModel reports whether DetectImages is available.
func (p *Pipeline) HasModel() bool { return p.model != nil }

// Close releases the model.
func (p *Pipeline) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}
