package pipeline

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/models"
	"github.com/MeKo-Tech/pagefuse/internal/refine"
)

// Config holds configuration for the post-processing pipeline and the
// optional local model.
type Config struct {
	ModelsDir        string
	Normalize        detector.NormalizeOptions
	Refine           refine.Options
	Model            detector.Config
	EnableModel      bool // load Model for DetectImages
	WarmupIterations int  // optional warmup runs to reduce first-run latency
	MaxBatchSize     int  // images per model run (default: 8)
	Parallel         ParallelConfig
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir:        models.GetModelsDir(""),
		Normalize:        detector.DefaultNormalizeOptions(),
		Refine:           refine.DefaultOptions(),
		Model:            detector.DefaultConfig(),
		EnableModel:      false,
		WarmupIterations: 0,
		MaxBatchSize:     8,
		Parallel:         DefaultParallelConfig(),
	}
}

// Validate checks the configuration of every stage.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	if err := c.Normalize.Validate(); err != nil {
		return fmt.Errorf("normalizer: %w", err)
	}
	if err := c.Refine.Validate(); err != nil {
		return fmt.Errorf("refine: %w", err)
	}
	if c.Model.TargetWidth != c.Normalize.TargetWidth || c.Model.TargetHeight != c.Normalize.TargetHeight {
		return errors.New("model and normalizer target sizes differ")
	}
	return nil
}

// ParallelConfig holds configuration for parallel processing.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback // Optional progress reporting
}

// DefaultParallelConfig returns sensible defaults for parallel processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithModelsDir sets the models directory and updates the model path.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	b.cfg.Model.ModelPath = models.GetPageElementsModelPath(b.cfg.ModelsDir)
	return b
}

// WithModelPath overrides the model path directly and enables the model.
func (b *Builder) WithModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Model.ModelPath = path
		b.cfg.EnableModel = true
	}
	return b
}

// WithModel toggles loading the local model.
func (b *Builder) WithModel(enabled bool) *Builder {
	b.cfg.EnableModel = enabled
	return b
}

// WithFinalThreshold sets the final confidence filter for tables and charts.
func (b *Builder) WithFinalThreshold(thr float64) *Builder {
	b.cfg.Refine.FinalThreshold = thr
	return b
}

// WithClassAgnosticNMS toggles class-agnostic suppression in the normalizer.
func (b *Builder) WithClassAgnosticNMS(on bool) *Builder {
	b.cfg.Normalize.ClassAgnostic = on
	return b
}

// WithMaxWorkers sets the worker pool size.
func (b *Builder) WithMaxWorkers(n int) *Builder {
	b.cfg.Parallel.MaxWorkers = n
	return b
}

// WithMaxBatchSize sets the number of images per model run.
func (b *Builder) WithMaxBatchSize(n int) *Builder {
	b.cfg.MaxBatchSize = n
	return b
}

// WithProgress sets a progress callback for batch processing.
func (b *Builder) WithProgress(cb ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = cb
	return b
}

// WithWarmupIterations sets the number of warmup runs for the model.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// Config returns the current configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.cfg)
}
