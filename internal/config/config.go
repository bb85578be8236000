//nolint:lll
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/models"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/MeKo-Tech/pagefuse/internal/refine"
)

// Config represents the complete configuration for the pagefuse application.
// It covers every command (refine, normalize, detect, serve) and supports
// loading from configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Normalizer NormalizerConfig `mapstructure:"normalizer" yaml:"normalizer" json:"normalizer"`
	Refine     RefineConfig     `mapstructure:"refine" yaml:"refine" json:"refine"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model" json:"model"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	GPU        GPUConfig        `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// NormalizerConfig contains raw detector output decoding settings.
type NormalizerConfig struct {
	NumClasses    int     `mapstructure:"num_classes" yaml:"num_classes" json:"num_classes"`
	ConfThresh    float64 `mapstructure:"conf_thresh" yaml:"conf_thresh" json:"conf_thresh"`
	IoUThresh     float64 `mapstructure:"iou_thresh" yaml:"iou_thresh" json:"iou_thresh"`
	MinScore      float64 `mapstructure:"min_score" yaml:"min_score" json:"min_score"`
	ClassAgnostic bool    `mapstructure:"class_agnostic" yaml:"class_agnostic" json:"class_agnostic"`
	TargetWidth   int     `mapstructure:"target_width" yaml:"target_width" json:"target_width"`
	TargetHeight  int     `mapstructure:"target_height" yaml:"target_height" json:"target_height"`
}

// RefineConfig contains layout heuristic settings.
type RefineConfig struct {
	FinalThresh         float64 `mapstructure:"final_thresh" yaml:"final_thresh" json:"final_thresh"`
	TableExpandRatio    float64 `mapstructure:"table_expand_ratio" yaml:"table_expand_ratio" json:"table_expand_ratio"`
	TitleIoUThresh      float64 `mapstructure:"title_iou_thresh" yaml:"title_iou_thresh" json:"title_iou_thresh"`
	TitleDistanceThresh float64 `mapstructure:"title_distance_thresh" yaml:"title_distance_thresh" json:"title_distance_thresh"`
}

// PipelineConfig contains batching and parallelism settings.
type PipelineConfig struct {
	MaxBatchSize     int `mapstructure:"max_batch_size" yaml:"max_batch_size" json:"max_batch_size"`
	MaxWorkers       int `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	WarmupIterations int `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// ModelConfig contains local ONNX model settings. An empty path disables
// the model unless the default model file exists.
type ModelConfig struct {
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
	NumThreads int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string  `mapstructure:"host" yaml:"host" json:"host"`
	Port            int     `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string  `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int     `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimitRPS    float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	norm := detector.DefaultNormalizeOptions()
	ref := refine.DefaultOptions()
	par := pipeline.DefaultParallelConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Normalizer: NormalizerConfig{
			NumClasses:    norm.NumClasses,
			ConfThresh:    norm.ConfThreshold,
			IoUThresh:     norm.IoUThreshold,
			MinScore:      norm.MinScore,
			ClassAgnostic: norm.ClassAgnostic,
			TargetWidth:   norm.TargetWidth,
			TargetHeight:  norm.TargetHeight,
		},
		Refine: RefineConfig{
			FinalThresh:         ref.FinalThreshold,
			TableExpandRatio:    ref.TableExpandRatio,
			TitleIoUThresh:      ref.TitleIoUThreshold,
			TitleDistanceThresh: ref.TitleDistanceThreshold,
		},
		Pipeline: PipelineConfig{
			MaxBatchSize:     8,
			MaxWorkers:       par.MaxWorkers,
			WarmupIterations: 0,
		},
		Output: OutputConfig{Format: "json"},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimitRPS:    0,
			RateLimitBurst:  20,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"json", "yaml", "text"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	for name, v := range map[string]float64{
		"normalizer.conf_thresh":  c.Normalizer.ConfThresh,
		"normalizer.iou_thresh":   c.Normalizer.IoUThresh,
		"normalizer.min_score":    c.Normalizer.MinScore,
		"refine.final_thresh":     c.Refine.FinalThresh,
		"refine.title_iou_thresh": c.Refine.TitleIoUThresh,
	} {
		if err := validateThreshold(v, name); err != nil {
			return err
		}
	}

	if c.Normalizer.NumClasses <= 0 {
		return fmt.Errorf("invalid normalizer.num_classes: %d (must be positive)", c.Normalizer.NumClasses)
	}
	if c.Normalizer.TargetWidth <= 0 || c.Normalizer.TargetHeight <= 0 {
		return fmt.Errorf("invalid target size: %dx%d (must be positive)", c.Normalizer.TargetWidth, c.Normalizer.TargetHeight)
	}
	if c.Refine.TableExpandRatio < 0 {
		return fmt.Errorf("invalid refine.table_expand_ratio: %.2f (must be non-negative)", c.Refine.TableExpandRatio)
	}
	if c.Pipeline.MaxBatchSize <= 0 {
		return fmt.Errorf("invalid pipeline max batch size: %d (must be positive)", c.Pipeline.MaxBatchSize)
	}
	if c.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("invalid pipeline max workers: %d (must be positive)", c.Pipeline.MaxWorkers)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("invalid rate limit: %.2f (must be non-negative)", c.Server.RateLimitRPS)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = models.GetModelsDir(c.ModelsDir)
	cfg.Normalize = c.toNormalizeOptions()
	cfg.Refine = c.toRefineOptions()
	cfg.Model = c.toModelConfig()
	cfg.EnableModel = c.Model.Path != "" || fileExists(cfg.Model.ModelPath)
	cfg.MaxBatchSize = c.Pipeline.MaxBatchSize
	cfg.WarmupIterations = c.Pipeline.WarmupIterations
	cfg.Parallel.MaxWorkers = c.Pipeline.MaxWorkers
	return cfg
}

func (c *Config) toNormalizeOptions() detector.NormalizeOptions {
	opts := detector.DefaultNormalizeOptions()
	opts.NumClasses = c.Normalizer.NumClasses
	opts.ConfThreshold = c.Normalizer.ConfThresh
	opts.IoUThreshold = c.Normalizer.IoUThresh
	opts.MinScore = c.Normalizer.MinScore
	opts.ClassAgnostic = c.Normalizer.ClassAgnostic
	opts.TargetWidth = c.Normalizer.TargetWidth
	opts.TargetHeight = c.Normalizer.TargetHeight
	return opts
}

func (c *Config) toRefineOptions() refine.Options {
	opts := refine.DefaultOptions()
	opts.FinalThreshold = c.Refine.FinalThresh
	opts.TableExpandRatio = c.Refine.TableExpandRatio
	opts.TitleIoUThreshold = c.Refine.TitleIoUThresh
	opts.TitleDistanceThreshold = c.Refine.TitleDistanceThresh
	return opts
}

func (c *Config) toModelConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.ModelPath = models.GetPageElementsModelPath(c.ModelsDir)
	if c.Model.Path != "" {
		cfg.ModelPath = c.Model.Path
	}
	cfg.NumThreads = c.Model.NumThreads
	cfg.TargetWidth = c.Normalizer.TargetWidth
	cfg.TargetHeight = c.Normalizer.TargetHeight
	cfg.GPU.UseGPU = c.GPU.Enabled
	cfg.GPU.DeviceID = c.GPU.Device
	cfg.GPU.GPUMemLimit, _ = parseMemoryLimit(c.GPU.MemoryLimit)
	return cfg
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit converts a GPU memory limit such as "512MB" or "1.5GB"
// to bytes. "auto" and "" mean unlimited (0).
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
