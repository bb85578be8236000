package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/pagefuse/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestDefaultConfig verifies that DefaultConfig returns expected values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ModelsDir != models.DefaultModelsDir {
		t.Errorf("Expected models_dir %s, got %s", models.DefaultModelsDir, cfg.ModelsDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log_level 'info', got %s", cfg.LogLevel)
	}

	assert.Equal(t, 3, cfg.Normalizer.NumClasses)
	assert.InDelta(t, 0.01, cfg.Normalizer.ConfThresh, 1e-12)
	assert.InDelta(t, 0.5, cfg.Normalizer.IoUThresh, 1e-12)
	assert.InDelta(t, 0.1, cfg.Normalizer.MinScore, 1e-12)
	assert.True(t, cfg.Normalizer.ClassAgnostic)
	assert.Equal(t, 1024, cfg.Normalizer.TargetWidth)
	assert.Equal(t, 1024, cfg.Normalizer.TargetHeight)
	assert.InDelta(t, 0.48, cfg.Refine.FinalThresh, 1e-12)
	assert.Equal(t, 8, cfg.Pipeline.MaxBatchSize)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 8080, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"output format", func(c *Config) { c.Output.Format = "csv" }},
		{"conf thresh", func(c *Config) { c.Normalizer.ConfThresh = 1.5 }},
		{"iou thresh", func(c *Config) { c.Normalizer.IoUThresh = -0.1 }},
		{"final thresh", func(c *Config) { c.Refine.FinalThresh = 2 }},
		{"num classes", func(c *Config) { c.Normalizer.NumClasses = 0 }},
		{"target size", func(c *Config) { c.Normalizer.TargetHeight = 0 }},
		{"expand ratio", func(c *Config) { c.Refine.TableExpandRatio = -1 }},
		{"batch size", func(c *Config) { c.Pipeline.MaxBatchSize = 0 }},
		{"workers", func(c *Config) { c.Pipeline.MaxWorkers = 0 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }},
		{"rate limit", func(c *Config) { c.Server.RateLimitRPS = -1 }},
		{"memory limit", func(c *Config) { c.GPU.MemoryLimit = "lots" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"512MB", 512 << 20, false},
		{"1gb", 1 << 30, false},
		{"1.5GB", 3 << 29, false},
		{"100B", 100, false},
		{"2KB", 2048, false},
		{"MB", 0, true},
		{"12", 0, true},
		{"-1GB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMemoryLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalizer.ClassAgnostic = false
	cfg.Normalizer.MinScore = 0.2
	cfg.Refine.FinalThresh = 0.6
	cfg.Refine.TableExpandRatio = 0.3
	cfg.Pipeline.MaxBatchSize = 4
	cfg.Pipeline.MaxWorkers = 2
	cfg.Model.Path = "/models/custom.onnx"
	cfg.Model.NumThreads = 3
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "1GB"

	pc := cfg.ToPipelineConfig()
	assert.False(t, pc.Normalize.ClassAgnostic)
	assert.InDelta(t, 0.2, pc.Normalize.MinScore, 1e-12)
	assert.InDelta(t, 0.6, pc.Refine.FinalThreshold, 1e-12)
	assert.InDelta(t, 0.3, pc.Refine.TableExpandRatio, 1e-12)
	assert.InDelta(t, 1.25, pc.Refine.UnmatchedExpandY, 1e-12)
	assert.Equal(t, 4, pc.MaxBatchSize)
	assert.Equal(t, 2, pc.Parallel.MaxWorkers)
	assert.True(t, pc.EnableModel)
	assert.Equal(t, "/models/custom.onnx", pc.Model.ModelPath)
	assert.Equal(t, 3, pc.Model.NumThreads)
	assert.True(t, pc.Model.GPU.UseGPU)
	assert.Equal(t, 1, pc.Model.GPU.DeviceID)
	assert.Equal(t, uint64(1<<30), pc.Model.GPU.GPUMemLimit)

	require.NoError(t, pc.Validate())
}

func TestToPipelineConfig_NoModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()

	pc := cfg.ToPipelineConfig()
	assert.False(t, pc.EnableModel)
	assert.Equal(t, filepath.Join(cfg.ModelsDir, models.PageElementsV2), pc.Model.ModelPath)
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Refine.FinalThresh = 0.55
	cfg.Server.CORSOrigin = "https://example.com"

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "final_thresh: 0.55")

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestLoader_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Normalizer, cfg.Normalizer)
	assert.Equal(t, DefaultConfig().Refine, cfg.Refine)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAGEFUSE_REFINE_FINAL_THRESH", "0.7")
	t.Setenv("PAGEFUSE_NORMALIZER_CLASS_AGNOSTIC", "false")
	t.Setenv("PAGEFUSE_SERVER_PORT", "9090")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.7, cfg.Refine.FinalThresh, 1e-12)
	assert.False(t, cfg.Normalizer.ClassAgnostic)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoader_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := `
log_level: debug
normalizer:
  min_score: 0.2
refine:
  final_thresh: 0.3
pipeline:
  max_batch_size: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoaderWithViper(viper.New())
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 0.2, cfg.Normalizer.MinScore, 1e-12)
	assert.InDelta(t, 0.3, cfg.Refine.FinalThresh, 1e-12)
	assert.Equal(t, 2, cfg.Pipeline.MaxBatchSize)
	assert.Equal(t, 3, cfg.Normalizer.NumClasses)
	assert.Equal(t, path, loader.GetConfigFileUsed())
}

func TestLoader_FileErrors(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile("/nonexistent/pagefuse.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refine:\n  final_thresh: 3\n"), 0o600))

	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "final_thresh")
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagefuse.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Normalizer, cfg.Normalizer)
	assert.Equal(t, 8, cfg.Pipeline.MaxBatchSize)
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, "/xdg/pagefuse")
	assert.Equal(t, "/etc/pagefuse", paths[len(paths)-1])
}

func TestLoader_DefaultsResolveFromEnv(t *testing.T) {
	t.Setenv("PAGEFUSE_REFINE_FINAL_THRESH", "0.25")
	t.Setenv("PAGEFUSE_NORMALIZER_CLASS_AGNOSTIC", "false")

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	loader := NewLoaderWithViper(viper.New())
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Refine.FinalThresh, 1e-12)
	assert.False(t, cfg.Normalizer.ClassAgnostic)
	assert.Equal(t, DefaultConfig().Normalizer.TargetWidth, cfg.Normalizer.TargetWidth)

	settings := loader.Settings()
	refine, ok := settings["refine"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, refine, "table_expand_ratio")
	assert.Equal(t, "warn", settings["log_level"])
}

func TestLoader_LogConfigInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagefuse.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))
	loader := NewLoaderWithViper(viper.New())
	_, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	loader.LogConfigInfo(slog.New(slog.NewJSONHandler(&buf, nil)))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "configuration sources", entry["msg"])
	assert.Equal(t, path, entry["file"])
	assert.Equal(t, EnvPrefix, entry["env_prefix"])
	assert.NotEmpty(t, entry["search_paths"])
}
