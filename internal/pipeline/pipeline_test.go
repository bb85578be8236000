package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/MeKo-Tech/pagefuse/internal/detector"
	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, workers int) *Pipeline {
	t.Helper()
	p, err := NewBuilder().WithMaxWorkers(workers).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// tableRow is a centered table candidate on a 1024x1024 page.
func tableRow(cx, cy, size, conf float32) []float32 {
	return []float32{cx, cy, size, size, conf, 1, 0, 0}
}

func squarePages(n int) []detector.ImageShape {
	shapes := make([]detector.ImageShape, n)
	for i := range shapes {
		shapes[i] = detector.ImageShape{Height: 1024, Width: 1024}
	}
	return shapes
}

func TestBuilder_Defaults(t *testing.T) {
	cfg := NewBuilder().Config()
	assert.Equal(t, 8, cfg.MaxBatchSize)
	assert.False(t, cfg.EnableModel)
	assert.InDelta(t, 0.48, cfg.Refine.FinalThreshold, 1e-12)
	assert.True(t, cfg.Normalize.ClassAgnostic)
	assert.Equal(t, 1024, cfg.Normalize.TargetWidth)
}

func TestBuilder_Options(t *testing.T) {
	cfg := NewBuilder().
		WithFinalThreshold(0.6).
		WithClassAgnosticNMS(false).
		WithMaxWorkers(3).
		WithMaxBatchSize(4).
		WithWarmupIterations(2).
		WithModelsDir("/opt/models").
		Config()

	assert.InDelta(t, 0.6, cfg.Refine.FinalThreshold, 1e-12)
	assert.False(t, cfg.Normalize.ClassAgnostic)
	assert.Equal(t, 3, cfg.Parallel.MaxWorkers)
	assert.Equal(t, 4, cfg.MaxBatchSize)
	assert.Equal(t, 2, cfg.WarmupIterations)
	assert.Equal(t, "/opt/models/yolox_page_elements_v2.onnx", cfg.Model.ModelPath)
	assert.False(t, cfg.EnableModel)

	cfg = NewBuilder().WithModelPath("/tmp/model.onnx").Config()
	assert.Equal(t, "/tmp/model.onnx", cfg.Model.ModelPath)
	assert.True(t, cfg.EnableModel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }},
		{"bad normalizer", func(c *Config) { c.Normalize.NumClasses = 0 }},
		{"bad refine", func(c *Config) { c.Refine.MatchedExpandX = 0 }},
		{"target mismatch", func(c *Config) { c.Model.TargetWidth = 640 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			require.Error(t, cfg.Validate())
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}

func TestPipeline_NoModel(t *testing.T) {
	p := newTestPipeline(t, 2)
	assert.False(t, p.HasModel())

	_, err := p.DetectImages(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestNormalize_PreservesOrder(t *testing.T) {
	p := newTestPipeline(t, 4)

	const n = 24
	raw := make([][][]float32, n)
	for i := range raw {
		raw[i] = [][]float32{tableRow(float32(100+30*i), 512, 64, 0.9)}
	}

	sets, err := p.Normalize(context.Background(), raw, squarePages(n))
	require.NoError(t, err)
	require.Len(t, sets, n)
	for i, set := range sets {
		require.Len(t, set.Table, 1, "image %d", i)
		want := utils.RoundTo(float64(100+30*i-32)/1024, 4)
		assert.InDelta(t, want, set.Table[0].Box.MinX, 1e-9, "image %d", i)
	}
}

func TestNormalize_ShapeMismatchKeepsOtherImages(t *testing.T) {
	p := newTestPipeline(t, 2)

	raw := [][][]float32{
		{tableRow(512, 512, 256, 0.9)},
		{{512, 512, 256, 256, 0.9, 1, 0}},
		{tableRow(256, 256, 128, 0.9)},
	}
	sets, err := p.Normalize(context.Background(), raw, squarePages(3))
	require.Error(t, err)
	require.Len(t, sets, 3)

	var shapeErr *layout.ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 1, shapeErr.ImageIndex)
	assert.Equal(t, 7, shapeErr.Got)
	assert.Equal(t, 8, shapeErr.Want)

	assert.Len(t, sets[0].Table, 1)
	assert.Equal(t, 0, sets[1].Len())
	assert.Len(t, sets[2].Table, 1)
}

func TestNormalizeFrom_ReportsGlobalIndex(t *testing.T) {
	p := newTestPipeline(t, 1)

	raw := [][][]float32{{{1, 2, 3}}}
	_, err := p.normalizeFrom(context.Background(), 8, raw, squarePages(1))

	var shapeErr *layout.ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 8, shapeErr.ImageIndex)
}

func TestNormalize_ShapesLengthMismatch(t *testing.T) {
	p := newTestPipeline(t, 1)

	sets, err := p.Normalize(context.Background(), make([][][]float32, 2), squarePages(1))
	assert.Nil(t, sets)

	var mismatch *layout.PrecomputedDataMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "shapes", mismatch.Field)
}

func TestRefine_AppliesHeuristicsAndFilter(t *testing.T) {
	p := newTestPipeline(t, 2)

	keep := layout.NewAnnotationSet()
	keep.Append(layout.Detection{Box: utils.Box{MinX: 0.375, MinY: 0.375, MaxX: 0.625, MaxY: 0.625}, Confidence: 0.9, Label: layout.LabelTable})
	drop := layout.NewAnnotationSet()
	drop.Append(layout.Detection{Box: utils.Box{MinX: 0.1, MinY: 0.1, MaxX: 0.2, MaxY: 0.2}, Confidence: 0.3, Label: layout.LabelTable})
	drop.Append(layout.Detection{Box: utils.Box{MinX: 0.1, MinY: 0.5, MaxX: 0.2, MaxY: 0.6}, Confidence: 0.2, Label: layout.LabelTitle})

	out, err := p.Refine(context.Background(), []layout.AnnotationSet{keep, drop})
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.Len(t, out[0].Table, 1)
	assert.InDelta(t, 0.325, out[0].Table[0].Box.MinY, 1e-9)
	assert.Empty(t, out[1].Table)
	assert.Len(t, out[1].Title, 1)

	// input untouched
	assert.InDelta(t, 0.375, keep.Table[0].Box.MinY, 1e-12)
}

func TestRefineWith_Threshold(t *testing.T) {
	p := newTestPipeline(t, 1)

	set := layout.NewAnnotationSet()
	set.Append(layout.Detection{Box: utils.Box{MinX: 0.1, MinY: 0.3, MaxX: 0.4, MaxY: 0.6}, Confidence: 0.3, Label: layout.LabelTable})

	opts := p.Config().Refine
	opts.FinalThreshold = 0.25
	out, err := p.RefineWith(context.Background(), []layout.AnnotationSet{set}, opts)
	require.NoError(t, err)
	assert.Len(t, out[0].Table, 1)

	opts.UnmatchedExpandY = -1
	_, err = p.RefineWith(context.Background(), []layout.AnnotationSet{set}, opts)
	require.Error(t, err)
}

func TestProcess_EndToEnd(t *testing.T) {
	p := newTestPipeline(t, 2)

	raw := [][][]float32{
		{tableRow(512, 512, 256, 0.9), tableRow(520, 512, 256, 0.5)},
		{tableRow(100, 100, 50, 0.3)},
	}
	res, err := p.Process(context.Background(), raw, squarePages(2))
	require.NoError(t, err)
	require.Len(t, res.Annotations, 2)

	require.Len(t, res.Annotations[0].Table, 1)
	assert.Equal(t, utils.Box{MinX: 0.375, MinY: 0.325, MaxX: 0.625, MaxY: 0.625}, res.Annotations[0].Table[0].Box)
	assert.InDelta(t, 0.9, res.Annotations[0].Table[0].Confidence, 1e-9)
	assert.Empty(t, res.Annotations[1].Table)

	assert.Contains(t, res.Timings, "normalize")
	assert.Contains(t, res.Timings, "refine")
}

func TestProcess_PartialFailureReturnsResult(t *testing.T) {
	p := newTestPipeline(t, 2)

	raw := [][][]float32{{tableRow(512, 512, 256, 0.9)}, {{1}}}
	res, err := p.Process(context.Background(), raw, squarePages(2))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Annotations[0].Table, 1)
	assert.Equal(t, 0, res.Annotations[1].Len())
}

func TestProcess_Deterministic(t *testing.T) {
	p := newTestPipeline(t, 4)

	raw := [][][]float32{{
		tableRow(512, 512, 256, 0.9),
		{300, 300, 200, 150, 0.8, 0, 0.9, 0},
		{300, 200, 180, 30, 0.7, 0, 0, 0.95},
	}}
	first, err := p.Process(context.Background(), raw, squarePages(1))
	require.NoError(t, err)
	for range 5 {
		again, err := p.Process(context.Background(), raw, squarePages(1))
		require.NoError(t, err)
		assert.Equal(t, first.Annotations, again.Annotations)
	}
}

func TestNormalize_CancelledContext(t *testing.T) {
	p := newTestPipeline(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := make([][][]float32, 16)
	sets, err := p.Normalize(ctx, raw, squarePages(16))
	require.Len(t, sets, 16)
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled))
	}
}
