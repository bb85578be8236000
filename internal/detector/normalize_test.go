package detector

import (
	"errors"
	"testing"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/onnx"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(cx, cy, w, h, obj float32, classes ...float32) []float32 {
	return append([]float32{cx, cy, w, h, obj}, classes...)
}

func TestNormalize_SingleDetection(t *testing.T) {
	raw := [][][]float32{{row(256, 256, 128, 128, 0.9, 0.1, 0.8, 0.05)}}
	shapes := []ImageShape{{Height: 2048, Width: 1024}}

	out, err := Normalize(raw, shapes, DefaultNormalizeOptions())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Chart, 1)
	assert.Empty(t, out[0].Table)
	assert.Empty(t, out[0].Title)

	d := out[0].Chart[0]
	assert.Equal(t, layout.LabelChart, d.Label)
	assert.Equal(t, utils.Box{MinX: 0.375, MinY: 0.1875, MaxX: 0.625, MaxY: 0.3125}, d.Box)
	assert.Equal(t, 0.72, d.Confidence)
}

// The ratio pairs the target width with the image height and the x axis is
// normalized by the image width. Landscape and non-square targets pin it.
func TestNormalize_LetterboxAxisConvention(t *testing.T) {
	raw := [][][]float32{{row(256, 256, 128, 128, 1, 1, 0, 0)}}

	out, err := Normalize(raw, []ImageShape{{Height: 1024, Width: 2048}}, DefaultNormalizeOptions())
	require.NoError(t, err)
	require.Len(t, out[0].Table, 1)
	assert.Equal(t, utils.Box{MinX: 0.1875, MinY: 0.375, MaxX: 0.3125, MaxY: 0.625}, out[0].Table[0].Box)

	opts := DefaultNormalizeOptions()
	opts.TargetWidth, opts.TargetHeight = 1024, 512
	out, err = Normalize(raw, []ImageShape{{Height: 1024, Width: 1024}}, opts)
	require.NoError(t, err)
	require.Len(t, out[0].Table, 1)
	// ratio = min(1024/1024, 512/1024) = 0.5
	assert.Equal(t, utils.Box{MinX: 0.375, MinY: 0.375, MaxX: 0.625, MaxY: 0.625}, out[0].Table[0].Box)
}

func TestNormalize_ClipsAndRounds(t *testing.T) {
	raw := [][][]float32{{row(10, 500, 100, 300, 1, 0, 0, 1)}}

	out, err := Normalize(raw, []ImageShape{{Height: 3000, Width: 3000}}, DefaultNormalizeOptions())
	require.NoError(t, err)
	require.Len(t, out[0].Title, 1)

	b := out[0].Title[0].Box
	// ratio 1024/3000; x1 = -40 / ratio clipped to 0
	assert.Equal(t, 0.0, b.MinX)
	assert.Equal(t, utils.RoundTo(60/(1024.0/3000)/3000, 4), b.MaxX)
	assert.Equal(t, utils.RoundTo(350/(1024.0/3000)/3000, 4), b.MinY)
	assert.True(t, b.IsNormalized())
}

func TestNormalize_Thresholds(t *testing.T) {
	rows := [][]float32{
		row(100, 100, 50, 50, 0.5, 0.25, 0, 0), // 0.125, at min score
		row(300, 300, 50, 50, 0.5, 0.5, 0, 0),  // 0.25
		row(500, 500, 50, 50, 0.01, 0.5, 0, 0), // below conf threshold
		row(700, 700, 50, 50, 1, 0.0625, 0, 0), // kept by conf, dropped by min score
	}
	opts := DefaultNormalizeOptions()
	opts.MinScore = 0.125

	out, err := Normalize([][][]float32{rows}, []ImageShape{{Height: 1024, Width: 1024}}, opts)
	require.NoError(t, err)
	require.Len(t, out[0].Table, 1)
	assert.Equal(t, 0.25, out[0].Table[0].Confidence)
}

func TestNormalize_ClassAgnosticNMS(t *testing.T) {
	rows := [][]float32{
		row(200, 200, 100, 100, 1, 0.9, 0, 0),
		row(202, 202, 100, 100, 1, 0, 0.8, 0),
	}
	shapes := []ImageShape{{Height: 1024, Width: 1024}}

	opts := DefaultNormalizeOptions()
	out, err := Normalize([][][]float32{rows}, shapes, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, out[0].Len())
	assert.Len(t, out[0].Table, 1)

	opts.ClassAgnostic = false
	out, err = Normalize([][][]float32{rows}, shapes, opts)
	require.NoError(t, err)
	assert.Len(t, out[0].Table, 1)
	assert.Len(t, out[0].Chart, 1)
}

func TestNormalize_DiscoveryOrder(t *testing.T) {
	rows := [][]float32{
		row(100, 100, 50, 50, 1, 0.5, 0, 0),
		row(600, 600, 50, 50, 1, 0.9, 0, 0),
	}
	out, err := Normalize([][][]float32{rows}, []ImageShape{{Height: 1024, Width: 1024}}, DefaultNormalizeOptions())
	require.NoError(t, err)
	require.Len(t, out[0].Table, 2)
	assert.Equal(t, 0.9, out[0].Table[0].Confidence)
	assert.Equal(t, 0.5, out[0].Table[1].Confidence)
}

func TestNormalize_EmptyImage(t *testing.T) {
	out, err := Normalize([][][]float32{{}}, []ImageShape{{Height: 10, Width: 10}}, DefaultNormalizeOptions())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, layout.NewAnnotationSet(), out[0])
}

func TestNormalize_ShapeMismatchIsPerImage(t *testing.T) {
	raw := [][][]float32{
		{row(256, 256, 128, 128, 1, 1, 0, 0)},
		{row(256, 256, 128, 128, 1, 1, 0)},
		{row(256, 256, 128, 128, 1, 0, 1, 0)},
	}
	shapes := []ImageShape{{Height: 1024, Width: 1024}, {Height: 1024, Width: 1024}, {Height: 1024, Width: 1024}}

	out, err := Normalize(raw, shapes, DefaultNormalizeOptions())
	require.Error(t, err)
	require.Len(t, out, 3)

	var mismatch *layout.ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1, mismatch.ImageIndex)
	assert.Equal(t, 7, mismatch.Got)
	assert.Equal(t, 8, mismatch.Want)
	assert.Contains(t, err.Error(), "image 1")

	assert.Len(t, out[0].Table, 1)
	assert.Equal(t, 0, out[1].Len())
	assert.Len(t, out[2].Chart, 1)
}

func TestNormalize_MismatchedRowsNeverPartiallyEmit(t *testing.T) {
	raw := [][][]float32{{
		row(256, 256, 128, 128, 1, 1, 0, 0),
		row(256, 256, 128, 128, 1, 1, 0, 0, 0),
	}}
	out, err := Normalize(raw, []ImageShape{{Height: 1024, Width: 1024}}, DefaultNormalizeOptions())
	require.Error(t, err)
	assert.Equal(t, 0, out[0].Len())
}

func TestNormalize_InvalidShape(t *testing.T) {
	_, err := Normalize([][][]float32{{}}, []ImageShape{{Height: 0, Width: 10}}, DefaultNormalizeOptions())
	var mismatch *layout.ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 0, mismatch.ImageIndex)
}

func TestNormalize_ShapesCountMismatch(t *testing.T) {
	_, err := Normalize([][][]float32{{}, {}}, []ImageShape{{Height: 1, Width: 1}}, DefaultNormalizeOptions())
	var mismatch *layout.PrecomputedDataMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "shapes", mismatch.Field)
}

func TestNormalize_UnmappedClassDropped(t *testing.T) {
	opts := DefaultNormalizeOptions()
	opts.NumClasses = 4
	raw := [][][]float32{{row(256, 256, 128, 128, 1, 0, 0, 0, 0.9)}}

	out, err := Normalize(raw, []ImageShape{{Height: 1024, Width: 1024}}, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, out[0].Len())
}

func TestNormalizeOptions_Validate(t *testing.T) {
	opts := DefaultNormalizeOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 8, opts.RowWidth())

	bad := opts
	bad.NumClasses = 0
	assert.Error(t, bad.Validate())

	bad = opts
	bad.TargetHeight = 0
	_, err := Normalize(nil, nil, bad)
	assert.Error(t, err)
}

func TestSplitTensor(t *testing.T) {
	data := make([]float32, 2*3*8)
	for i := range data {
		data[i] = float32(i)
	}
	raw, err := SplitTensor(onnx.Tensor{Data: data, Shape: []int64{2, 3, 8}})
	require.NoError(t, err)
	require.Len(t, raw, 2)
	require.Len(t, raw[1], 3)
	assert.Equal(t, float32(24), raw[1][0][0])
	assert.Len(t, raw[1][2], 8)

	_, err = SplitTensor(onnx.Tensor{Data: data, Shape: []int64{2, 24}})
	assert.Error(t, err)
	_, err = SplitTensor(onnx.Tensor{Data: data[:10], Shape: []int64{2, 3, 8}})
	assert.Error(t, err)
}

func TestNormalizeTensor(t *testing.T) {
	data := row(256, 256, 128, 128, 0.9, 0.1, 0.8, 0.05)
	out, err := NormalizeTensor(onnx.Tensor{Data: data, Shape: []int64{1, 1, 8}},
		[]ImageShape{{Height: 2048, Width: 1024}}, DefaultNormalizeOptions())
	require.NoError(t, err)
	assert.Len(t, out[0].Chart, 1)
}
