package detector

import (
	"strings"
	"testing"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawBatch(t *testing.T) {
	body := `{"shapes":[[2048,1024]],"predictions":[[[256,256,128,128,0.9,0.1,0.8,0.05]]]}`

	b, err := DecodeRawBatch(strings.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	assert.Equal(t, []ImageShape{{Height: 2048, Width: 1024}}, b.ImageShapes())

	out, err := Normalize(b.Predictions, b.ImageShapes(), DefaultNormalizeOptions())
	require.NoError(t, err)
	assert.Len(t, out[0].Chart, 1)
}

func TestDecodeRawBatch_Errors(t *testing.T) {
	_, err := DecodeRawBatch(strings.NewReader(`{"shapes":`))
	require.Error(t, err)

	_, err = DecodeRawBatch(strings.NewReader(`{"sizes":[]}`))
	require.Error(t, err)

	b, err := DecodeRawBatch(strings.NewReader(`{"shapes":[],"predictions":[[]]}`))
	require.NoError(t, err)
	var mismatch *layout.PrecomputedDataMismatchError
	assert.ErrorAs(t, b.Validate(), &mismatch)
}
