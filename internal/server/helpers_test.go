package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/pipeline"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/stretchr/testify/require"
)

// modelPipeline stands in for a pipeline with a loaded model.
type modelPipeline struct {
	*pipeline.Pipeline
	calls int
}

func (m *modelPipeline) HasModel() bool { return true }

func (m *modelPipeline) DetectImages(_ context.Context, images []image.Image) (*pipeline.BatchResult, error) {
	m.calls++
	sets := make([]layout.AnnotationSet, len(images))
	for i := range sets {
		sets[i] = layout.NewAnnotationSet()
		sets[i].Append(layout.Detection{
			Box:        utils.Box{MinX: 0.1, MinY: 0.2, MaxX: 0.5, MaxY: 0.6},
			Confidence: 0.9,
			Label:      layout.LabelTable,
		})
	}
	return &pipeline.BatchResult{Annotations: sets, Timings: map[string]float64{"inference": 1}}, nil
}

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.NewBuilder().WithMaxWorkers(2).Build()
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServer(Config{TimeoutSec: 5}, newTestPipeline(t))
}

func newModelServer(t *testing.T) (*Server, *modelPipeline) {
	t.Helper()
	mp := &modelPipeline{Pipeline: newTestPipeline(t)}
	return newServer(Config{TimeoutSec: 5}, mp), mp
}

func createTestImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func createMultipartRequest(t *testing.T, field string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
