package testutil

import (
	"encoding/json"

	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// Class indices of the page-elements model.
const (
	ClassTable = 0
	ClassChart = 1
	ClassTitle = 2

	numClasses = 3
	// LetterboxSize is the model input edge in pixels.
	LetterboxSize = 1024
)

// PredictionRow builds one raw candidate row in letterbox pixel space:
// [cx, cy, w, h, objectness, class scores...]. The given class scores
// classScore and every other class scores zero.
func PredictionRow(class int, cx, cy, w, h, objectness, classScore float32) []float32 {
	row := make([]float32, 5+numClasses)
	row[0], row[1], row[2], row[3], row[4] = cx, cy, w, h, objectness
	if class >= 0 && class < numClasses {
		row[5+class] = classScore
	}
	return row
}

// PageRow maps a box given in original page pixels into a letterboxed
// prediction row for a page of the given height and width.
func PageRow(class int, box utils.Box, height, width int, confidence float32) []float32 {
	r := utils.LetterboxRatio(height, width, LetterboxSize, LetterboxSize)
	scaled := box.Scale(1/r, 1/r)
	return PredictionRow(class,
		float32((scaled.MinX+scaled.MaxX)/2), float32((scaled.MinY+scaled.MaxY)/2),
		float32(scaled.Width()), float32(scaled.Height()),
		confidence, 1)
}

// PredictionBatch is the JSON fixture consumed by the normalize command and
// the /v1/normalize endpoint.
type PredictionBatch struct {
	Shapes      [][2]int      `json:"shapes"`
	Predictions [][][]float32 `json:"predictions"`
}

// AddPage appends one image of the given [height, width] with its rows.
func (b *PredictionBatch) AddPage(height, width int, rows ...[]float32) *PredictionBatch {
	if rows == nil {
		rows = [][]float32{}
	}
	b.Shapes = append(b.Shapes, [2]int{height, width})
	b.Predictions = append(b.Predictions, rows)
	return b
}

// JSON encodes the batch.
func (b *PredictionBatch) JSON() ([]byte, error) {
	return json.Marshal(b)
}

// SampleBatch returns a two-page batch: a table with a weaker duplicate and a
// chart with a title on the first page, one low-confidence table on the
// second.
func SampleBatch() *PredictionBatch {
	b := &PredictionBatch{}
	b.AddPage(LetterboxSize, LetterboxSize,
		PredictionRow(ClassTable, 512, 256, 512, 256, 0.9, 1),
		PredictionRow(ClassTable, 520, 256, 512, 256, 0.6, 1),
		PredictionRow(ClassChart, 512, 768, 400, 300, 0.8, 1),
		PredictionRow(ClassTitle, 512, 600, 200, 20, 0.7, 1),
	)
	b.AddPage(LetterboxSize, LetterboxSize,
		PredictionRow(ClassTable, 100, 100, 50, 50, 0.3, 1),
	)
	return b
}
