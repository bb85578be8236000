package detector

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
)

// RawBatch is the JSON form of raw detector output: per-image candidate rows
// and each image's original [height, width].
type RawBatch struct {
	Shapes      [][2]int      `json:"shapes" yaml:"shapes"`
	Predictions [][][]float32 `json:"predictions" yaml:"predictions"`
}

// ImageShapes converts the [height, width] pairs.
func (b RawBatch) ImageShapes() []ImageShape {
	shapes := make([]ImageShape, len(b.Shapes))
	for i, s := range b.Shapes {
		shapes[i] = ImageShape{Height: s[0], Width: s[1]}
	}
	return shapes
}

// Validate checks that every prediction has a matching shape.
func (b RawBatch) Validate() error {
	if len(b.Shapes) != len(b.Predictions) {
		return &layout.PrecomputedDataMismatchError{Field: "shapes", Got: len(b.Shapes), Want: len(b.Predictions)}
	}
	return nil
}

// DecodeRawBatch reads a RawBatch from JSON.
func DecodeRawBatch(r io.Reader) (RawBatch, error) {
	var b RawBatch
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return RawBatch{}, fmt.Errorf("failed to decode raw detector batch: %w", err)
	}
	return b, nil
}
