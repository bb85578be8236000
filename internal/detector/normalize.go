// Package detector turns raw YOLOX page-elements output into normalized,
// labelled detections and optionally runs the model locally via ONNX Runtime.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/metrics"
	"github.com/MeKo-Tech/pagefuse/internal/onnx"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// rowPrefix is the number of leading values per row: cx, cy, w, h, objectness.
const rowPrefix = 5

const roundPlaces = 4

// ImageShape is the pixel size of an image before letterboxing.
type ImageShape struct {
	Height int `json:"height" yaml:"height"`
	Width  int `json:"width" yaml:"width"`
}

// NormalizeOptions controls decoding of raw YOLOX output.
type NormalizeOptions struct {
	NumClasses    int     // class scores per row (default: 3)
	ConfThreshold float64 // minimum joint confidence kept before NMS (default: 0.01)
	IoUThreshold  float64 // NMS IoU threshold (default: 0.5)
	MinScore      float64 // joint confidence must exceed this after NMS (default: 0.1)
	ClassAgnostic bool    // single NMS pass across classes (default: true)
	TargetWidth   int     // letterbox width (default: 1024)
	TargetHeight  int     // letterbox height (default: 1024)
	Logger        *slog.Logger
}

// DefaultNormalizeOptions returns the page-elements model defaults.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		NumClasses:    3,
		ConfThreshold: 0.01,
		IoUThreshold:  0.5,
		MinScore:      0.1,
		ClassAgnostic: true,
		TargetWidth:   1024,
		TargetHeight:  1024,
	}
}

// Validate checks the options for usable values.
func (o NormalizeOptions) Validate() error {
	if o.NumClasses <= 0 {
		return fmt.Errorf("num classes must be positive, got %d", o.NumClasses)
	}
	if o.IoUThreshold < 0 || o.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in [0,1], got %f", o.IoUThreshold)
	}
	if o.TargetWidth <= 0 || o.TargetHeight <= 0 {
		return fmt.Errorf("target size must be positive, got %dx%d", o.TargetWidth, o.TargetHeight)
	}
	return nil
}

// RowWidth is the expected number of values per candidate row.
func (o NormalizeOptions) RowWidth() int { return rowPrefix + o.NumClasses }

func (o NormalizeOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// SplitTensor slices a [batch, candidates, values] output tensor into one
// row list per image. The returned rows alias t.Data.
func SplitTensor(t onnx.Tensor) ([][][]float32, error) {
	if err := t.Validate(3); err != nil {
		return nil, err
	}
	b, n, c := int(t.Shape[0]), int(t.Shape[1]), int(t.Shape[2])

	out := make([][][]float32, b)
	for i := range b {
		rows := make([][]float32, n)
		base := i * n * c
		for j := range n {
			off := base + j*c
			rows[j] = t.Data[off : off+c : off+c]
		}
		out[i] = rows
	}
	return out, nil
}

// Normalize decodes raw detector rows into one AnnotationSet per image.
// raw[i] holds the candidate rows of image i and shapes[i] its size before
// letterboxing. A malformed image yields a *layout.ShapeMismatchError and an
// empty set at its index; the remaining images are still decoded and all
// per-image errors are joined. A shapes/raw length mismatch fails the call.
func Normalize(raw [][][]float32, shapes []ImageShape, opts NormalizeOptions) ([]layout.AnnotationSet, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normalize options: %w", err)
	}
	if len(shapes) != len(raw) {
		return nil, &layout.PrecomputedDataMismatchError{Field: "shapes", Got: len(shapes), Want: len(raw)}
	}

	out := make([]layout.AnnotationSet, len(raw))
	var errs []error
	for i := range raw {
		set, err := NormalizeImage(i, raw[i], shapes[i], opts)
		if err != nil {
			metrics.ImagesProcessed.WithLabelValues("normalize", "error").Inc()
			errs = append(errs, err)
			out[i] = layout.NewAnnotationSet()
			continue
		}
		metrics.ImagesProcessed.WithLabelValues("normalize", "ok").Inc()
		out[i] = set
	}
	return out, errors.Join(errs...)
}

// NormalizeTensor is Normalize over a [batch, candidates, values] tensor.
func NormalizeTensor(t onnx.Tensor, shapes []ImageShape, opts NormalizeOptions) ([]layout.AnnotationSet, error) {
	raw, err := SplitTensor(t)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, shapes, opts)
}

// NormalizeImage decodes the rows of the image at position index of its
// batch. The index only labels errors and log records.
func NormalizeImage(index int, rows [][]float32, shape ImageShape, opts NormalizeOptions) (layout.AnnotationSet, error) {
	if err := opts.Validate(); err != nil {
		return layout.AnnotationSet{}, fmt.Errorf("invalid normalize options: %w", err)
	}
	if shape.Height <= 0 || shape.Width <= 0 {
		return layout.AnnotationSet{}, &layout.ShapeMismatchError{
			ImageIndex: index,
			Reason:     fmt.Sprintf("invalid original shape %dx%d", shape.Height, shape.Width),
		}
	}
	want := opts.RowWidth()
	for _, row := range rows {
		if len(row) != want {
			return layout.AnnotationSet{}, &layout.ShapeMismatchError{ImageIndex: index, Got: len(row), Want: want}
		}
	}

	log := opts.logger()
	cands := decodeCandidates(rows, opts)
	if opts.ClassAgnostic {
		cands = NonMaxSuppression(cands, opts.IoUThreshold)
	} else {
		cands = BatchedNonMaxSuppression(cands, opts.IoUThreshold)
	}

	ratio := utils.LetterboxRatio(shape.Height, shape.Width, opts.TargetWidth, opts.TargetHeight)

	set := layout.NewAnnotationSet()
	for _, c := range cands {
		score := c.Score()
		if score <= opts.MinScore {
			continue
		}
		label, err := layout.LabelFromClass(c.Class)
		if err != nil {
			log.Debug("Dropping detection with unmapped class", "image", index, "class", c.Class)
			continue
		}

		box := c.Box.
			Scale(ratio, ratio).
			Scale(float64(shape.Width), float64(shape.Height)).
			ClipUnit().
			Round(roundPlaces)
		if box.Area() <= 0 {
			log.Debug("Dropping degenerate detection", "image", index, "box", box.Coords())
			continue
		}

		set.Append(layout.Detection{Box: box, Confidence: utils.RoundTo(score, roundPlaces), Label: label})
	}

	log.Debug("Normalized image", "image", index, "candidates", len(rows), "kept", set.Len())
	return set, nil
}

// decodeCandidates converts center-form rows to corner form and keeps those
// whose joint confidence reaches the confidence threshold.
func decodeCandidates(rows [][]float32, opts NormalizeOptions) []Candidate {
	cands := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		classIdx, classConf := argmax(row[rowPrefix:])
		c := Candidate{
			Box:        utils.BoxFromCenter(float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3])),
			Objectness: float64(row[4]),
			ClassConf:  classConf,
			Class:      classIdx,
		}
		if !c.Box.IsFinite() || math.IsNaN(c.Score()) {
			continue
		}
		if c.Score() >= opts.ConfThreshold {
			cands = append(cands, c)
		}
	}
	return cands
}

// argmax returns the index and value of the largest score; ties keep the
// lowest index.
func argmax(scores []float32) (int, float64) {
	best, bestVal := 0, float64(scores[0])
	for i, v := range scores[1:] {
		if float64(v) > bestVal {
			best, bestVal = i+1, float64(v)
		}
	}
	return best, bestVal
}
