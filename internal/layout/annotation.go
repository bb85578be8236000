package layout

import (
	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// Detection is a labelled, scored, normalized box.
type Detection struct {
	Box        utils.Box
	Confidence float64
	Label      Label
}

// AnnotationSet holds the detections of one image, bucketed by label.
// Every bucket keeps the arrival order of the stage that produced it.
type AnnotationSet struct {
	Table []Detection
	Chart []Detection
	Title []Detection
}

// NewAnnotationSet returns a set with all three buckets present and empty.
func NewAnnotationSet() AnnotationSet {
	return AnnotationSet{Table: []Detection{}, Chart: []Detection{}, Title: []Detection{}}
}

// Get returns the detections stored under label.
func (s AnnotationSet) Get(label Label) []Detection {
	switch label {
	case LabelTable:
		return s.Table
	case LabelChart:
		return s.Chart
	case LabelTitle:
		return s.Title
	default:
		return nil
	}
}

// With returns a copy of s with the bucket for label replaced by dets.
func (s AnnotationSet) With(label Label, dets []Detection) AnnotationSet {
	out := s
	switch label {
	case LabelTable:
		out.Table = dets
	case LabelChart:
		out.Chart = dets
	case LabelTitle:
		out.Title = dets
	}
	return out
}

// Append adds d to the bucket matching its label. Unknown labels are ignored.
func (s *AnnotationSet) Append(d Detection) {
	switch d.Label {
	case LabelTable:
		s.Table = append(s.Table, d)
	case LabelChart:
		s.Chart = append(s.Chart, d)
	case LabelTitle:
		s.Title = append(s.Title, d)
	}
}

// Len returns the total number of detections across all labels.
func (s AnnotationSet) Len() int {
	return len(s.Table) + len(s.Chart) + len(s.Title)
}

// All returns every detection in table, chart, title order.
func (s AnnotationSet) All() []Detection {
	out := make([]Detection, 0, s.Len())
	out = append(out, s.Table...)
	out = append(out, s.Chart...)
	out = append(out, s.Title...)
	return out
}

// Clone returns a deep copy whose buckets are never nil.
func (s AnnotationSet) Clone() AnnotationSet {
	return AnnotationSet{
		Table: cloneDetections(s.Table),
		Chart: cloneDetections(s.Chart),
		Title: cloneDetections(s.Title),
	}
}

func cloneDetections(in []Detection) []Detection {
	out := make([]Detection, len(in))
	copy(out, in)
	return out
}
