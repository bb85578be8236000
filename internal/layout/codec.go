package layout

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// wireSet is the annotation wire format: every label maps to a list of
// [x1, y1, x2, y2, confidence] rows.
type wireSet struct {
	Table [][]float64 `json:"table" yaml:"table"`
	Chart [][]float64 `json:"chart" yaml:"chart"`
	Title [][]float64 `json:"title" yaml:"title"`
}

func toRows(dets []Detection) [][]float64 {
	rows := make([][]float64, 0, len(dets))
	for _, d := range dets {
		rows = append(rows, []float64{d.Box.MinX, d.Box.MinY, d.Box.MaxX, d.Box.MaxY, d.Confidence})
	}
	return rows
}

func fromRows(label Label, rows [][]float64) ([]Detection, error) {
	dets := make([]Detection, 0, len(rows))
	for i, r := range rows {
		if len(r) != 5 {
			return nil, fmt.Errorf("%s[%d]: expected 5 values [x1, y1, x2, y2, confidence], got %d", label, i, len(r))
		}
		dets = append(dets, Detection{
			Box:        utils.Box{MinX: r[0], MinY: r[1], MaxX: r[2], MaxY: r[3]},
			Confidence: r[4],
			Label:      label,
		})
	}
	return dets, nil
}

func (s AnnotationSet) toWire() wireSet {
	return wireSet{Table: toRows(s.Table), Chart: toRows(s.Chart), Title: toRows(s.Title)}
}

// MarshalJSON encodes the set in the annotation wire format. All three labels
// are always present.
func (s AnnotationSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

// MarshalYAML encodes the set in the annotation wire format.
func (s AnnotationSet) MarshalYAML() (interface{}, error) {
	return s.toWire(), nil
}

// UnmarshalJSON decodes the annotation wire format. Missing labels decode as
// empty buckets; unknown labels are rejected.
func (s *AnnotationSet) UnmarshalJSON(data []byte) error {
	var raw map[string][][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := NewAnnotationSet()
	for name, rows := range raw {
		label, err := ParseLabel(name)
		if err != nil {
			return err
		}
		dets, err := fromRows(label, rows)
		if err != nil {
			return err
		}
		out = out.With(label, dets)
	}
	*s = out
	return nil
}

// boundingBox is one entry of the detector service's HTTP response.
type boundingBox struct {
	XMin       float64 `json:"x_min"`
	YMin       float64 `json:"y_min"`
	XMax       float64 `json:"x_max"`
	YMax       float64 `json:"y_max"`
	Confidence float64 `json:"confidence"`
}

type boundingBoxResponse struct {
	Data []struct {
		BoundingBoxes map[string][]boundingBox `json:"bounding_boxes"`
	} `json:"data"`
}

// ParseBoundingBoxResponse converts the detector service's HTTP response body,
// which is already filtered and suppressed server-side, into one AnnotationSet
// per image. Label order inside each bucket follows the response.
func ParseBoundingBoxResponse(body []byte) ([]AnnotationSet, error) {
	var resp boundingBoxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bounding box response: %w", err)
	}
	out := make([]AnnotationSet, 0, len(resp.Data))
	for i, item := range resp.Data {
		set := NewAnnotationSet()
		// Iterate labels in a fixed order so the result never depends on map order.
		for _, label := range Labels() {
			for _, bb := range item.BoundingBoxes[label.String()] {
				set.Append(Detection{
					Box:        utils.Box{MinX: bb.XMin, MinY: bb.YMin, MaxX: bb.XMax, MaxY: bb.YMax},
					Confidence: bb.Confidence,
					Label:      label,
				})
			}
		}
		for name := range item.BoundingBoxes {
			if _, err := ParseLabel(name); err != nil {
				return nil, fmt.Errorf("image %d: %w", i, err)
			}
		}
		out = append(out, set)
	}
	return out, nil
}
