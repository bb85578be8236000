// Package refine applies page-layout heuristics to normalized detections:
// table caption expansion, chart/title association and a final confidence
// filter. Every step returns a new AnnotationSet and leaves its input intact.
package refine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/metrics"
)

// Refine runs table expansion, chart/title fusion and the final threshold
// filter on one image's annotations.
func Refine(set layout.AnnotationSet, opts Options) (layout.AnnotationSet, error) {
	if err := opts.Validate(); err != nil {
		return layout.AnnotationSet{}, fmt.Errorf("invalid refine options: %w", err)
	}

	auditBoxes(set, opts.logger())
	out := ExpandTables(set, opts.TableExpandRatio)
	out, err := FuseChartsWithTitles(out, opts)
	if err != nil {
		return layout.AnnotationSet{}, fmt.Errorf("chart/title fusion failed: %w", err)
	}
	return FilterFinal(out, opts.FinalThreshold), nil
}

// FilterFinal drops tables and charts scoring below threshold. Titles are kept.
func FilterFinal(set layout.AnnotationSet, threshold float64) layout.AnnotationSet {
	out := set.Clone()
	out.Table = keepAtLeast(out.Table, threshold)
	out.Chart = keepAtLeast(out.Chart, threshold)
	return out
}

func keepAtLeast(dets []layout.Detection, threshold float64) []layout.Detection {
	kept := make([]layout.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// auditBoxes reports tables and titles whose boxes are inverted or leave the
// unit square. They pass through unchanged; charts are repaired by fusion.
func auditBoxes(set layout.AnnotationSet, log *slog.Logger) int {
	bad := 0
	for _, d := range append(slices.Clone(set.Table), set.Title...) {
		if d.Box.IsNormalized() {
			continue
		}
		bad++
		log.Warn("Invalid box passed through refine unchanged",
			"label", d.Label.String(), "box", d.Box.Coords())
		metrics.BoxRepairs.WithLabelValues("unrepaired").Inc()
	}
	return bad
}
