package refine

import (
	"math"
	"slices"

	"github.com/MeKo-Tech/pagefuse/internal/fusion"
	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// FuseChartsWithTitles coalesces duplicate detections, attaches titles to the
// charts they caption and expands every chart. Charts that found a title grow
// less than charts that did not. The returned set carries the original table
// and title lists; titles absorbed into charts are intentionally still listed.
// Sets without charts are returned unchanged.
func FuseChartsWithTitles(set layout.AnnotationSet, opts Options) (layout.AnnotationSet, error) {
	out := set.Clone()
	if len(out.Chart) == 0 {
		return out, nil
	}

	fused, err := fusion.FuseDetections(out.All(), fusion.Options{
		IoUThreshold:  opts.ChartFusionIoU,
		ConfType:      fusion.ConfMax,
		MergeType:     fusion.MergeBiggest,
		ClassAgnostic: false,
		Logger:        opts.Logger,
	})
	if err != nil {
		return layout.AnnotationSet{}, err
	}

	var charts []layout.Detection
	var titles []utils.Box
	for _, d := range fused {
		switch d.Label {
		case layout.LabelChart:
			charts = append(charts, d)
		case layout.LabelTitle:
			titles = append(titles, d.Box)
		}
	}

	log := opts.logger()
	expanded := make([]layout.Detection, 0, len(charts))
	for _, c := range charts {
		merged, remaining, ok := matchWithTitle(c.Box, titles, opts)
		if ok {
			log.Debug("Chart matched with title", "chart", c.Box.Coords(), "merged", merged.Coords())
			titles = remaining
			c.Box = utils.Expand(merged, opts.MatchedExpandX, opts.MatchedExpandY)
		} else {
			c.Box = utils.Expand(c.Box, opts.UnmatchedExpandX, opts.UnmatchedExpandY)
		}
		expanded = append(expanded, c)
	}

	out.Chart = expanded
	return out, nil
}

// matchWithTitle finds the titles belonging to chart. Overlapping titles win;
// failing that, the single nearest title whose proximity score is below the
// distance threshold is used. The chart grows to envelope every matched title
// and the matched titles are removed from the returned pool.
func matchWithTitle(chart utils.Box, titles []utils.Box, opts Options) (utils.Box, []utils.Box, bool) {
	if len(titles) == 0 {
		return chart, titles, false
	}

	ious := utils.IoUBatch(titles, chart)
	var matches []int
	if slices.Max(ious) > opts.TitleIoUThreshold {
		for i, v := range ious {
			if v > opts.TitleIoUThreshold {
				matches = append(matches, i)
			}
		}
	} else {
		best, bestDist := -1, math.Inf(1)
		for i, t := range titles {
			if d := titleDistance(chart, t); d < bestDist {
				best, bestDist = i, d
			}
		}
		if bestDist < opts.TitleDistanceThreshold {
			matches = []int{best}
		}
	}
	if len(matches) == 0 {
		return chart, titles, false
	}

	merged := chart
	for _, m := range matches {
		merged = utils.MergeEnvelope(merged, titles[m])
	}
	remaining := make([]utils.Box, 0, len(titles)-len(matches))
	for i, t := range titles {
		if !slices.Contains(matches, i) {
			remaining = append(remaining, t)
		}
	}
	return merged, remaining, true
}

// titleDistance scores how well a title sits directly above or below a chart
// with aligned left edges. Lower is closer.
func titleDistance(chart, title utils.Box) float64 {
	above := math.Abs(title.MaxY - chart.MinY)
	below := math.Abs(chart.MaxY - title.MinY)
	return math.Min(above, below) + math.Abs(title.MinX-chart.MinX)
}
