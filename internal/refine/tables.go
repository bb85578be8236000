package refine

import (
	"math"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

const roundPlaces = 4

// ExpandTables raises the top edge of every table by ratio times its height
// so that captions above the table are captured. When tables are present
// every detection of the set is rounded to four decimals; without tables the
// set is returned unchanged.
func ExpandTables(set layout.AnnotationSet, ratio float64) layout.AnnotationSet {
	out := set.Clone()
	if len(out.Table) == 0 {
		return out
	}

	for i, d := range out.Table {
		d.Box.MinY = math.Max(0, math.Min(1, d.Box.MinY-d.Box.Height()*ratio))
		out.Table[i] = d
	}

	for _, bucket := range [][]layout.Detection{out.Table, out.Chart, out.Title} {
		for i := range bucket {
			bucket[i].Box = bucket[i].Box.Round(roundPlaces)
			bucket[i].Confidence = utils.RoundTo(bucket[i].Confidence, roundPlaces)
		}
	}
	return out
}
