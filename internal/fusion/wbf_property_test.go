package fusion

import (
	"reflect"
	"testing"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genDetection() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(-0.1, 1.1),
		gen.Float64Range(-0.1, 1.1),
		gen.Float64Range(-0.1, 1.1),
		gen.Float64Range(-0.1, 1.1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, layout.NumLabels-1),
	).Map(func(v []interface{}) layout.Detection {
		return layout.Detection{
			Box:        utils.Box{MinX: v[0].(float64), MinY: v[1].(float64), MaxX: v[2].(float64), MaxY: v[3].(float64)},
			Confidence: v[4].(float64),
			Label:      layout.Label(v[5].(int)),
		}
	})
}

// genSmallDetections yields between one and six detections.
func genSmallDetections() gopter.Gen {
	return gen.IntRange(1, 6).FlatMap(func(v interface{}) gopter.Gen {
		return gen.SliceOfN(v.(int), genDetection())
	}, reflect.TypeOf([]layout.Detection{}))
}

// pairwiseDisjoint reports whether no two boxes overlap above thr.
func pairwiseDisjoint(dets []layout.Detection, thr float64) bool {
	for i := range dets {
		for j := i + 1; j < len(dets); j++ {
			if utils.IoU(dets[i].Box, dets[j].Box) > thr {
				return false
			}
		}
	}
	return true
}

func TestFuse_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("output never exceeds input", prop.ForAll(
		func(dets []layout.Detection, agnostic bool) bool {
			opts := biggestMax(0.3)
			opts.ClassAgnostic = agnostic
			out, err := FuseDetections(dets, opts)
			return err == nil && len(out) <= len(dets)
		},
		gen.SliceOf(genDetection()), gen.Bool(),
	))

	properties.Property("output boxes are normalized with positive area", prop.ForAll(
		func(dets []layout.Detection) bool {
			out, err := FuseDetections(dets, DefaultOptions())
			if err != nil {
				return false
			}
			for _, d := range out {
				if !d.Box.IsNormalized() || d.Box.Area() <= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDetection()),
	))

	properties.Property("output is sorted by confidence", prop.ForAll(
		func(dets []layout.Detection) bool {
			out, err := FuseDetections(dets, biggestMax(0.01))
			if err != nil {
				return false
			}
			for i := 1; i < len(out); i++ {
				if out[i-1].Confidence < out[i].Confidence {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDetection()),
	))

	properties.Property("max confidence is an input score", prop.ForAll(
		func(dets []layout.Detection) bool {
			out, err := FuseDetections(dets, biggestMax(0.2))
			if err != nil {
				return false
			}
			for _, d := range out {
				found := false
				for _, in := range dets {
					if in.Confidence == d.Confidence {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDetection()),
	))

	// Greedy clustering can leave a group split across two outputs that still
	// overlap, so fusing again is only a fixed point once outputs are disjoint.
	properties.Property("fusing disjoint output again is a fixed point", prop.ForAll(
		func(dets []layout.Detection, agnostic bool) bool {
			opts := biggestMax(0.01)
			opts.ClassAgnostic = agnostic
			first, err := FuseDetections(dets, opts)
			if err != nil {
				return false
			}
			if !pairwiseDisjoint(first, opts.IoUThreshold) {
				return true
			}
			second, err := FuseDetections(first, opts)
			if err != nil || len(second) != len(first) {
				return false
			}
			for i := range first {
				if first[i] != second[i] {
					return false
				}
			}
			return true
		},
		genSmallDetections(), gen.Bool(),
	))

	properties.TestingRun(t)
}
