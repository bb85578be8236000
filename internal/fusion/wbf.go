// Package fusion implements a Weighted-Boxes-Fusion variant for a single
// detection source. It supports class-agnostic clustering and an envelope
// ("biggest") merge policy in addition to the classic weighted merge.
package fusion

import (
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/MeKo-Tech/pagefuse/internal/layout"
	"github.com/MeKo-Tech/pagefuse/internal/metrics"
	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// record is a prefiltered box awaiting clustering.
type record struct {
	label  layout.Label
	score  float64 // score * weight
	weight float64
	source int
	box    utils.Box
}

type bucket struct {
	records []record
}

// Fuse clusters overlapping boxes and merges every cluster into one detection.
// Boxes, scores and labels are parallel sequences. The result is sorted by
// confidence, descending. Empty input yields an empty result.
func Fuse(boxes []utils.Box, scores []float64, labels []layout.Label, opts Options) ([]layout.Detection, error) {
	if len(scores) != len(boxes) {
		return nil, &layout.PrecomputedDataMismatchError{Field: "scores", Got: len(scores), Want: len(boxes)}
	}
	if len(labels) != len(boxes) {
		return nil, &layout.PrecomputedDataMismatchError{Field: "labels", Got: len(labels), Want: len(boxes)}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	buckets := prefilter(boxes, scores, labels, opts)
	out := make([]layout.Detection, 0, len(boxes))
	for _, b := range buckets {
		for _, members := range clusterize(b.records, opts.IoUThreshold) {
			out = append(out, mergeCluster(b.records, members, opts))
			metrics.ClusterSize.Observe(float64(len(members)))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

// FuseDetections is Fuse over a slice of detections.
func FuseDetections(dets []layout.Detection, opts Options) ([]layout.Detection, error) {
	boxes := make([]utils.Box, len(dets))
	scores := make([]float64, len(dets))
	labels := make([]layout.Label, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
		scores[i] = d.Confidence
		labels[i] = d.Label
	}
	return Fuse(boxes, scores, labels, opts)
}

// prefilter repairs box coordinates, drops unusable boxes and buckets the rest
// by label (or into a single bucket when class-agnostic). Buckets keep the
// order in which their key first appeared; records inside are sorted by score.
func prefilter(boxes []utils.Box, scores []float64, labels []layout.Label, opts Options) []bucket {
	const weight = 1.0
	log := opts.logger()

	var buckets []bucket
	index := make(map[int]int)

	for j, raw := range boxes {
		score := scores[j]
		if score < opts.SkipThreshold {
			continue
		}
		box, ok := repairBox(raw, log)
		if !ok {
			continue
		}

		key := int(labels[j])
		if opts.ClassAgnostic {
			key = -1
		}
		bi, exists := index[key]
		if !exists {
			bi = len(buckets)
			index[key] = bi
			buckets = append(buckets, bucket{})
		}
		buckets[bi].records = append(buckets[bi].records, record{
			label:  labels[j],
			score:  score * weight,
			weight: weight,
			source: 0,
			box:    box,
		})
	}

	for i := range buckets {
		recs := buckets[i].records
		sort.SliceStable(recs, func(a, b int) bool { return recs[a].score > recs[b].score })
	}
	return buckets
}

// repairBox swaps inverted coordinates and clamps to the unit square. It
// reports false for boxes that cannot be repaired (NaN or zero area).
func repairBox(b utils.Box, log *slog.Logger) (utils.Box, bool) {
	for _, v := range b.Coords() {
		if math.IsNaN(v) {
			log.Warn("Non-finite box skipped", "box", b.Coords())
			metrics.BoxRepairs.WithLabelValues("non_finite").Inc()
			return utils.Box{}, false
		}
	}
	if b.MaxX < b.MinX {
		log.Warn("X2 < X1 value in box, swapping", "box", b.Coords())
		metrics.BoxRepairs.WithLabelValues("swap").Inc()
		b.MinX, b.MaxX = b.MaxX, b.MinX
	}
	if b.MaxY < b.MinY {
		log.Warn("Y2 < Y1 value in box, swapping", "box", b.Coords())
		metrics.BoxRepairs.WithLabelValues("swap").Inc()
		b.MinY, b.MaxY = b.MaxY, b.MinY
	}
	if clipped := b.ClipUnit(); clipped != b {
		log.Warn("Box coordinates outside [0, 1], clamping; check that boxes are normalized", "box", b.Coords())
		metrics.BoxRepairs.WithLabelValues("clamp").Inc()
		b = clipped
	}
	if b.Area() == 0 {
		log.Warn("Zero area box skipped", "box", b.Coords())
		metrics.BoxRepairs.WithLabelValues("zero_area").Inc()
		return utils.Box{}, false
	}
	return b, true
}

// clusterize groups records greedily. Every record is matched to the single
// other record with the highest IoU above thr; the pair joins the first
// existing cluster holding either of them. Clusters are never re-merged, so
// two clusters bridged only through a non-best match stay apart and a record
// may end up in more than one cluster. This keeps clustering O(n^2).
func clusterize(recs []record, thr float64) [][]int {
	var clusters [][]int
	for j := range recs {
		best, bestIoU := -1, thr
		for i := range recs {
			if i == j {
				continue
			}
			if v := utils.IoU(recs[i].box, recs[j].box); v > bestIoU {
				best, bestIoU = i, v
			}
		}
		if best == -1 {
			clusters = append(clusters, []int{j})
			continue
		}

		target := -1
		for ci, c := range clusters {
			if slices.Contains(c, j) || slices.Contains(c, best) {
				target = ci
				break
			}
		}
		if target == -1 {
			clusters = append(clusters, sortedUnion(nil, best, j))
			continue
		}
		clusters[target] = sortedUnion(clusters[target], best, j)
	}
	return clusters
}

// sortedUnion adds ids to the set c and returns it sorted ascending.
func sortedUnion(c []int, ids ...int) []int {
	out := slices.Clone(c)
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// mergeCluster collapses the cluster members into one detection.
func mergeCluster(recs []record, members []int, opts Options) layout.Detection {
	var box utils.Box
	switch opts.MergeType {
	case MergeBiggest:
		box = recs[members[0]].box
		for _, m := range members[1:] {
			box = utils.MergeEnvelope(box, recs[m].box)
		}
	case MergeWeighted:
		box = weightedBox(recs, members)
	}

	var conf float64
	switch opts.ConfType {
	case ConfMax:
		conf = math.Inf(-1)
		for _, m := range members {
			conf = math.Max(conf, recs[m].score)
		}
	case ConfAvg:
		for _, m := range members {
			conf += recs[m].score
		}
		conf /= float64(len(members))
	}

	return layout.Detection{Box: box, Confidence: conf, Label: mergeLabels(recs, members)}
}

// weightedBox averages member coordinates weighted by score. Clusters whose
// scores sum to zero fall back to an unweighted mean.
func weightedBox(recs []record, members []int) utils.Box {
	var sum [4]float64
	var total float64
	for _, m := range members {
		c := recs[m].box.Coords()
		for k := range sum {
			sum[k] += recs[m].score * c[k]
		}
		total += recs[m].score
	}
	if total == 0 {
		for _, m := range members {
			c := recs[m].box.Coords()
			for k := range sum {
				sum[k] += c[k]
			}
		}
		total = float64(len(members))
	}
	return utils.Box{MinX: sum[0] / total, MinY: sum[1] / total, MaxX: sum[2] / total, MaxY: sum[3] / total}
}

// mergeLabels returns the shared label of a homogeneous cluster. Mixed
// clusters take the label of their most confident non-title member; ties go
// to the earlier member.
func mergeLabels(recs []record, members []int) layout.Label {
	first := recs[members[0]].label
	mixed := false
	for _, m := range members[1:] {
		if recs[m].label != first {
			mixed = true
			break
		}
	}
	if !mixed {
		return first
	}

	best, bestScore := -1, math.Inf(-1)
	for _, m := range members {
		if recs[m].label == layout.LabelTitle {
			continue
		}
		if recs[m].score > bestScore {
			best, bestScore = m, recs[m].score
		}
	}
	return recs[best].label
}
