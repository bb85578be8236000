package detector

import (
	"sort"

	"github.com/MeKo-Tech/pagefuse/internal/utils"
)

// Candidate is one decoded detector row in letterboxed pixel space.
type Candidate struct {
	Box        utils.Box
	Objectness float64
	ClassConf  float64
	Class      int
}

// Score is the joint confidence used for filtering and suppression.
func (c Candidate) Score() float64 { return c.Objectness * c.ClassConf }

// NonMaxSuppression performs standard greedy Non-Maximum Suppression over
// all candidates regardless of class. Kept candidates are returned in
// descending score order.
func NonMaxSuppression(cands []Candidate, iouThreshold float64) []Candidate {
	if len(cands) <= 1 {
		return append([]Candidate(nil), cands...)
	}

	indices := sortCandidatesByScore(cands)
	suppressed := make([]bool, len(cands))
	kept := make([]Candidate, 0, len(cands))

	for pos, a := range indices {
		if suppressed[a] {
			continue
		}
		kept = append(kept, cands[a])

		// Suppress overlapping candidates with lower score
		for _, b := range indices[pos+1:] {
			if suppressed[b] {
				continue
			}
			if utils.IoU(cands[a].Box, cands[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

// BatchedNonMaxSuppression runs NonMaxSuppression independently per class and
// returns the union of survivors in descending score order.
func BatchedNonMaxSuppression(cands []Candidate, iouThreshold float64) []Candidate {
	var classes []int
	byClass := make(map[int][]Candidate)
	for _, c := range cands {
		if _, ok := byClass[c.Class]; !ok {
			classes = append(classes, c.Class)
		}
		byClass[c.Class] = append(byClass[c.Class], c)
	}

	kept := make([]Candidate, 0, len(cands))
	for _, cls := range classes {
		kept = append(kept, NonMaxSuppression(byClass[cls], iouThreshold)...)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score() > kept[j].Score() })
	return kept
}

// sortCandidatesByScore returns candidate indices ordered by descending
// score. Equal scores keep their input order.
func sortCandidatesByScore(cands []Candidate) []int {
	indices := make([]int, len(cands))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return cands[indices[i]].Score() > cands[indices[j]].Score()
	})
	return indices
}
