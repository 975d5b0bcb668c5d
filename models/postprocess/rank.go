package postprocess

import (
	"sort"

	"github.com/pkg/errors"
)

// RankStable orders items by descending score and keeps at most topK of them.
//
// Items with equal scores keep their input order. This decides which of two
// geometrically identical boxes survives suppression, so the sort must be stable.
//
// Arguments:
//   - items: The items to rank. The slice is reordered in place.
//   - score: Extracts the ranking key of an item.
//   - topK: The maximum number of items to keep. Negative values keep all items.
//
// Returns:
//   - The ranked prefix of items.
//
// @example
// ranked := RankStable(candidates, func(c Candidate) float32 { return c.Score }, 100)
func RankStable[T any](items []T, score func(T) float32, topK int) []T {
	sort.SliceStable(items, func(i, j int) bool {
		return score(items[i]) > score(items[j])
	})
	if topK >= 0 && len(items) > topK {
		items = items[:topK]
	}
	return items
}

func candidateScore(c Candidate) float32 {
	return c.Score
}

// SelectCandidates picks the priors of one class whose score exceeds the threshold and
// returns them ranked.
//
// Arguments:
//   - scores: The scores of class for every prior of the image.
//   - class: The class the scores belong to.
//   - numPriors: The number of priors in the image.
//   - threshold: The score a prior must strictly exceed.
//   - topK: The per-class cap, -1 for unbounded.
//
// Returns:
//   - The ranked candidates.
//   - ErrShapeMismatch when scores holds fewer than numPriors values.
//
// @example
// ranked, err := SelectCandidates([]float32{0.9, 0.8, 0.95}, 0, 3, 0.5, -1)
// // ranked indices: 2, 0, 1
func SelectCandidates(scores []float32, class, numPriors int, threshold float32, topK int) ([]Candidate, error) {
	if len(scores) < numPriors {
		return nil, errors.Wrapf(ErrShapeMismatch, "class %d has %d scores, need %d", class, len(scores), numPriors)
	}

	candidates := make([]Candidate, 0, numPriors)
	for i, s := range scores[:numPriors] {
		if s > threshold {
			candidates = append(candidates, Candidate{Class: class, Index: i, Score: s})
		}
	}
	return RankStable(candidates, candidateScore, topK), nil
}
