package postprocess

import "github.com/nvr-ai/go-nms/images"

// Suppressor performs greedy Non-Maximum Suppression with adaptive threshold decay.
//
// A Suppressor keeps a scratch buffer of accepted boxes between calls and must not be
// shared between goroutines.
type Suppressor struct {
	// Threshold is the initial IoU tolerance.
	Threshold float32
	// Eta tightens the tolerance after each accepted box while it stays above 0.5.
	Eta float32
	// Normalized selects the area convention, see images.Box.Area.
	Normalized bool

	kept []images.Box
}

// NewSuppressor returns a Suppressor configured from cfg.
func NewSuppressor(cfg Config) *Suppressor {
	return &Suppressor{
		Threshold:  cfg.NMSThreshold,
		Eta:        cfg.NMSEta,
		Normalized: cfg.Normalized,
	}
}

// Suppress filters ranked candidates so that no kept box overlaps an earlier kept box
// by more than the adaptive threshold.
//
// Candidates are visited in ranked order. A candidate is kept only when its IoU with
// every box kept so far is at most the current threshold. After a box is kept, and
// while Eta < 1 and the threshold is above 0.5, the threshold is multiplied by Eta.
//
// Arguments:
//   - ranked: Candidates sorted by descending score (see SelectCandidates).
//   - boxes: The boxes the candidate indices refer to.
//
// Returns:
//   - The kept candidates in ranked order.
//
// @example
// s := NewSuppressor(cfg)
// kept := s.Suppress(ranked, location.Class(class, numPriors))
func (s *Suppressor) Suppress(ranked []Candidate, boxes BoxSlice) []Candidate {
	s.kept = s.kept[:0]
	adaptive := s.Threshold
	filtered := make([]Candidate, 0, len(ranked))

	for _, c := range ranked {
		box := boxes.At(c.Index)
		keep := true
		for _, k := range s.kept {
			if images.JaccardOverlap(box, k, s.Normalized) > adaptive {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}

		filtered = append(filtered, c)
		s.kept = append(s.kept, box)
		if s.Eta < 1 && adaptive > 0.5 {
			adaptive *= s.Eta
		}
	}

	return filtered
}
