package postprocess

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-nms/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedBoxes flattens boxes into a prior-major shared box slice.
func sharedBoxes(boxes ...images.Box) BoxSlice {
	data := make([]float32, 0, 4*len(boxes))
	for _, b := range boxes {
		data = append(data, b.XMin, b.YMin, b.XMax, b.YMax)
	}
	return NewLocation(true, LayoutPriorMajor, data).Class(0, len(boxes))
}

func rankedFor(t *testing.T, scores []float32, threshold float32) []Candidate {
	t.Helper()
	ranked, err := SelectCandidates(scores, 0, len(scores), threshold, -1)
	require.NoError(t, err)
	return ranked
}

// TestSuppress_Fixture encodes the reference scenario: the highest box is disjoint from
// the other two, and box 0 suppresses the nested box 1.
//
// @example
// go test -v -run TestSuppress_Fixture
func TestSuppress_Fixture(t *testing.T) {
	boxes := sharedBoxes(
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		images.Box{XMin: 1, YMin: 1, XMax: 9, YMax: 9},
		images.Box{XMin: 50, YMin: 50, XMax: 60, YMax: 60},
	)
	ranked := rankedFor(t, []float32{0.9, 0.8, 0.95}, 0.5)

	s := &Suppressor{Threshold: 0.3, Eta: 1, Normalized: false}
	kept := s.Suppress(ranked, boxes)

	assert.Equal(t, []int{2, 0}, indicesOf(kept))
	assert.Equal(t, []float32{0.95, 0.9}, []float32{kept[0].Score, kept[1].Score})
}

func TestSuppress_TiesKeepFirstPrior(t *testing.T) {
	same := images.Box{XMin: 10, YMin: 10, XMax: 20, YMax: 20}
	boxes := sharedBoxes(same, same, same)
	ranked := rankedFor(t, []float32{0.8, 0.8, 0.8}, 0)

	s := &Suppressor{Threshold: 0.5, Eta: 1, Normalized: true}
	assert.Equal(t, []int{0}, indicesOf(s.Suppress(ranked, boxes)))
}

func TestSuppress_ThresholdIsInclusive(t *testing.T) {
	// IoU of the pair is exactly 0.5 under the normalized convention.
	boxes := sharedBoxes(
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 5},
	)
	ranked := rankedFor(t, []float32{0.9, 0.8}, 0)

	s := &Suppressor{Threshold: 0.5, Eta: 1, Normalized: true}
	assert.Equal(t, []int{0, 1}, indicesOf(s.Suppress(ranked, boxes)))
}

// TestSuppress_AdaptiveDecay checks that accepting a box tightens the tolerance while
// it is above 0.5.
func TestSuppress_AdaptiveDecay(t *testing.T) {
	// IoU(0, 1) = 0.6 under the normalized convention.
	boxes := sharedBoxes(
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 6},
	)
	ranked := rankedFor(t, []float32{0.9, 0.8}, 0)

	tests := []struct {
		name     string
		eta      float32
		expected []int
	}{
		{"no decay keeps the overlapping box", 1, []int{0, 1}},
		{"decay suppresses the overlapping box", 0.5, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Suppressor{Threshold: 0.7, Eta: tt.eta, Normalized: true}
			assert.Equal(t, tt.expected, indicesOf(s.Suppress(ranked, boxes)))
		})
	}
}

// TestSuppress_DecayStopsAtHalf checks that the tolerance stops shrinking once it is no
// longer above 0.5: 0.6 -> 0.54 -> 0.486 and then stays.
func TestSuppress_DecayStopsAtHalf(t *testing.T) {
	boxes := sharedBoxes(
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		images.Box{XMin: 100, YMin: 0, XMax: 110, YMax: 10},
		images.Box{XMin: 200, YMin: 0, XMax: 210, YMax: 10},
		// IoU 0.45 against box 0 only.
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 4.5},
	)
	ranked := rankedFor(t, []float32{0.9, 0.8, 0.7, 0.6}, 0)

	s := &Suppressor{Threshold: 0.6, Eta: 0.9, Normalized: true}
	assert.Equal(t, []int{0, 1, 2, 3}, indicesOf(s.Suppress(ranked, boxes)))
}

func TestSuppress_DegenerateBoxesNeverSuppress(t *testing.T) {
	boxes := sharedBoxes(
		images.Box{XMin: 10, YMin: 10, XMax: 0, YMax: 0},
		images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		images.Box{XMin: 10, YMin: 10, XMax: 0, YMax: 0},
	)
	ranked := rankedFor(t, []float32{0.9, 0.8, 0.7}, 0)

	s := &Suppressor{Threshold: 0, Eta: 1, Normalized: false}
	assert.Equal(t, []int{0, 1, 2}, indicesOf(s.Suppress(ranked, boxes)))
}

func TestSuppress_Empty(t *testing.T) {
	s := &Suppressor{Threshold: 0.5, Eta: 1}
	assert.Empty(t, s.Suppress(nil, sharedBoxes()))
}

// randomBoxes returns n boxes clustered enough to overlap often.
func randomBoxes(rng *rand.Rand, n int) []images.Box {
	boxes := make([]images.Box, n)
	for i := range boxes {
		x := rng.Float32() * 100
		y := rng.Float32() * 100
		boxes[i] = images.Box{XMin: x, YMin: y, XMax: x + 5 + rng.Float32()*40, YMax: y + 5 + rng.Float32()*40}
	}
	return boxes
}

func randomScores(rng *rand.Rand, n int) []float32 {
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = rng.Float32()
	}
	return scores
}

// TestSuppress_Idempotent re-runs suppression over its own output: no kept box may
// suppress another.
func TestSuppress_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		boxes := sharedBoxes(randomBoxes(rng, 200)...)
		ranked := rankedFor(t, randomScores(rng, 200), 0.05)

		for _, normalized := range []bool{true, false} {
			s := &Suppressor{Threshold: 0.4, Eta: 1, Normalized: normalized}
			kept := s.Suppress(ranked, boxes)
			again := s.Suppress(kept, boxes)
			require.Equal(t, kept, again, "trial %d normalized=%v", trial, normalized)

			for i := 1; i < len(kept); i++ {
				require.GreaterOrEqual(t, kept[i-1].Score, kept[i].Score)
			}
		}
	}
}

// BenchmarkSuppress measures suppression of a dense single class.
func BenchmarkSuppress(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	boxes := sharedBoxes(randomBoxes(rng, 1000)...)
	ranked, err := SelectCandidates(randomScores(rng, 1000), 0, 1000, 0.01, 400)
	if err != nil {
		b.Fatal(err)
	}
	s := &Suppressor{Threshold: 0.45, Eta: 1, Normalized: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Suppress(ranked, boxes)
	}
}
