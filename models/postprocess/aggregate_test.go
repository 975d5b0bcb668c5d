package postprocess

import (
	"testing"

	"github.com/nvr-ai/go-nms/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig returns an unbounded, non-decaying configuration so each test only sets the
// options it exercises.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ScoreThreshold = 0.1
	cfg.NMSTopK = -1
	cfg.KeepTopK = -1
	cfg.NMSThreshold = 0.3
	cfg.NMSEta = 1
	cfg.BackgroundLabel = -1
	cfg.Normalized = false
	cfg.NumWorkers = 1
	return cfg
}

func newTestAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(cfg, nil)
	require.NoError(t, err)
	return agg
}

func flatten(boxes ...images.Box) []float32 {
	data := make([]float32, 0, 4*len(boxes))
	for _, b := range boxes {
		data = append(data, b.XMin, b.YMin, b.XMax, b.YMax)
	}
	return data
}

var (
	box0 = images.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
	box1 = images.Box{XMin: 1, YMin: 1, XMax: 9, YMax: 9}
	box2 = images.Box{XMin: 50, YMin: 50, XMax: 60, YMax: 60}
	box3 = images.Box{XMin: 100, YMin: 100, XMax: 120, YMax: 130}
)

func TestAggregator_SingleClassFixture(t *testing.T) {
	agg := newTestAggregator(t, func() Config {
		cfg := testConfig()
		cfg.ScoreThreshold = 0.5
		return cfg
	}())

	result, err := agg.Process(Image{
		ClassNum:  1,
		NumPriors: 3,
		Scores:    []float32{0.9, 0.8, 0.95},
		Location:  NewLocation(true, LayoutPriorMajor, flatten(box0, box1, box2)),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Count)
	assert.Equal(t, []Detection{
		{Label: 0, Score: 0.95, Box: box2},
		{Label: 0, Score: 0.9, Box: box0},
	}, result.Detections)
}

func TestAggregator_CoordMajorLayout(t *testing.T) {
	agg := newTestAggregator(t, func() Config {
		cfg := testConfig()
		cfg.ScoreThreshold = 0.5
		return cfg
	}())

	// The same three boxes as the fixture, stored as coordinate planes.
	boxes := []float32{
		0, 1, 50, // xmin
		0, 1, 50, // ymin
		10, 9, 60, // xmax
		10, 9, 60, // ymax
	}
	result, err := agg.Process(Image{
		ClassNum:  1,
		NumPriors: 3,
		Scores:    []float32{0.9, 0.8, 0.95},
		Location:  NewLocation(true, LayoutCoordMajor, boxes),
	})
	require.NoError(t, err)

	assert.Equal(t, []Detection{
		{Label: 0, Score: 0.95, Box: box2},
		{Label: 0, Score: 0.9, Box: box0},
	}, result.Detections)
}

// TestAggregator_BackgroundSkipped checks that the background class never reaches the
// output regardless of its scores.
func TestAggregator_BackgroundSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.BackgroundLabel = 1
	agg := newTestAggregator(t, cfg)

	result, err := agg.Process(Image{
		ClassNum:  2,
		NumPriors: 3,
		Scores: []float32{
			0.2, 0.3, 0.4, // class 0
			0.99, 0.99, 0.99, // class 1
		},
		Location: NewLocation(true, LayoutPriorMajor, flatten(box0, box2, box3)),
	})
	require.NoError(t, err)

	require.Equal(t, 3, result.Count)
	for _, d := range result.Detections {
		assert.Equal(t, 0, d.Label)
	}
}

func TestAggregator_PerClassLocation(t *testing.T) {
	agg := newTestAggregator(t, testConfig())

	result, err := agg.Process(Image{
		ClassNum:  2,
		NumPriors: 2,
		Scores: []float32{
			0.9, 0.8, // class 0
			0.7, 0.6, // class 1
		},
		Location: NewLocation(false, LayoutPriorMajor, flatten(
			box0, box1, // class 0: nested, second is suppressed
			box0, box2, // class 1: disjoint, both kept
		)),
	})
	require.NoError(t, err)

	assert.Equal(t, []Detection{
		{Label: 0, Score: 0.9, Box: box0},
		{Label: 1, Score: 0.7, Box: box0},
		{Label: 1, Score: 0.6, Box: box2},
	}, result.Detections)
}

// TestAggregator_CrossClassRank verifies that the per-image cap ranks survivors of all
// classes together and regroups them by class.
func TestAggregator_CrossClassRank(t *testing.T) {
	cfg := testConfig()
	cfg.KeepTopK = 3
	agg := newTestAggregator(t, cfg)

	img := Image{
		ClassNum:  3,
		NumPriors: 4,
		Scores: []float32{
			0.9, 0.3, 0, 0, // class 0
			0, 0.8, 0.95, 0, // class 1
			0.3, 0, 0, 0.85, // class 2
		},
		Location: NewLocation(true, LayoutPriorMajor, flatten(box0, box2, box3,
			images.Box{XMin: 200, YMin: 200, XMax: 210, YMax: 210})),
	}

	result, err := agg.Process(img)
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{Class: 0, Index: 0, Score: 0.9},
		{Class: 1, Index: 2, Score: 0.95},
		{Class: 2, Index: 3, Score: 0.85},
	}, result.Kept)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, box3, result.Detections[1].Box)
}

func TestAggregator_CrossClassTieKeepsLowerClass(t *testing.T) {
	cfg := testConfig()
	cfg.KeepTopK = 1
	agg := newTestAggregator(t, cfg)

	result, err := agg.Process(Image{
		ClassNum:  2,
		NumPriors: 2,
		Scores: []float32{
			0, 0.5, // class 0
			0.5, 0, // class 1
		},
		Location: NewLocation(true, LayoutPriorMajor, flatten(box0, box2)),
	})
	require.NoError(t, err)

	assert.Equal(t, []Candidate{{Class: 0, Index: 1, Score: 0.5}}, result.Kept)
}

func TestAggregator_KeepTopKNotReached(t *testing.T) {
	cfg := testConfig()
	cfg.KeepTopK = 5
	agg := newTestAggregator(t, cfg)

	result, err := agg.Process(Image{
		ClassNum:  2,
		NumPriors: 2,
		Scores: []float32{
			0.4, 0.9, // class 0
			0.8, 0.2, // class 1
		},
		Location: NewLocation(true, LayoutPriorMajor, flatten(box0, box2)),
	})
	require.NoError(t, err)

	// Without a cut the order stays class-major, rank order within class.
	assert.Equal(t, []Candidate{
		{Class: 0, Index: 1, Score: 0.9},
		{Class: 0, Index: 0, Score: 0.4},
		{Class: 1, Index: 0, Score: 0.8},
		{Class: 1, Index: 1, Score: 0.2},
	}, result.Kept)
}

func TestAggregator_EmptySentinel(t *testing.T) {
	img := Image{
		ClassNum:  2,
		NumPriors: 2,
		Scores:    []float32{0.01, 0.05, 0.02, 0.1},
		Location:  NewLocation(true, LayoutPriorMajor, flatten(box0, box2)),
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		expected []Detection
	}{
		{
			name:     "all scores at or below threshold",
			mutate:   func(*Config) {},
			expected: []Detection{{Label: SentinelLabel}},
		},
		{
			name: "keep top k zero",
			mutate: func(c *Config) {
				c.ScoreThreshold = 0
				c.KeepTopK = 0
			},
			expected: []Detection{{Label: SentinelLabel}},
		},
		{
			name:     "sentinel disabled",
			mutate:   func(c *Config) { c.EmitEmptySentinel = false },
			expected: []Detection{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			result, err := newTestAggregator(t, cfg).Process(img)
			require.NoError(t, err)

			assert.True(t, result.Empty())
			assert.Equal(t, 0, result.Count)
			assert.Equal(t, tt.expected, result.Detections)
		})
	}
}

func TestAggregator_ShapeMismatch(t *testing.T) {
	agg := newTestAggregator(t, testConfig())

	tests := []struct {
		name string
		img  Image
	}{
		{
			name: "short scores",
			img: Image{
				ClassNum: 2, NumPriors: 2,
				Scores:   []float32{0.9, 0.9, 0.9},
				Location: NewLocation(true, LayoutPriorMajor, flatten(box0, box2)),
			},
		},
		{
			name: "short shared boxes",
			img: Image{
				ClassNum: 1, NumPriors: 2,
				Scores:   []float32{0.9, 0.9},
				Location: NewLocation(true, LayoutPriorMajor, flatten(box0)),
			},
		},
		{
			name: "short per class boxes",
			img: Image{
				ClassNum: 2, NumPriors: 2,
				Scores:   []float32{0.9, 0.9, 0.9, 0.9},
				Location: NewLocation(false, LayoutPriorMajor, flatten(box0, box2, box3)),
			},
		},
		{
			name: "class_num overflowing the score size",
			img: Image{
				ClassNum: 1 << 62, NumPriors: 4,
				Location: NewLocation(true, LayoutPriorMajor, flatten(box0, box1, box2, box3)),
			},
		},
		{
			name: "priors overflowing the per class box size",
			img: Image{
				ClassNum: 4, NumPriors: 1 << 61,
				Scores:   []float32{0.9, 0.9, 0.9, 0.9},
				Location: NewLocation(false, LayoutPriorMajor, flatten(box0)),
			},
		},
		{
			name: "no classes",
			img: Image{
				ClassNum: 0, NumPriors: 1,
				Location: NewLocation(true, LayoutPriorMajor, flatten(box0)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := agg.Process(tt.img)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShapeMismatch)
			assert.Equal(t, err, result.Err)
			assert.Empty(t, result.Detections, "no partial results")
		})
	}
}

func TestNewAggregator_InvalidConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.NMSEta = 0
	_, err := NewAggregator(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
