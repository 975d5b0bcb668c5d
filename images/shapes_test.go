package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestJaccardOverlap_Correctness validates the IoU implementation against known cases
// under both area conventions.
func TestJaccardOverlap_Correctness(t *testing.T) {
	tests := []struct {
		name       string
		a          Box
		b          Box
		normalized bool
		expected   float32
	}{
		{
			name:       "identical boxes normalized",
			a:          Box{0, 0, 100, 100},
			b:          Box{0, 0, 100, 100},
			normalized: true,
			expected:   1.0,
		},
		{
			name:       "identical boxes inclusive pixels",
			a:          Box{0, 0, 10, 10},
			b:          Box{0, 0, 10, 10},
			normalized: false,
			expected:   1.0,
		},
		{
			name:       "no overlap",
			a:          Box{0, 0, 100, 100},
			b:          Box{200, 200, 300, 300},
			normalized: true,
			expected:   0.0,
		},
		{
			name:       "overlap on x only",
			a:          Box{0, 0, 100, 100},
			b:          Box{50, 200, 150, 300},
			normalized: false,
			expected:   0.0,
		},
		{
			name:       "half overlap normalized",
			a:          Box{0, 0, 100, 100},
			b:          Box{50, 50, 150, 150},
			normalized: true,
			expected:   0.142857, // 2500 / (10000 + 10000 - 2500)
		},
		{
			name:       "one inside other normalized",
			a:          Box{0, 0, 100, 100},
			b:          Box{25, 25, 75, 75},
			normalized: true,
			expected:   0.25,
		},
		{
			name:       "nested inclusive pixels",
			a:          Box{0, 0, 10, 10},
			b:          Box{1, 1, 9, 9},
			normalized: false,
			expected:   81.0 / 121.0,
		},
		{
			name:       "touching edge normalized",
			a:          Box{0, 0, 10, 10},
			b:          Box{10, 0, 20, 10},
			normalized: true,
			expected:   0.0,
		},
		{
			name:       "touching edge inclusive pixels shares a column",
			a:          Box{0, 0, 10, 10},
			b:          Box{10, 0, 20, 10},
			normalized: false,
			expected:   11.0 / (121.0 + 121.0 - 11.0),
		},
		{
			name:       "degenerate box",
			a:          Box{10, 10, 0, 0},
			b:          Box{0, 0, 10, 10},
			normalized: false,
			expected:   0.0,
		},
		{
			name:       "zero union points",
			a:          Box{5, 5, 5, 5},
			b:          Box{5, 5, 5, 5},
			normalized: true,
			expected:   0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := JaccardOverlap(tt.a, tt.b, tt.normalized)
			assert.InDelta(t, tt.expected, result, 1e-5)

			reverse := JaccardOverlap(tt.b, tt.a, tt.normalized)
			assert.Equal(t, result, reverse, "IoU must be symmetric")
		})
	}
}

func TestBoxArea(t *testing.T) {
	tests := []struct {
		name       string
		box        Box
		normalized bool
		expected   float32
	}{
		{"normalized", Box{0, 0, 0.5, 0.25}, true, 0.125},
		{"inclusive pixels", Box{0, 0, 10, 10}, false, 121},
		{"zero width inclusive", Box{3, 3, 3, 7}, false, 5},
		{"reversed x", Box{5, 0, 1, 10}, false, 0},
		{"reversed y", Box{0, 5, 10, 1}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.box.Area(tt.normalized), 1e-6)
		})
	}
}

// TestJaccardOverlap_SelfIsOne checks that any box with positive area fully overlaps
// itself under both conventions.
func TestJaccardOverlap_SelfIsOne(t *testing.T) {
	boxes := []Box{
		{0, 0, 1, 1},
		{0.1, 0.2, 0.3, 0.9},
		{-20, -20, 40, 5},
		{100, 200, 640, 480},
	}
	for _, b := range boxes {
		assert.InDelta(t, 1.0, JaccardOverlap(b, b, true), 1e-6, "normalized %s", b)
		assert.InDelta(t, 1.0, JaccardOverlap(b, b, false), 1e-6, "inclusive %s", b)
	}
}

func TestBoxString(t *testing.T) {
	assert.Equal(t, "(1.00, 2.50), (3.00, 4.25)", Box{1, 2.5, 3, 4.25}.String())
}
