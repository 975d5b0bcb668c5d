// Package images - box geometry shared by the suppression stage.
package images

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Box is an axis-aligned box in the detector's coordinate frame.
//
// A box carries no identity of its own; it is addressed by its prior index in the
// buffer it was read from.
type Box struct {
	XMin, YMin, XMax, YMax float32
}

// Valid reports whether the box has non-reversed extents on both axes.
func (b Box) Valid() bool {
	return b.XMax >= b.XMin && b.YMax >= b.YMin
}

// Area returns the area of the box under the given convention.
//
// Arguments:
//   - normalized: When true the coordinates are treated as continuous (w*h). When false
//     they are inclusive pixel indices and each extent grows by one ((w+1)*(h+1)).
//
// Returns:
//   - The area, or 0 when the box is degenerate.
//
// @example
// Box{0, 0, 10, 10}.Area(false) // 121
// Box{0, 0, 10, 10}.Area(true)  // 100
func (b Box) Area(normalized bool) float32 {
	if !b.Valid() {
		return 0
	}
	return extentArea(b.XMax-b.XMin, b.YMax-b.YMin, normalized)
}

func (b Box) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.XMin, b.YMin, b.XMax, b.YMax)
}

func extentArea(w, h float32, normalized bool) float32 {
	if normalized {
		return w * h
	}
	return (w + 1) * (h + 1)
}

// JaccardOverlap returns the Intersection over Union of two boxes.
//
// The intersection rectangle is bounded by the per-axis maximum of the minimums and the
// minimum of the maximums. When either axis of that rectangle is reversed the boxes do
// not overlap and the result is 0. The area convention selected by normalized is
// applied to both boxes and to the intersection, so the union is
//
//	Area(a) + Area(b) - Area(a ∩ b)
//
// under a single convention. Degenerate boxes have area 0 and never overlap anything.
//
// Arguments:
//   - a, b: The boxes to compare. The result is symmetric in a and b.
//   - normalized: The area convention, see Box.Area.
//
// Returns:
//   - A value in [0, 1].
//
// @example
// a := Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
// b := Box{XMin: 5, YMin: 5, XMax: 15, YMax: 15}
// JaccardOverlap(a, b, true) // 25 / (100 + 100 - 25) ≈ 0.142857
func JaccardOverlap(a, b Box, normalized bool) float32 {
	if !a.Valid() || !b.Valid() {
		return 0
	}

	ix1 := math32.Max(a.XMin, b.XMin)
	iy1 := math32.Max(a.YMin, b.YMin)
	ix2 := math32.Min(a.XMax, b.XMax)
	iy2 := math32.Min(a.YMax, b.YMax)
	if ix2 < ix1 || iy2 < iy1 {
		return 0
	}

	inter := extentArea(ix2-ix1, iy2-iy1, normalized)
	union := a.Area(normalized) + b.Area(normalized) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
