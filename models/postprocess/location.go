package postprocess

import (
	"github.com/nvr-ai/go-nms/images"
	"github.com/pkg/errors"
)

// BoxLayout describes how box coordinates are laid out in memory.
type BoxLayout int

const (
	// LayoutPriorMajor stores the four coordinates of a prior contiguously
	// ([..., num_priors, 4]).
	LayoutPriorMajor BoxLayout = iota
	// LayoutCoordMajor stores each coordinate as a contiguous plane over all priors
	// ([..., 4, num_priors]), as produced by accelerators that transpose their outputs.
	LayoutCoordMajor
)

func (l BoxLayout) String() string {
	switch l {
	case LayoutPriorMajor:
		return "prior_major"
	case LayoutCoordMajor:
		return "coord_major"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (l BoxLayout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *BoxLayout) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "prior_major":
		*l = LayoutPriorMajor
	case "coord_major":
		*l = LayoutCoordMajor
	default:
		return errors.Wrapf(ErrInvalidConfiguration, "unknown box layout %q", text)
	}
	return nil
}

// BoxSlice is a read-only view over the boxes of one class of one image.
type BoxSlice struct {
	data        []float32
	n           int
	priorStride int
	coordStride int
}

func newBoxSlice(data []float32, n int, layout BoxLayout) BoxSlice {
	if layout == LayoutCoordMajor {
		return BoxSlice{data: data, n: n, priorStride: 1, coordStride: n}
	}
	return BoxSlice{data: data, n: n, priorStride: 4, coordStride: 1}
}

// Len returns the number of boxes in the view.
func (s BoxSlice) Len() int {
	return s.n
}

// At returns the box of prior i in xmin, ymin, xmax, ymax order.
func (s BoxSlice) At(i int) images.Box {
	o := i * s.priorStride
	return images.Box{
		XMin: s.data[o],
		YMin: s.data[o+s.coordStride],
		XMax: s.data[o+2*s.coordStride],
		YMax: s.data[o+3*s.coordStride],
	}
}

// LocationKind selects whether classes share one box set.
type LocationKind int

const (
	// SharedLocation means every class reads the same box per prior.
	SharedLocation LocationKind = iota
	// PerClassLocation means each class has its own box per prior.
	PerClassLocation
)

// Location is the box source of one image. It is chosen once per image so that the
// suppression loop never branches on how boxes are shared.
type Location struct {
	Kind   LocationKind
	Layout BoxLayout
	Data   []float32
}

// NewLocation returns the location variant matching shareLocation.
func NewLocation(shareLocation bool, layout BoxLayout, data []float32) Location {
	kind := PerClassLocation
	if shareLocation {
		kind = SharedLocation
	}
	return Location{Kind: kind, Layout: layout, Data: data}
}

// Capacity returns how many priors the data holds boxes for, given classNum classes.
// It divides rather than multiplies so that huge declared sizes cannot overflow.
func (l Location) Capacity(classNum int) int {
	if classNum <= 0 {
		return 0
	}
	if l.Kind == PerClassLocation {
		return len(l.Data) / 4 / classNum
	}
	return len(l.Data) / 4
}

// Class returns the boxes read by class. The caller must have checked Capacity.
func (l Location) Class(class, numPriors int) BoxSlice {
	size := 4 * numPriors
	switch l.Kind {
	case PerClassLocation:
		off := class * size
		return newBoxSlice(l.Data[off:off+size], numPriors, l.Layout)
	default:
		return newBoxSlice(l.Data[:size], numPriors, l.Layout)
	}
}
