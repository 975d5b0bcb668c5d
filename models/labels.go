// Package models - Label sets mapping detector class indices to names.
package models

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// LabelStyle identifies the naming convention / dataset of a label set.
type LabelStyle string

const (
	// StyleCOCO is the 80 COCO classes + background at index 0.
	StyleCOCO LabelStyle = "coco"
	// StyleYOLO is the 80 COCO classes, no background.
	StyleYOLO LabelStyle = "yolo"
	// StyleVOC is the 20 Pascal VOC classes + background at index 0.
	StyleVOC LabelStyle = "voc"
)

// ErrUnknownLabel is returned when a style or name is not registered.
var ErrUnknownLabel = errors.New("unknown label")

// LabelSet ties a style to its full list of labels.
type LabelSet struct {
	// Style is the set identifier.
	Style LabelStyle
	// Names are indexed by class id.
	Names []string
	// Background is the class id of the background class, or -1.
	Background int
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewLabelSet builds a label set and its name index.
func NewLabelSet(style LabelStyle, names []string, background int) *LabelSet {
	s := &LabelSet{Style: style, Names: names, Background: background}
	s.nameToIdx = make(map[string]int, len(names))
	for i, n := range names {
		s.nameToIdx[n] = i
	}
	return s
}

// Len returns the number of classes.
func (s *LabelSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Names)
}

// Name returns the name of class id. Ids outside the set, and any id of a nil set,
// are named "class_<id>".
func (s *LabelSet) Name(id int) string {
	if s != nil && id >= 0 && id < len(s.Names) {
		return s.Names[id]
	}
	return "class_" + strconv.Itoa(id)
}

// Index returns the class id of name.
func (s *LabelSet) Index(name string) (int, error) {
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Wrapf(ErrUnknownLabel, "name %q not found in style %q", name, s.Style)
	}
	return idx, nil
}

// BackgroundLabel returns the background class id to suppress, -1 when the set has none.
func (s *LabelSet) BackgroundLabel() int {
	if s == nil {
		return -1
	}
	return s.Background
}

// String implements fmt.Stringer.
func (s *LabelSet) String() string {
	return fmt.Sprintf("%s (%d classes)", s.Style, s.Len())
}

// cocoNames are the 80 COCO classes in contiguous training order.
var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

var (
	// COCOLabels is the full 80 COCO classes plus "__background__" at index 0, as used
	// by SSD-style heads.
	COCOLabels = NewLabelSet(StyleCOCO, append([]string{"__background__"}, cocoNames...), 0)

	// YOLOLabels is the 80 COCO classes (no background).
	// YOLO models index directly into this zero-based list.
	YOLOLabels = NewLabelSet(StyleYOLO, cocoNames, -1)

	// VOCLabels is the 20 Pascal VOC classes + "__background__" at index 0.
	VOCLabels = NewLabelSet(StyleVOC, []string{
		"__background__", "aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car",
		"cat", "chair", "cow", "diningtable", "dog", "horse", "motorbike", "person",
		"pottedplant", "sheep", "sofa", "train", "tvmonitor",
	}, 0)
)

// LookupLabelSet returns the registered set of style.
func LookupLabelSet(style LabelStyle) (*LabelSet, error) {
	for _, set := range []*LabelSet{COCOLabels, YOLOLabels, VOCLabels} {
		if set.Style == style {
			return set, nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownLabel, "style %q not registered", style)
}
