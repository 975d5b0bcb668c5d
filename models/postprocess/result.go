// Package postprocess - Multiclass non-maximum suppression for detector outputs.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-nms/images"
)

// SentinelLabel marks the single placeholder detection of an image with no results.
const SentinelLabel = -1

// Candidate is a scored prior of one class, transient for a single suppression pass.
type Candidate struct {
	// The class the score belongs to.
	Class int
	// The prior (anchor) index inside the image.
	Index int
	// The confidence score of the prior for Class.
	Score float32
}

// Detection represents a single final detection result.
type Detection struct {
	// The class id of the detection, or SentinelLabel.
	Label int
	// The confidence score of the detection.
	Score float32
	// The box of the detection, in xmin, ymin, xmax, ymax order.
	Box images.Box
}

// IsSentinel reports whether d is the "no detections" marker.
func (d Detection) IsSentinel() bool {
	return d.Label == SentinelLabel
}

func (d Detection) String() string {
	return fmt.Sprintf("Object %d (confidence %f): %s", d.Label, d.Score, d.Box)
}

// ImageResult is the outcome of suppressing a single image.
type ImageResult struct {
	// Image is the position of the image in its batch.
	Image int
	// Kept lists the surviving candidates, class-major and in rank order within a class.
	Kept []Candidate
	// Detections is Kept resolved to boxes, or a single sentinel detection when Kept is
	// empty and the sentinel is enabled.
	Detections []Detection
	// Count is the number of real detections; the sentinel is not counted.
	Count int
	// Err is set when the image could not be processed.
	Err error
}

// Empty reports whether the image produced no real detections.
func (r ImageResult) Empty() bool {
	return r.Count == 0
}
