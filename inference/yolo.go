package inference

import (
	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// YOLOHead identifies the output layout of a YOLO detection head.
type YOLOHead int

const (
	// HeadAnchorFree is the YOLOv8 and later layout [B, 4+C, N]: cx, cy, w, h planes
	// followed by one score plane per class.
	HeadAnchorFree YOLOHead = iota
	// HeadObjectness is the YOLOv4/v5 layout [B, N, 5+C]: cx, cy, w, h, objectness and
	// the class scores of each prior. Class scores are multiplied by the objectness.
	HeadObjectness
)

func (h YOLOHead) String() string {
	if h == HeadObjectness {
		return "objectness"
	}
	return "anchor_free"
}

// MarshalText implements encoding.TextMarshaler.
func (h YOLOHead) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *YOLOHead) UnmarshalText(text []byte) error {
	switch string(text) {
	case "anchor_free", "":
		*h = HeadAnchorFree
	case "objectness":
		*h = HeadObjectness
	default:
		return errors.Wrapf(postprocess.ErrInvalidConfiguration, "unknown yolo head %q", text)
	}
	return nil
}

// YOLOOptions describe a YOLO head output.
type YOLOOptions struct {
	Head YOLOHead
	// ScaleX and ScaleY map input coordinates to the original frame, e.g.
	// frameWidth / inputWidth. Zero means 1.
	ScaleX, ScaleY float32
}

// FromYOLO decodes a YOLO head output into a batch of corner boxes and class-major
// scores, ready for multiclass NMS with shared locations.
//
// Arguments:
//   - output: The raw head output.
//   - shape: The output shape, [B, 4+C, N] or [B, N, 5+C] depending on opts.Head.
//   - opts: The head layout and coordinate scale.
//
// Returns:
//   - Outputs: A batch with coordinate-major boxes in xmin, ymin, xmax, ymax order.
//   - error: ErrShapeMismatch when the shape does not describe output.
//
// @example
// out, err := FromYOLO(session.Output.GetData(), []int{1, 84, 8400}, YOLOOptions{})
func FromYOLO(output []float32, shape []int, opts YOLOOptions) (Outputs, error) {
	if len(shape) != 3 {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "yolo output must have rank 3, got %v", shape)
	}
	for i, d := range shape {
		if d <= 0 {
			return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "dimension %d of %v is not positive", i, shape)
		}
	}
	if n := tensor.Shape(shape).TotalSize(); n != len(output) {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "shape %v holds %d values, got %d", shape, n, len(output))
	}

	batchSize, channels, numPriors := shape[0], shape[1], shape[2]
	first := 4
	if opts.Head == HeadObjectness {
		numPriors, channels = shape[1], shape[2]
		first = 5
	}
	classNum := channels - first
	if classNum < 1 {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "%d channels leave no class scores", channels)
	}

	sx, sy := opts.ScaleX, opts.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}

	boxes := make([]float32, batchSize*4*numPriors)
	scores := make([]float32, batchSize*classNum*numPriors)
	for b := 0; b < batchSize; b++ {
		img := output[b*channels*numPriors : (b+1)*channels*numPriors]
		bx := boxes[b*4*numPriors : (b+1)*4*numPriors]
		sc := scores[b*classNum*numPriors : (b+1)*classNum*numPriors]

		at := func(c, i int) float32 {
			if opts.Head == HeadObjectness {
				return img[i*channels+c]
			}
			return img[c*numPriors+i]
		}

		for i := 0; i < numPriors; i++ {
			cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
			bx[i] = (cx - w/2) * sx
			bx[numPriors+i] = (cy - h/2) * sy
			bx[2*numPriors+i] = (cx + w/2) * sx
			bx[3*numPriors+i] = (cy + h/2) * sy

			obj := float32(1)
			if opts.Head == HeadObjectness {
				obj = at(4, i)
			}
			for c := 0; c < classNum; c++ {
				sc[c*numPriors+i] = obj * at(first+c, i)
			}
		}
	}

	return Outputs{
		Batch: &postprocess.Batch{
			ClassNum:  classNum,
			Priors:    postprocess.UniformPriors(batchSize, numPriors),
			BoxLayout: postprocess.LayoutCoordMajor,
			Boxes:     boxes,
			Scores:    scores,
		},
		ShareLocation: true,
	}, nil
}

// FromYOLODense decodes a YOLO head output held in a float32 tensor, e.g. one read
// from a .npy dump. See FromYOLO.
func FromYOLODense(t *tensor.Dense, opts YOLOOptions) (Outputs, error) {
	if t == nil {
		return Outputs{}, errors.Wrap(postprocess.ErrShapeMismatch, "missing tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "want a float32 tensor, got %v", t.Dtype())
	}
	return FromYOLO(float32s(t), t.Shape(), opts)
}
