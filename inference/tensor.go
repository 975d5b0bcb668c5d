// Package inference adapts raw detection head outputs to post-processing batches.
package inference

import (
	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Outputs is the detection head output of one batch, ready for post-processing.
type Outputs struct {
	// Batch views the tensor memory; it is not copied.
	Batch *postprocess.Batch
	// ShareLocation reports whether the box tensor carries one box set per prior.
	ShareLocation bool
}

// Process runs multiclass NMS over the batch. cfg.ShareLocation is replaced by the box
// sharing the outputs were decoded with.
//
// Arguments:
//   - cfg: The NMS options.
//   - logger: Receives per-image debug lines. Nil uses the logrus standard logger.
//
// Returns:
//   - One result per image, in batch order.
//   - error: ErrInvalidConfiguration for a bad cfg, or the first failed image.
func (o Outputs) Process(cfg postprocess.Config, logger logrus.FieldLogger) ([]postprocess.ImageResult, error) {
	if o.Batch == nil {
		return nil, errors.Wrap(postprocess.ErrShapeMismatch, "no batch")
	}
	cfg.ShareLocation = o.ShareLocation
	proc, err := postprocess.NewProcessor(postprocess.NewProcessorArgs{Config: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}
	return proc.ProcessBatch(o.Batch)
}

// DenseOptions describe the tensor layouts produced by a detection head.
type DenseOptions struct {
	// BoxLayout is LayoutPriorMajor for [B,N,4] and [B,C,N,4] boxes, or
	// LayoutCoordMajor for [B,4,N] and [B,C,4,N] boxes.
	BoxLayout postprocess.BoxLayout
	// ScoresPriorMajor marks a [B,N,C] score tensor. It is transposed to [B,C,N].
	ScoresPriorMajor bool
}

// FromDense converts box and score tensors into a uniform-prior batch.
//
// Boxes of rank 3 are shared across classes, boxes of rank 4 carry one set per class.
//
// Arguments:
//   - boxes: The box tensor, float32.
//   - scores: The score tensor, float32.
//   - opts: The layouts of both tensors.
//
// Returns:
//   - Outputs: The batch and its location sharing.
//   - error: ErrShapeMismatch when the tensors disagree on batch, prior or class sizes.
//
// @example
// out, err := FromDense(boxes, scores, DenseOptions{ScoresPriorMajor: true})
//
//	if err != nil {
//	    return err
//	}
//
// results, err := proc.ProcessBatch(out.Batch)
func FromDense(boxes, scores *tensor.Dense, opts DenseOptions) (Outputs, error) {
	if boxes == nil || scores == nil {
		return Outputs{}, errors.Wrap(postprocess.ErrShapeMismatch, "missing tensor")
	}
	if boxes.Dtype() != tensor.Float32 || scores.Dtype() != tensor.Float32 {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch,
			"want float32 tensors, got boxes %v and scores %v", boxes.Dtype(), scores.Dtype())
	}

	scoreShape := scores.Shape()
	if len(scoreShape) != 3 {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "scores must have rank 3, got %v", scoreShape)
	}
	batchSize, classNum, numPriors := scoreShape[0], scoreShape[1], scoreShape[2]
	if opts.ScoresPriorMajor {
		numPriors, classNum = scoreShape[1], scoreShape[2]
	}

	boxShape := boxes.Shape()
	share := len(boxShape) == 3
	var want []int
	switch {
	case share && opts.BoxLayout == postprocess.LayoutCoordMajor:
		want = []int{batchSize, 4, numPriors}
	case share:
		want = []int{batchSize, numPriors, 4}
	case len(boxShape) == 4 && opts.BoxLayout == postprocess.LayoutCoordMajor:
		want = []int{batchSize, classNum, 4, numPriors}
	case len(boxShape) == 4:
		want = []int{batchSize, classNum, numPriors, 4}
	default:
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "boxes must have rank 3 or 4, got %v", boxShape)
	}
	if !tensor.Shape(want).Eq(boxShape) {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "boxes %v do not match scores %v, want %v", boxShape, scoreShape, tensor.Shape(want))
	}

	scoreData, err := classMajorScores(scores, opts.ScoresPriorMajor)
	if err != nil {
		return Outputs{}, err
	}

	return Outputs{
		Batch: &postprocess.Batch{
			ClassNum:  classNum,
			Priors:    postprocess.UniformPriors(batchSize, numPriors),
			BoxLayout: opts.BoxLayout,
			Boxes:     float32s(boxes),
			Scores:    scoreData,
		},
		ShareLocation: share,
	}, nil
}

func classMajorScores(scores *tensor.Dense, priorMajor bool) ([]float32, error) {
	if !priorMajor || scores.Shape().TotalSize() == 0 {
		return float32s(scores), nil
	}
	transposed, err := tensor.Transpose(scores, 0, 2, 1)
	if err != nil {
		return nil, errors.Wrap(postprocess.ErrShapeMismatch, err.Error())
	}
	return float32s(transposed.(*tensor.Dense)), nil
}

func float32s(t *tensor.Dense) []float32 {
	if t.Shape().TotalSize() == 0 {
		return nil
	}
	return t.Data().([]float32)
}

// ToDense returns the packed detections as a [rows, 6] tensor.
//
// Arguments:
//   - packed: The packed detections.
//
// Returns:
//   - *tensor.Dense: The rows, backed by packed.Rows.
//   - error: ErrShapeMismatch when packed holds no rows.
func ToDense(packed postprocess.Packed) (*tensor.Dense, error) {
	rows := packed.NumRows()
	if rows == 0 || len(packed.Rows) != rows*postprocess.RowWidth {
		return nil, errors.Wrapf(postprocess.ErrShapeMismatch, "cannot shape %d values into rows of %d", len(packed.Rows), postprocess.RowWidth)
	}
	return tensor.New(
		tensor.WithShape(rows, postprocess.RowWidth),
		tensor.WithBacking(packed.Rows),
	), nil
}
