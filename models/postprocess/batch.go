package postprocess

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Batch holds the raw detector outputs of a batch of images.
//
// Images may carry different prior counts. Scores are laid out as ClassNum planes of
// Priors[i] values per image, one image after the other. Boxes are laid out as
// Priors[i] boxes per image when locations are shared, or ClassNum blocks of Priors[i]
// boxes per image otherwise, in BoxLayout order.
type Batch struct {
	ClassNum  int       `json:"class_num" yaml:"class_num"`
	Priors    []int     `json:"priors" yaml:"priors"`
	BoxLayout BoxLayout `json:"box_layout" yaml:"box_layout"`
	Boxes     []float32 `json:"boxes" yaml:"boxes"`
	Scores    []float32 `json:"scores" yaml:"scores"`
}

// UniformPriors returns the prior counts of a batch whose images all share numPriors.
func UniformPriors(batchSize, numPriors int) []int {
	priors := make([]int, batchSize)
	for i := range priors {
		priors[i] = numPriors
	}
	return priors
}

// Len returns the number of images in the batch.
func (b *Batch) Len() int {
	return len(b.Priors)
}

// Images slices the batch into per-image inputs.
//
// An image whose slices fall outside the buffers gets an ErrShapeMismatch entry in
// errs and a zero Image; the other images are unaffected.
//
// Arguments:
//   - shareLocation: Whether one box set is shared by all classes.
//
// Returns:
//   - The images, in batch order.
//   - The slicing error of each image, nil for images that are well formed.
func (b *Batch) Images(shareLocation bool) ([]Image, []error) {
	images := make([]Image, len(b.Priors))
	errs := make([]error, len(b.Priors))

	if b.ClassNum <= 0 {
		for i := range errs {
			errs[i] = errors.Wrapf(ErrShapeMismatch, "class_num %d must be positive", b.ClassNum)
		}
		return images, errs
	}

	// Sizes are compared in priors, by division, so that a huge class_num or prior
	// count cannot wrap the offsets.
	boxesPerPrior := 4
	boxCap := len(b.Boxes) / 4
	if !shareLocation {
		boxesPerPrior = 4 * b.ClassNum
		boxCap /= b.ClassNum
	}
	scoreCap := len(b.Scores) / b.ClassNum

	offset := 0
	for i, n := range b.Priors {
		if n < 0 {
			errs[i] = errors.Wrapf(ErrShapeMismatch, "image %d declares %d priors", i, n)
			continue
		}
		switch {
		case offset > scoreCap || n > scoreCap-offset:
			errs[i] = errors.Wrapf(ErrShapeMismatch, "image %d needs %d priors from %d, scores hold %d",
				i, n, offset, scoreCap)
		case offset > boxCap || n > boxCap-offset:
			errs[i] = errors.Wrapf(ErrShapeMismatch, "image %d needs %d priors from %d, boxes hold %d",
				i, n, offset, boxCap)
		}
		if errs[i] != nil {
			// Later images cannot fit either once the buffers are overrun.
			offset = scoreCap + 1
			continue
		}

		start := offset
		offset += n
		images[i] = Image{
			ClassNum:  b.ClassNum,
			NumPriors: n,
			Scores:    b.Scores[b.ClassNum*start : b.ClassNum*offset],
			Location:  NewLocation(shareLocation, b.BoxLayout, b.Boxes[boxesPerPrior*start:boxesPerPrior*offset]),
		}
	}
	return images, errs
}

// Processor runs multiclass NMS over whole batches.
type Processor struct {
	cfg Config
	log logrus.FieldLogger
}

// NewProcessorArgs are the arguments for creating a new Processor.
type NewProcessorArgs struct {
	// Config holds the NMS options.
	Config Config
	// Logger receives per-image debug lines. Nil uses the logrus standard logger.
	Logger logrus.FieldLogger
}

// NewProcessor validates the configuration and returns a Processor.
//
// Arguments:
//   - args: The processor configuration.
//
// Returns:
//   - *Processor: The processor.
//   - error: ErrInvalidConfiguration when args.Config fails validation.
//
// @example
// proc, err := NewProcessor(NewProcessorArgs{Config: DefaultConfig()})
//
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// results, err := proc.ProcessBatch(batch)
func NewProcessor(args NewProcessorArgs) (*Processor, error) {
	if err := args.Config.Validate(); err != nil {
		return nil, err
	}
	logger := args.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{cfg: args.Config, log: logger}, nil
}

// Config returns the options the processor was built with.
func (p *Processor) Config() Config {
	return p.cfg
}

// ProcessBatch suppresses every image of the batch.
//
// Images are independent and are spread over up to Config.NumWorkers goroutines; each
// worker owns its own Aggregator and writes only its images' result slots.
//
// Arguments:
//   - batch: The raw detector outputs.
//
// Returns:
//   - One result per image, in batch order. A failed image has Err set.
//   - The error of the first failed image, wrapped with its index, or nil.
func (p *Processor) ProcessBatch(batch *Batch) ([]ImageResult, error) {
	imgs, errs := batch.Images(p.cfg.ShareLocation)
	results := make([]ImageResult, len(imgs))

	workers := p.cfg.NumWorkers
	if workers > len(imgs) {
		workers = len(imgs)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int, len(imgs))
	for i := range imgs {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		// The configuration was validated in NewProcessor.
		agg, _ := NewAggregator(p.cfg, p.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if errs[i] != nil {
					results[i] = ImageResult{Image: i, Err: errs[i]}
					continue
				}
				res, _ := agg.Process(imgs[i])
				res.Image = i
				results[i] = res
			}
		}()
	}
	wg.Wait()

	for i, r := range results {
		if r.Err != nil {
			p.log.WithError(r.Err).WithField("image", i).Warn("image failed")
			return results, errors.Wrapf(r.Err, "image %d", i)
		}
	}
	return results, nil
}
