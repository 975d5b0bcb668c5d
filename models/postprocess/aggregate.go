package postprocess

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Image is the input of one batch element.
type Image struct {
	// ClassNum is the number of classes scored per prior.
	ClassNum int
	// NumPriors is the number of priors (anchors) in the image.
	NumPriors int
	// Scores holds ClassNum planes of NumPriors scores each.
	Scores []float32
	// Location is the box source of the image.
	Location Location
}

// Validate checks every buffer the aggregator will read, so that a malformed image
// fails before any suppression runs.
func (img Image) Validate() error {
	if img.ClassNum <= 0 {
		return errors.Wrapf(ErrShapeMismatch, "class_num %d must be positive", img.ClassNum)
	}
	if img.NumPriors < 0 {
		return errors.Wrapf(ErrShapeMismatch, "num_priors %d is negative", img.NumPriors)
	}
	if img.NumPriors > len(img.Scores)/img.ClassNum {
		return errors.Wrapf(ErrShapeMismatch, "scores have %d values, need %d classes of %d priors",
			len(img.Scores), img.ClassNum, img.NumPriors)
	}
	if img.NumPriors > img.Location.Capacity(img.ClassNum) {
		return errors.Wrapf(ErrShapeMismatch, "boxes have %d values, need %d priors",
			len(img.Location.Data), img.NumPriors)
	}
	return nil
}

// Aggregator runs per-class suppression over an image, then the optional cross-class
// ranking, and resolves the survivors to detections.
//
// An Aggregator reuses scratch buffers between images and must not be shared between
// goroutines.
type Aggregator struct {
	cfg        Config
	log        logrus.FieldLogger
	suppressor *Suppressor
}

// NewAggregator validates cfg and returns an Aggregator for it.
//
// Arguments:
//   - cfg: The NMS options.
//   - logger: Receives debug lines per image. Nil uses the logrus standard logger.
//
// Returns:
//   - The aggregator, or ErrInvalidConfiguration.
func NewAggregator(cfg Config, logger logrus.FieldLogger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{
		cfg:        cfg,
		log:        logger,
		suppressor: NewSuppressor(cfg),
	}, nil
}

// Process suppresses one image.
//
// Every class except the background label is selected and suppressed on its own. When
// KeepTopK is set and more detections survive than it allows, the survivors of all
// classes are ranked together and cut to KeepTopK. The result lists detections
// class-major, in rank order within each class.
//
// Arguments:
//   - img: The image to process.
//
// Returns:
//   - The image result. When nothing survives and the sentinel is enabled, Detections
//     holds a single detection labeled SentinelLabel and Count is 0.
//   - ErrShapeMismatch when the image buffers are too short.
func (a *Aggregator) Process(img Image) (ImageResult, error) {
	if err := img.Validate(); err != nil {
		return ImageResult{Err: err}, err
	}

	n := img.NumPriors
	kept := make([]Candidate, 0)
	for c := 0; c < img.ClassNum; c++ {
		if c == a.cfg.BackgroundLabel {
			continue
		}
		ranked, err := SelectCandidates(img.Scores[c*n:(c+1)*n], c, n, a.cfg.ScoreThreshold, a.cfg.NMSTopK)
		if err != nil {
			return ImageResult{Err: err}, err
		}
		kept = append(kept, a.suppressor.Suppress(ranked, img.Location.Class(c, n))...)
	}

	numDet := len(kept)
	if a.cfg.KeepTopK >= 0 && numDet > a.cfg.KeepTopK {
		kept = rankAcrossClasses(kept, a.cfg.KeepTopK)
	}

	a.log.WithFields(logrus.Fields{
		"classes": img.ClassNum,
		"priors":  n,
		"num_det": numDet,
		"kept":    len(kept),
	}).Debug("image suppressed")

	return a.finalize(img, kept), nil
}

// rankAcrossClasses ranks the per-class survivors of an image together, keeps the
// best keepTopK and regroups them by ascending class.
func rankAcrossClasses(kept []Candidate, keepTopK int) []Candidate {
	ranked := RankStable(kept, candidateScore, keepTopK)

	maxClass := -1
	for _, c := range ranked {
		if c.Class > maxClass {
			maxClass = c.Class
		}
	}
	byClass := make([][]Candidate, maxClass+1)
	for _, c := range ranked {
		byClass[c.Class] = append(byClass[c.Class], c)
	}

	regrouped := make([]Candidate, 0, len(ranked))
	for _, group := range byClass {
		regrouped = append(regrouped, group...)
	}
	return regrouped
}

func (a *Aggregator) finalize(img Image, kept []Candidate) ImageResult {
	result := ImageResult{Kept: kept, Count: len(kept)}
	if len(kept) == 0 {
		if a.cfg.EmitEmptySentinel {
			result.Detections = []Detection{{Label: SentinelLabel}}
		} else {
			result.Detections = []Detection{}
		}
		return result
	}

	result.Detections = make([]Detection, len(kept))
	for i, c := range kept {
		result.Detections[i] = Detection{
			Label: c.Class,
			Score: c.Score,
			Box:   img.Location.Class(c.Class, img.NumPriors).At(c.Index),
		}
	}
	return result
}
