package postprocess

import (
	"runtime"

	"github.com/pkg/errors"
)

// Config holds the multiclass NMS options for one run.
//
// The option names in the tags match the operator attribute names, so a Config can be
// read from YAML, JSON or an attribute map (see ConfigFromAttrs) interchangeably.
type Config struct {
	// ScoreThreshold is the score a candidate must strictly exceed to be considered.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"`
	// NMSTopK caps the candidates entering suppression per class. -1 means unbounded.
	NMSTopK int `json:"nms_top_k" yaml:"nms_top_k"`
	// KeepTopK caps the detections per image after cross-class ranking. -1 means unbounded.
	KeepTopK int `json:"keep_top_k" yaml:"keep_top_k"`
	// NMSThreshold is the initial IoU tolerance for suppression.
	NMSThreshold float32 `json:"nms_threshold" yaml:"nms_threshold"`
	// NMSEta is the adaptive decay factor. Values below 1 tighten the threshold as boxes
	// are accepted.
	NMSEta float32 `json:"nms_eta" yaml:"nms_eta"`
	// BackgroundLabel is the class excluded from suppression and output. -1 excludes none.
	BackgroundLabel int `json:"background_label" yaml:"background_label"`
	// Normalized selects the w*h area convention. When false, (w+1)*(h+1) is used.
	Normalized bool `json:"normalized" yaml:"normalized"`
	// ShareLocation is true when one box set is shared by every class.
	ShareLocation bool `json:"share_location" yaml:"share_location"`
	// EmitEmptySentinel makes an image without detections produce a single row with
	// label -1 instead of no rows.
	EmitEmptySentinel bool `json:"emit_empty_sentinel" yaml:"emit_empty_sentinel"`
	// NumWorkers bounds the number of images processed concurrently. Values below 2 run
	// the batch sequentially.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
}

// DefaultConfig returns the operator defaults used by SSD-style detectors.
//
// Returns:
//   - Config: A configuration that passes Validate.
//
// @example
// cfg := DefaultConfig()
// cfg.KeepTopK = 20
// proc, err := NewProcessor(NewProcessorArgs{Config: cfg})
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:    0.01,
		NMSTopK:           1000,
		KeepTopK:          100,
		NMSThreshold:      0.45,
		NMSEta:            1.0,
		BackgroundLabel:   -1,
		Normalized:        true,
		ShareLocation:     true,
		EmitEmptySentinel: true,
		NumWorkers:        runtime.NumCPU(),
	}
}

// Validate rejects option values the suppression stage cannot honor.
func (c Config) Validate() error {
	switch {
	case c.ScoreThreshold < 0:
		return errors.Wrapf(ErrInvalidConfiguration, "score_threshold %v is negative", c.ScoreThreshold)
	case c.NMSThreshold < 0:
		return errors.Wrapf(ErrInvalidConfiguration, "nms_threshold %v is negative", c.NMSThreshold)
	case !(c.NMSEta > 0 && c.NMSEta <= 1):
		return errors.Wrapf(ErrInvalidConfiguration, "nms_eta %v is outside (0, 1]", c.NMSEta)
	case c.NMSTopK < -1:
		return errors.Wrapf(ErrInvalidConfiguration, "nms_top_k %d is below -1", c.NMSTopK)
	case c.KeepTopK < -1:
		return errors.Wrapf(ErrInvalidConfiguration, "keep_top_k %d is below -1", c.KeepTopK)
	case c.BackgroundLabel < -1:
		return errors.Wrapf(ErrInvalidConfiguration, "background_label %d is below -1", c.BackgroundLabel)
	}
	return nil
}
