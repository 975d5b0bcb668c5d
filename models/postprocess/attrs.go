package postprocess

import (
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Operator attribute names understood by ConfigFromAttrs.
const (
	AttrScoreThreshold    = "score_threshold"
	AttrNMSTopK           = "nms_top_k"
	AttrKeepTopK          = "keep_top_k"
	AttrNMSThreshold      = "nms_threshold"
	AttrNMSEta            = "nms_eta"
	AttrBackgroundLabel   = "background_label"
	AttrNormalized        = "normalized"
	AttrShareLocation     = "share_location"
	AttrEmitEmptySentinel = "emit_empty_sentinel"
	AttrNumWorkers        = "num_workers"
)

// ConfigFromAttrs builds a Config from a loosely typed attribute map, such as the
// attributes of a graph operator or a decoded JSON object.
//
// Attributes missing from the map keep their DefaultConfig value. Values are coerced,
// so 100, 100.0 and "100" are all accepted for an integer option.
//
// Arguments:
//   - attrs: Attribute name to value.
//
// Returns:
//   - Config: The validated configuration.
//   - error: ErrInvalidConfiguration when an attribute is unknown, cannot be coerced, or
//     the resulting configuration fails Validate.
//
// @example
//
//	cfg, err := ConfigFromAttrs(map[string]interface{}{
//	    "score_threshold": 0.01,
//	    "nms_top_k":       1000,
//	    "keep_top_k":      100,
//	    "normalized":      false,
//	})
func ConfigFromAttrs(attrs map[string]interface{}) (Config, error) {
	return ApplyAttrs(DefaultConfig(), attrs)
}

// ApplyAttrs overrides the options of base named in attrs. See ConfigFromAttrs.
func ApplyAttrs(base Config, attrs map[string]interface{}) (Config, error) {
	cfg := base
	for key, value := range attrs {
		var err error
		switch key {
		case AttrScoreThreshold:
			cfg.ScoreThreshold, err = cast.ToFloat32E(value)
		case AttrNMSTopK:
			cfg.NMSTopK, err = cast.ToIntE(value)
		case AttrKeepTopK:
			cfg.KeepTopK, err = cast.ToIntE(value)
		case AttrNMSThreshold:
			cfg.NMSThreshold, err = cast.ToFloat32E(value)
		case AttrNMSEta:
			cfg.NMSEta, err = cast.ToFloat32E(value)
		case AttrBackgroundLabel:
			cfg.BackgroundLabel, err = cast.ToIntE(value)
		case AttrNormalized:
			cfg.Normalized, err = cast.ToBoolE(value)
		case AttrShareLocation:
			cfg.ShareLocation, err = cast.ToBoolE(value)
		case AttrEmitEmptySentinel:
			cfg.EmitEmptySentinel, err = cast.ToBoolE(value)
		case AttrNumWorkers:
			cfg.NumWorkers, err = cast.ToIntE(value)
		default:
			return cfg, errors.Wrapf(ErrInvalidConfiguration, "unknown attribute %q", key)
		}
		if err != nil {
			return cfg, errors.Wrapf(ErrInvalidConfiguration, "attribute %q: %v", key, err)
		}
	}
	return cfg, cfg.Validate()
}
