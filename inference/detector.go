package inference

import (
	"image"
	"strings"
	"sync"

	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// DetectorConfig describes a single-input, single-output YOLO model.
type DetectorConfig struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string
	// InputName and OutputName are the graph tensor names.
	InputName  string
	OutputName string
	// InputWidth and InputHeight are the model input size. Frames are resized to it.
	InputWidth  int
	InputHeight int
	// OutputShape is the head output shape, e.g. [1, 84, 8400].
	OutputShape []int64
	// Head is the layout of the output.
	Head YOLOHead
	// Threads bounds intra-op parallelism. Zero lets onnxruntime decide.
	Threads int
}

// DefaultDetectorConfig returns the layout of an exported YOLOv8 COCO model.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		InputName:   "images",
		OutputName:  "output0",
		InputWidth:  640,
		InputHeight: 640,
		OutputShape: []int64{1, 84, 8400},
		Head:        HeadAnchorFree,
	}
}

// Validate checks the configuration before any runtime resources are allocated.
func (c DetectorConfig) Validate() error {
	switch {
	case c.ModelPath == "":
		return errors.Wrap(postprocess.ErrInvalidConfiguration, "model path is required")
	case c.InputName == "" || c.OutputName == "":
		return errors.Wrap(postprocess.ErrInvalidConfiguration, "input and output names are required")
	case c.InputWidth <= 0 || c.InputHeight <= 0:
		return errors.Wrapf(postprocess.ErrInvalidConfiguration, "input size %dx%d must be positive", c.InputWidth, c.InputHeight)
	case len(c.OutputShape) != 3:
		return errors.Wrapf(postprocess.ErrInvalidConfiguration, "output shape %v must have rank 3", c.OutputShape)
	case c.OutputShape[0] != 1:
		return errors.Wrapf(postprocess.ErrInvalidConfiguration, "output shape %v must hold one image", c.OutputShape)
	}
	for _, d := range c.OutputShape {
		if d <= 0 {
			return errors.Wrapf(postprocess.ErrInvalidConfiguration, "output shape %v must be positive", c.OutputShape)
		}
	}
	return nil
}

// ParseShape parses a comma separated shape such as "1,84,8400".
func ParseShape(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	dims, err := cast.ToIntSliceE(parts)
	if err != nil {
		return nil, errors.Wrapf(postprocess.ErrInvalidConfiguration, "shape %q: %v", s, err)
	}
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	return shape, nil
}

// Detector runs a YOLO model through onnxruntime and decodes its head output.
//
// Detect may be called from several goroutines; runs are serialized because the
// session tensors are shared.
type Detector struct {
	cfg     DetectorConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

// NewDetector loads the runtime, allocates the session tensors and opens the model.
//
// Arguments:
//   - cfg: The model description.
//
// Returns:
//   - *Detector: The detector. Close releases its resources.
//   - error: ErrInvalidConfiguration for a bad cfg, or a runtime error.
//
// @example
// det, err := NewDetector(DetectorConfig{ModelPath: "yolov8n.onnx", ...})
//
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// defer det.Close()
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := InitRuntime(SharedLibPath()); err != nil {
		return nil, err
	}

	d := &Detector{cfg: cfg}
	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth)))
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	d.output, err = ort.NewEmptyTensor[float32](ort.NewShape(cfg.OutputShape...))
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()
	if cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
			d.Close()
			return nil, errors.Wrap(err, "setting intra-op threads")
		}
	}

	d.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{d.input},
		[]ort.ArbitraryTensor{d.output},
		options,
	)
	if err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "opening model %s", cfg.ModelPath)
	}
	return d, nil
}

// Detect runs the model over one frame. Boxes are scaled back to the frame size.
//
// Arguments:
//   - img: A BGR frame.
//
// Returns:
//   - Outputs: A one-image batch with shared, coordinate-major boxes.
//   - error: An error if the frame is empty or the run fails.
func (d *Detector) Detect(img gocv.Mat) (Outputs, error) {
	if img.Empty() {
		return Outputs{}, errors.New("empty frame")
	}
	size := image.Pt(d.cfg.InputWidth, d.cfg.InputHeight)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, size, 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	data, err := blob.DataPtrFloat32()
	if err != nil {
		return Outputs{}, errors.Wrap(err, "reading blob")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	in := d.input.GetData()
	if len(data) != len(in) {
		return Outputs{}, errors.Wrapf(postprocess.ErrShapeMismatch, "blob holds %d values, input takes %d", len(data), len(in))
	}
	copy(in, data)
	if err := d.session.Run(); err != nil {
		return Outputs{}, errors.Wrap(err, "running model")
	}

	shape := make([]int, len(d.cfg.OutputShape))
	for i, v := range d.cfg.OutputShape {
		shape[i] = int(v)
	}
	// FromYOLO copies out of the output tensor, so the next run may reuse it.
	return FromYOLO(d.output.GetData(), shape, YOLOOptions{
		Head:   d.cfg.Head,
		ScaleX: float32(img.Cols()) / float32(d.cfg.InputWidth),
		ScaleY: float32(img.Rows()) / float32(d.cfg.InputHeight),
	})
}

// Close releases the session and its tensors.
func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
}
