package inference

import (
	"os"
	"runtime"

	"github.com/nvr-ai/go-nms/models/postprocess"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// SharedLibEnv overrides the ONNX Runtime shared library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibPath returns the ONNX Runtime library to load on this platform, preferring
// SharedLibEnv when it is set.
func SharedLibPath() string {
	if p := os.Getenv(SharedLibEnv); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}

// InitRuntime loads the ONNX Runtime library at path and initializes its environment.
// It is a no-op once the environment is up.
func InitRuntime(path string) error {
	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "onnxruntime library %s", path)
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initializing onnxruntime environment")
	}
	return nil
}

// FromORT converts ONNX Runtime output tensors into a batch. See FromDense for the
// accepted shapes.
//
// Arguments:
//   - boxes: The box output of the session.
//   - scores: The score output of the session.
//   - opts: The layouts of both tensors.
//
// Returns:
//   - Outputs: The batch, viewing the session's output memory.
//   - error: ErrShapeMismatch when the shapes are inconsistent.
func FromORT(boxes, scores *ort.Tensor[float32], opts DenseOptions) (Outputs, error) {
	if boxes == nil || scores == nil {
		return Outputs{}, errors.Wrap(postprocess.ErrShapeMismatch, "missing tensor")
	}
	b, err := denseOf(boxes.GetShape(), boxes.GetData())
	if err != nil {
		return Outputs{}, errors.Wrap(err, "boxes")
	}
	s, err := denseOf(scores.GetShape(), scores.GetData())
	if err != nil {
		return Outputs{}, errors.Wrap(err, "scores")
	}
	return FromDense(b, s, opts)
}

func denseOf(shape ort.Shape, data []float32) (*tensor.Dense, error) {
	dims := make([]int, len(shape))
	for i, d := range shape {
		if d <= 0 {
			return nil, errors.Wrapf(postprocess.ErrShapeMismatch, "dimension %d of %v is not positive", i, shape)
		}
		dims[i] = int(d)
	}
	if n := tensor.Shape(dims).TotalSize(); n != len(data) {
		return nil, errors.Wrapf(postprocess.ErrShapeMismatch, "shape %v holds %d values, got %d", shape, n, len(data))
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data)), nil
}
