package postprocess

import "github.com/pkg/errors"

var (
	// ErrShapeMismatch is returned when score or box buffers do not match the declared
	// batch, class and prior counts. It aborts the affected image only.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidConfiguration is returned when a Config is rejected at construction.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
