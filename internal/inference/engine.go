// Package inference provides clients for external model execution engines.
// The pipeline hands an engine a preprocessed square input tensor and gets
// back the model's raw output tensor; all tensor math happens on the other
// side of this boundary.
package inference

import (
	"context"
)

// Engine executes one model pass per call.
type Engine interface {
	// OutputShape reports the model's declared output tensor shape. It is
	// consulted once at pipeline construction and may be cached.
	OutputShape() ([]int, error)

	// Infer runs the model over a CHW RGB float32 input of size x size
	// pixels and returns the raw output tensor.
	Infer(ctx context.Context, input []float32, size int) ([]float32, error)

	// Close releases the engine's resources.
	Close() error
}
