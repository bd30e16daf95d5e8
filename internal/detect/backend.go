package detect

import "context"

// DefaultInputSize is the square input resolution of stock YOLOv8 models.
const DefaultInputSize = 640

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Output holds the raw tensors of one forward pass.
type Output struct {
	// Proposals is [1, 4+C+M, N] or [1, N, 4+C+M].
	Proposals Tensor
	// Prototypes is [1, M, Ph, Pw]; empty for detection-only models.
	Prototypes Tensor
}

// Backend runs the model on a preprocessed input.
type Backend interface {
	// InputSize returns the square input resolution the model expects.
	InputSize() int
	// Infer runs one forward pass on a [1, 3, S, S] CHW tensor scaled to [0,1].
	Infer(ctx context.Context, input []float32) (Output, error)
}

// FuncBackend adapts a function to the Backend interface.
type FuncBackend struct {
	Size int
	Fn   func(ctx context.Context, input []float32) (Output, error)
}

// InputSize returns Size, or DefaultInputSize when unset.
func (b FuncBackend) InputSize() int {
	if b.Size <= 0 {
		return DefaultInputSize
	}
	return b.Size
}

// Infer calls Fn.
func (b FuncBackend) Infer(ctx context.Context, input []float32) (Output, error) {
	return b.Fn(ctx, input)
}
