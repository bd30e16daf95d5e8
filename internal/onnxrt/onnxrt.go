//go:build onnx

// Package onnxrt runs YOLO-seg models through onnxruntime. It needs cgo and
// the onnxruntime shared library, so it is built only with the onnx tag and
// lives in the segfx-infer helper process rather than next to the GPU HAL.
package onnxrt

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/gogpu/segfx/internal/detect"
)

// ErrRuntime is returned when the onnxruntime shared library cannot be loaded.
var ErrRuntime = errors.New("onnxrt: onnxruntime unavailable")

var runtimeMu sync.Mutex

// InitRuntime loads the onnxruntime shared library once per process. An
// empty libPath uses the platform default search path.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	slogger().Debug("onnxrt: runtime initialized", "lib", libPath)
	return nil
}

// ShutdownRuntime releases the onnxruntime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Backend runs a YOLO-seg model through onnxruntime on the CPU.
type Backend struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	input     string
	outputs   []string
	inputSize int
}

// New opens modelPath. The first model input is fed the image;
// the first two outputs are read as proposals and prototypes. A model with
// one output is treated as detection-only. InitRuntime must have succeeded.
func New(modelPath string) (*Backend, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnxrt: read model %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: model %s has %d inputs, %d outputs", detect.ErrOutputShape, modelPath, len(inputs), len(outputs))
	}

	size := detect.DefaultInputSize
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 {
		size = int(dims[2])
	}
	names := make([]string, 0, 2)
	for _, o := range outputs[:min(2, len(outputs))] {
		names = append(names, o.Name)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %w", ErrRuntime, err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: session options: %w", ErrRuntime, err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputs[0].Name}, names, opts)
	if err != nil {
		return nil, fmt.Errorf("onnxrt: load model %s: %w", modelPath, err)
	}
	slogger().Info("onnxrt: model loaded",
		"path", modelPath,
		"input", inputs[0].Name,
		"input_size", size,
		"outputs", names)
	return &Backend{
		session:   session,
		input:     inputs[0].Name,
		outputs:   names,
		inputSize: size,
	}, nil
}

// InputSize returns the model's square input resolution.
func (b *Backend) InputSize() int { return b.inputSize }

// Infer runs one forward pass. ctx is checked before the run; onnxruntime
// calls are not interruptible.
func (b *Backend) Infer(ctx context.Context, input []float32) (detect.Output, error) {
	if err := ctx.Err(); err != nil {
		return detect.Output{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return detect.Output{}, fmt.Errorf("%w: backend closed", detect.ErrInference)
	}

	s := int64(b.inputSize)
	in, err := ort.NewTensor(ort.NewShape(1, 3, s, s), input)
	if err != nil {
		return detect.Output{}, fmt.Errorf("%w: input tensor: %w", detect.ErrInference, err)
	}
	defer in.Destroy()

	outs := make([]ort.Value, len(b.outputs))
	if err := b.session.Run([]ort.Value{in}, outs); err != nil {
		return detect.Output{}, fmt.Errorf("%w: %w", detect.ErrInference, err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	var res detect.Output
	for i, v := range outs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return detect.Output{}, fmt.Errorf("%w: output %s is %T, want float32 tensor", detect.ErrInference, b.outputs[i], v)
		}
		ct := detect.Tensor{
			Shape: slices.Clone([]int64(t.GetShape())),
			Data:  slices.Clone(t.GetData()),
		}
		if i == 0 {
			res.Proposals = ct
		} else {
			res.Prototypes = ct
		}
	}
	return res, nil
}

// Close destroys the session. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
