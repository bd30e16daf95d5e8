// Package detect finds object instances in a frame and synthesizes a
// coverage mask for each one.
//
// YOLOSeg implements the Detector interface for YOLOv8-style segmentation
// models. It is independent of how inference runs: a Backend turns a
// preprocessed CHW tensor into raw output tensors, and YOLOSeg decodes them.
// RemoteBackend forwards passes to a server process running Serve, such as
// segfx-infer with its onnxruntime backend; FuncBackend adapts any function,
// for callers that already hold tensors.
package detect

import (
	"context"
	"errors"
	"image"

	"github.com/gogpu/segfx/internal/mask"
)

// Detection errors.
var (
	// ErrInference wraps a failed forward pass. It aborts the current frame only.
	ErrInference = errors.New("detect: inference failed")

	// ErrOutputShape is returned when model outputs do not match the
	// vocabulary and the expected YOLO-seg layout.
	ErrOutputShape = errors.New("detect: unexpected output shape")
)

// Box is an axis-aligned box in output pixel space, as corners.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// W returns the box width.
func (b Box) W() float32 { return b.X2 - b.X1 }

// H returns the box height.
func (b Box) H() float32 { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for an empty box.
func (b Box) Area() float32 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.W() * b.H()
}

// Rect returns the integer rectangle the box covers.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2+0.5), int(b.Y2+0.5))
}

// IoU returns the intersection over union of a and b.
func IoU(a, b Box) float32 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one object instance that survived filtering and NMS.
type Detection struct {
	Box     Box
	ClassID int
	Label   string
	Score   float32
	// Coeffs linearly combines the model's prototype masks into this
	// instance's mask. Empty for detection-only models.
	Coeffs []float32
	// Mask is the instance's full-frame coverage, filled by the detector.
	Mask *mask.Mask
}

// Detector finds instances of registered classes in img and returns them
// with masks sized outW x outH.
type Detector interface {
	Detect(ctx context.Context, img image.Image, outW, outH int) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image, outW, outH int) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image, outW, outH int) ([]Detection, error) {
	return f(ctx, img, outW, outH)
}

// GroupByLabel collects instance masks per class label, preserving
// detection order within a class.
func GroupByLabel(dets []Detection) map[string][]*mask.Mask {
	out := make(map[string][]*mask.Mask)
	for _, d := range dets {
		if d.Mask == nil {
			continue
		}
		out[d.Label] = append(out[d.Label], d.Mask)
	}
	return out
}
