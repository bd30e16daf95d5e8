package detect

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/gogpu/segfx/internal/vocab"
)

// Defaults for YOLOSeg.
const (
	DefaultConfThreshold = 0.5
	DefaultIoUThreshold  = 0.45
	DefaultMaskThreshold = FixedThreshold(0.5)
)

// DetectorOption configures a YOLOSeg.
type DetectorOption func(*detectorOptions)

type detectorOptions struct {
	conf   float32
	iou    float32
	mask   Threshold
	accept func(label string) bool
}

func defaultDetectorOptions() detectorOptions {
	return detectorOptions{
		conf: DefaultConfThreshold,
		iou:  DefaultIoUThreshold,
		mask: DefaultMaskThreshold,
	}
}

// WithConfThreshold sets the minimum class score a proposal needs.
func WithConfThreshold(c float32) DetectorOption {
	return func(o *detectorOptions) {
		o.conf = c
	}
}

// WithIoUThreshold sets the overlap above which NMS suppresses a
// same-class detection.
func WithIoUThreshold(t float32) DetectorOption {
	return func(o *detectorOptions) {
		o.iou = t
	}
}

// WithMaskThreshold sets how soft masks are binarized.
func WithMaskThreshold(t Threshold) DetectorOption {
	return func(o *detectorOptions) {
		if t != nil {
			o.mask = t
		}
	}
}

// WithClassFilter drops proposals whose label accept rejects before NMS and
// mask synthesis. Typically the effect registry's Has.
func WithClassFilter(accept func(label string) bool) DetectorOption {
	return func(o *detectorOptions) {
		o.accept = accept
	}
}

// YOLOSeg decodes YOLOv8-seg outputs into per-instance masks.
type YOLOSeg struct {
	backend Backend
	vocab   *vocab.Vocabulary
	opts    detectorOptions
}

// NewYOLOSeg returns a detector reading class ids through v.
func NewYOLOSeg(backend Backend, v *vocab.Vocabulary, opts ...DetectorOption) (*YOLOSeg, error) {
	if backend == nil {
		return nil, fmt.Errorf("detect: nil backend")
	}
	if v == nil || v.Len() == 0 {
		return nil, fmt.Errorf("detect: empty vocabulary")
	}
	o := defaultDetectorOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if pt, ok := o.mask.(PercentileThreshold); ok && (pt.P < 0 || pt.P > 1 || pt.Min > pt.Max) {
		return nil, fmt.Errorf("detect: invalid mask threshold %v", pt)
	}
	return &YOLOSeg{backend: backend, vocab: v, opts: o}, nil
}

// Detect runs inference on img and returns the detections that pass the
// confidence threshold, the class filter and NMS, each with a mask of
// outW x outH.
func (y *YOLOSeg) Detect(ctx context.Context, img image.Image, outW, outH int) ([]Detection, error) {
	if outW <= 0 || outH <= 0 {
		return nil, fmt.Errorf("detect: invalid output size %dx%d", outW, outH)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	size := y.backend.InputSize()
	out, err := y.backend.Infer(ctx, Preprocess(img, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	protos, err := newPrototypes(out.Prototypes)
	if err != nil {
		return nil, err
	}
	coeffs := 0
	if protos != nil {
		coeffs = protos.channels
	}

	candidates, err := decode(out.Proposals, decodeParams{
		classes:   y.vocab.Len(),
		coeffs:    coeffs,
		inputSize: size,
		outW:      outW,
		outH:      outH,
		conf:      y.opts.conf,
		label:     y.label,
	})
	if err != nil {
		return nil, err
	}
	dets := NMS(candidates, y.opts.iou)
	synthesize(dets, protos, y.opts.mask, outW, outH)

	slogger().Debug("detect: frame",
		"candidates", len(candidates),
		"kept", len(dets),
		"elapsed", time.Since(start))
	return dets, nil
}

func (y *YOLOSeg) label(id int) (string, bool) {
	l, ok := y.vocab.Label(id)
	if !ok {
		return "", false
	}
	if y.opts.accept != nil && !y.opts.accept(l) {
		return "", false
	}
	return l, true
}
