//go:build !nogpu

package segfx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/effect"
	"github.com/gogpu/segfx/internal/gpu"
	"github.com/gogpu/segfx/internal/mask"
	"github.com/gogpu/segfx/internal/ppm"
)

// Effects resolves class labels to effects. *effect.Registry implements it.
type Effects interface {
	Effect(label string) (effect.Effect, bool)
	SetDimensions(w, h int)
}

// Report summarizes a run.
type Report struct {
	// Frames is the number of input frames.
	Frames int
	// Written counts frames handed to the sink.
	Written int
	// Detections counts detector calls that succeeded.
	Detections int
	// Instances counts detections merged into mask sets.
	Instances int
	// Applied counts effect invocations.
	Applied int
	// Failed lists frames that were not written.
	Failed []*FrameError
	// Elapsed is the wall time of the run.
	Elapsed time.Duration
}

// Err joins the errors of all failed frames, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Processor runs detection and effects over a frame sequence. It is not
// safe for concurrent use.
type Processor struct {
	detector detect.Detector
	effects  Effects
	opts     processorOptions

	width, height int
	cache         *MaskSet
	cacheFrame    int
	fullMask      []byte
	report        Report
}

// NewProcessor returns a Processor that finds objects with d and renders
// them with effects.
func NewProcessor(d detect.Detector, effects Effects, opts ...ProcessorOption) *Processor {
	o := defaultProcessorOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Processor{detector: d, effects: effects, opts: o, cacheFrame: -1}
}

// Cached returns the mask set in use and the index of the frame that
// produced it, or (nil, -1) before the first successful detection.
func (p *Processor) Cached() (*MaskSet, int) {
	return p.cache, p.cacheFrame
}

// Run processes frames in FrameIndex order and writes frame i of that
// order to sink as processed_frame_<i+1>. Frames that fail to decode, have
// the wrong size or whose detection fails are skipped and listed in the
// report. GPU, shader and sink failures stop the run.
func (p *Processor) Run(ctx context.Context, frames []string, sink FrameSink) (*Report, error) {
	start := time.Now()
	ordered := SortFrames(frames)
	p.report = Report{Frames: len(ordered)}

	for i, path := range ordered {
		if err := ctx.Err(); err != nil {
			return p.finish(start), err
		}
		img, err := ppm.ReadFile(path)
		if err != nil {
			p.fail(i, path, err)
			continue
		}
		out, err := p.ProcessFrame(ctx, i, FrameFromImage(img))
		if err != nil {
			if fatal(err) || ctx.Err() != nil {
				return p.finish(start), fmt.Errorf("segfx: frame %d (%s): %w", i, path, err)
			}
			p.fail(i, path, err)
			continue
		}
		if err := sink.WriteFrame(fmt.Sprintf("processed_frame_%d", i+1), out); err != nil {
			return p.finish(start), err
		}
		p.report.Written++
		Logger().Debug("segfx: frame written", "index", i, "path", path)
	}

	r := p.finish(start)
	Logger().Info("segfx: run complete",
		"frames", r.Frames,
		"written", r.Written,
		"failed", len(r.Failed),
		"detections", r.Detections,
		"elapsed", r.Elapsed)
	return r, nil
}

func (p *Processor) finish(start time.Time) *Report {
	r := p.report
	r.Elapsed = time.Since(start)
	return &r
}

func (p *Processor) fail(i int, path string, err error) {
	Logger().Warn("segfx: frame skipped", "index", i, "path", path, "err", err)
	p.report.Failed = append(p.report.Failed, &FrameError{Index: i, Path: path, Err: err})
}

// ProcessFrame runs one frame at position index of the sequence. The first
// frame fixes the run's dimensions. On a detection frame a failed
// detection returns the error and keeps the previous mask set.
func (p *Processor) ProcessFrame(ctx context.Context, index int, f Frame) (Frame, error) {
	if !f.Valid() {
		return Frame{}, fmt.Errorf("%w: %dx%d with %d bytes", ErrFrameSize, f.Width, f.Height, len(f.Pix))
	}
	if p.width == 0 {
		p.width, p.height = f.Width, f.Height
		p.effects.SetDimensions(f.Width, f.Height)
		Logger().Info("segfx: dimensions set", "width", f.Width, "height", f.Height)
	} else if f.Width != p.width || f.Height != p.height {
		return Frame{}, fmt.Errorf("%w: %dx%d, want %dx%d", ErrFrameSize, f.Width, f.Height, p.width, p.height)
	}

	if index%p.opts.interval == 0 {
		set, err := p.detect(ctx, index, f)
		if err != nil {
			return Frame{}, err
		}
		p.cache, p.cacheFrame = set, index
	}

	current := f.Pix
	for _, label := range p.cache.Labels() {
		e, ok := p.effects.Effect(label)
		if !ok {
			Logger().Debug("segfx: no effect for class", "label", label)
			continue
		}
		out, err := p.apply(e, current, p.cache.Mask(label))
		if err != nil {
			return Frame{}, fmt.Errorf("segfx: effect %s: %w", label, err)
		}
		current = out
	}

	if p.opts.global != "" {
		if e, ok := p.effects.Effect(p.opts.global); ok {
			if len(p.fullMask) != len(current) {
				full := mask.New(p.width, p.height)
				for i := range full.Pix {
					full.Pix[i] = mask.Covered
				}
				p.fullMask = mask.ToRGBA(full)
			}
			out, err := p.apply(e, current, p.fullMask)
			if err != nil {
				return Frame{}, fmt.Errorf("segfx: global effect %s: %w", p.opts.global, err)
			}
			current = out
		}
	}
	return Frame{Width: f.Width, Height: f.Height, Pix: current}, nil
}

func (p *Processor) apply(e effect.Effect, input, m []byte) ([]byte, error) {
	out := make([]byte, len(input))
	if err := e.ProcessImage(input, out, m); err != nil {
		return nil, err
	}
	p.report.Applied++
	return out, nil
}

func (p *Processor) detect(ctx context.Context, index int, f Frame) (*MaskSet, error) {
	dets, err := p.detector.Detect(ctx, f.Image(), f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	if err := p.opts.diag.Detections(index, dets); err != nil {
		Logger().Warn("segfx: diagnostics", "err", err)
	}
	set, err := buildMaskSet(dets, f.Width, f.Height, func(label string, m *mask.Mask) {
		if err := p.opts.diag.Mask(index, label, m); err != nil {
			Logger().Warn("segfx: diagnostics", "err", err)
		}
	})
	if err != nil {
		return nil, err
	}
	p.report.Detections++
	p.report.Instances += len(dets)
	Logger().Debug("segfx: detection",
		"frame", index,
		"instances", len(dets),
		"classes", set.Labels())
	return set, nil
}

// fatal reports whether err means the GPU or shader setup is unusable.
func fatal(err error) bool {
	for _, target := range []error{
		gpu.ErrDevice,
		gpu.ErrNoAdapter,
		gpu.ErrNoMemoryType,
		gpu.ErrClosed,
		gpu.ErrNoDimensions,
		effect.ErrShader,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
