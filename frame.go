package segfx

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/gogpu/segfx/internal/ppm"
)

// Frame is an RGBA8 image, row-major with no padding.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame returns a transparent black frame.
func NewFrame(w, h int) Frame {
	return Frame{Width: w, Height: h, Pix: make([]byte, w*h*4)}
}

// FrameFromImage wraps img. The pixels are shared when img has no padding
// and starts at the origin, and copied otherwise.
func FrameFromImage(img *image.RGBA) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if b.Min == (image.Point{}) && img.Stride == w*4 && len(img.Pix) == w*h*4 {
		return Frame{Width: w, Height: h, Pix: img.Pix}
	}
	f := NewFrame(w, h)
	for y := 0; y < h; y++ {
		copy(f.Pix[y*w*4:(y+1)*w*4], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return f
}

// Image returns an *image.RGBA sharing f's pixels.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Valid reports whether Pix holds exactly Width*Height pixels.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*4
}

// FrameSink receives finished frames.
type FrameSink interface {
	WriteFrame(name string, f Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(name string, f Frame) error

// WriteFrame calls fn.
func (fn FrameSinkFunc) WriteFrame(name string, f Frame) error { return fn(name, f) }

// DirSink writes frames as <dir>/<name>.ppm.
type DirSink string

// WriteFrame encodes f as PPM.
func (d DirSink) WriteFrame(name string, f Frame) error {
	if err := ppm.WriteFile(filepath.Join(string(d), name+".ppm"), f.Image()); err != nil {
		return fmt.Errorf("segfx: write %s: %w", name, err)
	}
	return nil
}
