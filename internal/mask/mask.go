// Package mask merges per-instance coverage masks into one mask per class
// and lays them out for GPU upload.
//
// A mask byte of Covered (255) marks a pixel the class's effect applies to;
// 0 leaves the pixel alone. The convention holds from the detector through
// the RGBA buffer the shaders read.
package mask

import (
	"errors"
	"fmt"
	"image"
)

// Covered is the mask value of an affected pixel.
const Covered = 255

// ErrSizeMismatch is returned when masks of different sizes are combined.
var ErrSizeMismatch = errors.New("mask: size mismatch")

// Mask is a single-channel coverage buffer, one byte per pixel, row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []byte
}

// New returns an empty mask.
func New(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Pix: make([]byte, w*h)}
}

// At returns the coverage at (x, y), or 0 outside the mask.
func (m *Mask) At(x, y int) byte {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set sets the coverage at (x, y). Out-of-range writes are ignored.
func (m *Mask) Set(x, y int, v byte) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of non-zero pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Bounds returns the smallest rectangle holding every non-zero pixel.
func (m *Mask) Bounds() image.Rectangle {
	r := image.Rectangle{}
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v != 0 {
				r = r.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	return r
}

// Combine ORs instance masks into one coverage mask of size w x h. Any
// non-zero input pixel becomes Covered.
func Combine(w, h int, masks ...*Mask) (*Mask, error) {
	out := New(w, h)
	for i, m := range masks {
		if m.Width != w || m.Height != h || len(m.Pix) != w*h {
			return nil, fmt.Errorf("%w: instance %d is %dx%d, want %dx%d", ErrSizeMismatch, i, m.Width, m.Height, w, h)
		}
		for j, v := range m.Pix {
			if v != 0 {
				out.Pix[j] = Covered
			}
		}
	}
	return out, nil
}

// ToRGBA expands m to the frame layout: R, G and B carry the coverage and
// A is always 255.
func ToRGBA(m *Mask) []byte {
	out := make([]byte, len(m.Pix)*4)
	for i, v := range m.Pix {
		o := out[i*4 : i*4+4 : i*4+4]
		o[0], o[1], o[2], o[3] = v, v, v, 255
	}
	return out
}

// Visualize returns a grayscale view of m for debug output. The image
// shares m's pixels.
func Visualize(m *Mask) *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}
