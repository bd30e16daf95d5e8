package detect

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"

	"github.com/gogpu/segfx/internal/mask"
)

// prototypes is the [M, Ph*Pw] prototype matrix of one forward pass.
type prototypes struct {
	m        *mat.Dense
	channels int
	w, h     int
}

func newPrototypes(t Tensor) (*prototypes, error) {
	if t.Len() == 0 {
		return nil, nil
	}
	if len(t.Shape) != 4 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: prototypes %v, want [1, M, Ph, Pw]", ErrOutputShape, t.Shape)
	}
	ch, h, w := int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	if len(t.Data) < ch*h*w {
		return nil, fmt.Errorf("%w: prototypes hold %d values, shape needs %d", ErrOutputShape, len(t.Data), ch*h*w)
	}
	data := make([]float64, ch*h*w)
	for i := range data {
		data[i] = float64(t.Data[i])
	}
	return &prototypes{m: mat.NewDense(ch, h*w, data), channels: ch, w: w, h: h}, nil
}

// synthesize fills Mask on every detection. With no prototypes each mask is
// the filled box.
func synthesize(dets []Detection, protos *prototypes, th Threshold, outW, outH int) {
	if len(dets) == 0 {
		return
	}
	if protos == nil {
		for i := range dets {
			dets[i].Mask = boxMask(dets[i].Box, outW, outH)
		}
		return
	}

	coeffs := mat.NewDense(len(dets), protos.channels, nil)
	for i, d := range dets {
		for k, c := range d.Coeffs {
			coeffs.Set(i, k, float64(c))
		}
	}
	var logits mat.Dense
	logits.Mul(coeffs, protos.m)

	for i := range dets {
		row := logits.RawRowView(i)
		dets[i].Mask = instanceMask(row, protos.w, protos.h, dets[i].Box, th, outW, outH)
	}
}

// instanceMask crops one row of logits to the box in prototype space,
// resizes the probabilities to the box size in output space, thresholds
// them and pastes the result into a full-frame mask.
func instanceMask(logits []float64, pw, ph int, box Box, th Threshold, outW, outH int) *mask.Mask {
	roi := image.Rect(
		protoCoord(box.X1, outW, pw), protoCoord(box.Y1, outH, ph),
		protoCoord(box.X2, outW, pw), protoCoord(box.Y2, outH, ph),
	)
	roi.Min.X = min(roi.Min.X, pw-1)
	roi.Min.Y = min(roi.Min.Y, ph-1)
	roi.Max.X = max(roi.Min.X+1, min(roi.Max.X, pw))
	roi.Max.Y = max(roi.Min.Y+1, min(roi.Max.Y, ph))

	src := image.NewGray(roi)
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			p := sigmoid(logits[y*pw+x])
			src.Pix[src.PixOffset(x, y)] = uint8(p*255 + 0.5)
		}
	}

	bw := max(1, int(math.Round(float64(box.W()))))
	bh := max(1, int(math.Round(float64(box.H()))))
	dst := image.NewGray(image.Rect(0, 0, bw, bh))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, roi, draw.Src, nil)

	probs := make([]float64, len(dst.Pix))
	for i, v := range dst.Pix {
		probs[i] = float64(v) / 255
	}
	cutoff := th.Cutoff(probs)

	m := mask.New(outW, outH)
	ox, oy := int(box.X1), int(box.Y1)
	for y := 0; y < bh; y++ {
		fy := oy + y
		if fy < 0 || fy >= outH {
			continue
		}
		for x := 0; x < bw; x++ {
			fx := ox + x
			if fx < 0 || fx >= outW {
				continue
			}
			if probs[y*bw+x] > cutoff {
				m.Set(fx, fy, mask.Covered)
			}
		}
	}
	return m
}

func protoCoord(v float32, out, proto int) int {
	return max(0, int(math.Round(float64(v)/float64(out)*float64(proto))))
}

func boxMask(box Box, outW, outH int) *mask.Mask {
	m := mask.New(outW, outH)
	r := box.Rect().Intersect(image.Rect(0, 0, outW, outH))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, mask.Covered)
		}
	}
	return m
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
