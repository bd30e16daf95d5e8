package detect

import "fmt"

// decodeParams describes how to read a proposals tensor.
type decodeParams struct {
	classes   int
	coeffs    int
	inputSize int
	outW      int
	outH      int
	conf      float32
	// label resolves a class id to its label; ok=false drops the proposal.
	label func(id int) (string, bool)
}

// decode turns a proposals tensor into scored, boxed detections in output
// space. The layout is inferred from which axis equals 4+classes+coeffs.
func decode(t Tensor, p decodeParams) ([]Detection, error) {
	var rows, cols int
	switch len(t.Shape) {
	case 3:
		if t.Shape[0] != 1 {
			return nil, fmt.Errorf("%w: proposals batch %d, want 1", ErrOutputShape, t.Shape[0])
		}
		rows, cols = int(t.Shape[1]), int(t.Shape[2])
	case 2:
		rows, cols = int(t.Shape[0]), int(t.Shape[1])
	default:
		return nil, fmt.Errorf("%w: proposals rank %d", ErrOutputShape, len(t.Shape))
	}

	feat := 4 + p.classes + p.coeffs
	var n int
	var at func(i, f int) float32
	switch {
	case rows == feat:
		n = cols
		at = func(i, f int) float32 { return t.Data[f*n+i] }
	case cols == feat:
		n = rows
		at = func(i, f int) float32 { return t.Data[i*feat+f] }
	default:
		return nil, fmt.Errorf("%w: proposals %v, want a %d-wide axis (%d classes, %d coefficients)",
			ErrOutputShape, t.Shape, feat, p.classes, p.coeffs)
	}
	if len(t.Data) < feat*n {
		return nil, fmt.Errorf("%w: proposals hold %d values, shape needs %d", ErrOutputShape, len(t.Data), feat*n)
	}

	sx := float32(p.outW) / float32(p.inputSize)
	sy := float32(p.outH) / float32(p.inputSize)

	var dets []Detection
	for i := 0; i < n; i++ {
		best, score := -1, float32(0)
		for c := 0; c < p.classes; c++ {
			if s := at(i, 4+c); s > score {
				best, score = c, s
			}
		}
		if best < 0 || score < p.conf {
			continue
		}
		label, ok := p.label(best)
		if !ok {
			continue
		}

		xc, yc, w, h := at(i, 0), at(i, 1), at(i, 2), at(i, 3)
		box := clampBox(Box{
			X1: (xc - w/2) * sx,
			Y1: (yc - h/2) * sy,
			X2: (xc + w/2) * sx,
			Y2: (yc + h/2) * sy,
		}, p.outW, p.outH)

		var coeffs []float32
		if p.coeffs > 0 {
			coeffs = make([]float32, p.coeffs)
			for k := range coeffs {
				coeffs[k] = at(i, 4+p.classes+k)
			}
		}
		dets = append(dets, Detection{
			Box:     box,
			ClassID: best,
			Label:   label,
			Score:   score,
			Coeffs:  coeffs,
		})
	}
	return dets, nil
}

// clampBox keeps the box inside a w x h frame and at least one pixel in
// each direction.
func clampBox(b Box, w, h int) Box {
	fw, fh := float32(w), float32(h)
	b.X1 = min(max(b.X1, 0), fw-1)
	b.Y1 = min(max(b.Y1, 0), fh-1)
	b.X2 = max(b.X1+1, min(b.X2, fw))
	b.Y2 = max(b.Y1+1, min(b.Y2, fh))
	return b
}
