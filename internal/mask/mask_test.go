package mask

import (
	"errors"
	"image"
	"testing"
)

func rect(w, h int, r image.Rectangle) *Mask {
	m := New(w, h)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, Covered)
		}
	}
	return m
}

func TestCombineDisjointIsUnion(t *testing.T) {
	const w, h = 10, 8
	a := rect(w, h, image.Rect(0, 0, 3, 3))
	b := rect(w, h, image.Rect(5, 4, 10, 8))

	got, err := Combine(w, h, a, b)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want := a.At(x, y) != 0 || b.At(x, y) != 0
			if (got.At(x, y) != 0) != want {
				t.Fatalf("pixel (%d,%d) covered = %v, want %v", x, y, got.At(x, y) != 0, want)
			}
		}
	}
	if got.Count() != a.Count()+b.Count() {
		t.Errorf("Count() = %d, want %d", got.Count(), a.Count()+b.Count())
	}
}

func TestCombineOverlapAndSoftValues(t *testing.T) {
	a := New(4, 1)
	a.Pix = []byte{0, 1, 0, 200}
	b := New(4, 1)
	b.Pix = []byte{0, 255, 7, 0}
	got, err := Combine(4, 1, a, b)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	want := []byte{0, Covered, Covered, Covered}
	for i := range want {
		if got.Pix[i] != want[i] {
			t.Errorf("Pix[%d] = %d, want %d", i, got.Pix[i], want[i])
		}
	}
}

func TestCombineEmpty(t *testing.T) {
	got, err := Combine(3, 2)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if got.Count() != 0 || len(got.Pix) != 6 {
		t.Errorf("empty combine = %+v", got)
	}
}

func TestCombineSizeMismatch(t *testing.T) {
	_, err := Combine(4, 4, New(4, 4), New(4, 3))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("err = %v, want ErrSizeMismatch", err)
	}
}

func TestToRGBA(t *testing.T) {
	m := New(2, 1)
	m.Pix = []byte{0, Covered}
	got := ToRGBA(m)
	want := []byte{0, 0, 0, 255, 255, 255, 255, 255}
	if string(got) != string(want) {
		t.Errorf("ToRGBA = %v, want %v", got, want)
	}
}

func TestBoundsAndVisualize(t *testing.T) {
	m := rect(8, 8, image.Rect(2, 3, 5, 7))
	if b := m.Bounds(); b != image.Rect(2, 3, 5, 7) {
		t.Errorf("Bounds() = %v", b)
	}
	g := Visualize(m)
	if g.GrayAt(2, 3).Y != Covered || g.GrayAt(0, 0).Y != 0 {
		t.Error("Visualize does not mirror the mask")
	}
	if m.At(-1, 0) != 0 || m.At(8, 0) != 0 {
		t.Error("out-of-range At should be 0")
	}
}
