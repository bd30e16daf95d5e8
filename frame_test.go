package segfx

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/segfx/internal/ppm"
)

func TestFrameFromImageShares(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	f := FrameFromImage(img)
	if f.Width != 3 || f.Height != 2 || !f.Valid() {
		t.Fatalf("frame = %dx%d valid=%v", f.Width, f.Height, f.Valid())
	}
	f.Pix[0] = 42
	if img.Pix[0] != 42 {
		t.Error("frame does not share the image's pixels")
	}
	if back := f.Image(); back.Bounds() != img.Bounds() || &back.Pix[0] != &img.Pix[0] {
		t.Error("Image() does not share the frame's pixels")
	}
}

func TestFrameFromSubImageCopies(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	f := FrameFromImage(sub)
	if f.Width != 2 || f.Height != 2 {
		t.Fatalf("frame = %dx%d, want 2x2", f.Width, f.Height)
	}
	want := []byte{
		20, 21, 22, 23, 24, 25, 26, 27,
		36, 37, 38, 39, 40, 41, 42, 43,
	}
	if diff := cmp.Diff(want, f.Pix); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameValid(t *testing.T) {
	if (Frame{Width: 2, Height: 2, Pix: make([]byte, 15)}).Valid() {
		t.Error("short frame reported valid")
	}
	if (Frame{}).Valid() {
		t.Error("empty frame reported valid")
	}
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	f := NewFrame(2, 1)
	copy(f.Pix, []byte{1, 2, 3, 255, 4, 5, 6, 255})
	if err := DirSink(dir).WriteFrame("processed_frame_1", f); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := ppm.ReadFile(filepath.Join(dir, "processed_frame_1.ppm"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff(f.Pix, got.Pix); diff != "" {
		t.Errorf("written frame mismatch (-want +got):\n%s", diff)
	}
}
