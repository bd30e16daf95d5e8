package ppm

import (
	"bytes"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecode(t *testing.T) {
	data := "P6\n# written by a test\n2 1\n255\n" + "\x01\x02\x03\xfa\xfb\xfc"
	img, err := Decode(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds = %v, want 2x1", img.Bounds())
	}
	want := []byte{1, 2, 3, 255, 0xfa, 0xfb, 0xfc, 255}
	if diff := cmp.Diff(want, img.Pix); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	copy(img.Pix, []byte{10, 20, 30, 7, 40, 50, 60, 0})
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := "P6\n2 1\n255\n" + "\x0a\x14\x1e\x28\x32\x3c"
	if got := buf.String(); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestFileRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 3))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 7)
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	path := filepath.Join(t.TempDir(), "frame_1.ppm")
	if err := WriteFile(path, img); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff(img.Pix, got.Pix); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"ascii variant", "P3\n1 1\n255\n0 0 0\n"},
		{"bad width", "P6\nx 1\n255\n"},
		{"zero height", "P6\n1 0\n255\n"},
		{"16-bit", "P6\n1 1\n65535\n\x00\x00\x00\x00\x00\x00"},
		{"truncated header", "P6\n1 1"},
		{"short raster", "P6\n2 2\n255\n\x00\x00\x00"},
		{"oversized header", "P6\n2000000000 2000000000\n255\n\x00\x00\x00"},
		{"width over limit", "P6\n16385 1\n255\n\x00\x00\x00"},
		{"raster shorter than header", "P6\n16384 16384\n255\n\x00\x00\x00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.data))
			if !errors.Is(err, ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestRegisteredFormat(t *testing.T) {
	cfg, name, err := image.DecodeConfig(strings.NewReader("P6 640 480 255\n"))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if name != "ppm" || cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("DecodeConfig = %q %dx%d, want ppm 640x480", name, cfg.Width, cfg.Height)
	}
}
