package segfx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameIndex(t *testing.T) {
	tests := []struct {
		path string
		n    int
		ok   bool
	}{
		{"frame_1.ppm", 1, true},
		{"/tmp/x/frame_120.ppm", 120, true},
		{"processed_frame_7.ppm", 7, true},
		{"a_b_3", 3, true},
		{"frame.ppm", 0, false},
		{"frame_x.ppm", 0, false},
		{"frame_.ppm", 0, false},
	}
	for _, tt := range tests {
		n, ok := FrameIndex(tt.path)
		if n != tt.n || ok != tt.ok {
			t.Errorf("FrameIndex(%q) = (%d, %v), want (%d, %v)", tt.path, n, ok, tt.n, tt.ok)
		}
	}
}

func TestSortFramesNumeric(t *testing.T) {
	in := []string{"frame_10.ppm", "frame_2.ppm", "cover.ppm", "frame_1.ppm", "frame_100.ppm", "frame_20.ppm"}
	want := []string{"frame_1.ppm", "frame_2.ppm", "frame_10.ppm", "frame_20.ppm", "frame_100.ppm", "cover.ppm"}
	if diff := cmp.Diff(want, SortFrames(in)); diff != "" {
		t.Errorf("SortFrames mismatch (-want +got):\n%s", diff)
	}
	if in[0] != "frame_10.ppm" {
		t.Error("SortFrames modified its input")
	}
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_10.ppm", "frame_9.ppm", "notes.txt", "frame_1.ppm"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ListFrames(dir)
	if err != nil {
		t.Fatalf("ListFrames failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "frame_1.ppm"),
		filepath.Join(dir, "frame_9.ppm"),
		filepath.Join(dir, "frame_10.ppm"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListFrames mismatch (-want +got):\n%s", diff)
	}
}
