package segfx

import (
	"cmp"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// FrameIndex returns the integer between the last '_' and the extension of
// path's base name, as in frame_12.ppm. ok is false when there is none.
func FrameIndex(path string) (n int, ok bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	i := strings.LastIndexByte(base, '_')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortFrames returns paths ordered by FrameIndex, so frame_2 precedes
// frame_10. Paths without an index sort after indexed ones, by name.
func SortFrames(paths []string) []string {
	sorted := slices.Clone(paths)
	slices.SortStableFunc(sorted, func(a, b string) int {
		na, oka := FrameIndex(a)
		nb, okb := FrameIndex(b)
		switch {
		case oka && okb:
			if c := cmp.Compare(na, nb); c != 0 {
				return c
			}
		case oka:
			return -1
		case okb:
			return 1
		}
		return strings.Compare(a, b)
	})
	return sorted
}

// ListFrames returns the PPM files in dir in frame order.
func ListFrames(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.ppm"))
	if err != nil {
		return nil, err
	}
	return SortFrames(paths), nil
}
