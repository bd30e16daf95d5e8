package segfx

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/mask"
)

func pixelMask(w, h int, pts ...[2]int) *mask.Mask {
	m := mask.New(w, h)
	for _, p := range pts {
		m.Set(p[0], p[1], mask.Covered)
	}
	return m
}

func TestBuildMaskSet(t *testing.T) {
	dets := []detect.Detection{
		{Label: "person", Mask: pixelMask(4, 2, [2]int{0, 0})},
		{Label: "cat", Mask: pixelMask(4, 2, [2]int{1, 0})},
		{Label: "cat", Mask: pixelMask(4, 2, [2]int{3, 1})},
	}
	combined := map[string]int{}
	set, err := buildMaskSet(dets, 4, 2, func(label string, m *mask.Mask) {
		combined[label] = m.Count()
	})
	if err != nil {
		t.Fatalf("buildMaskSet failed: %v", err)
	}

	if diff := cmp.Diff([]string{"cat", "person"}, set.Labels()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"cat": 2, "person": 1}, combined); diff != "" {
		t.Errorf("combined counts mismatch (-want +got):\n%s", diff)
	}
	if set.Instances("cat") != 2 {
		t.Errorf("cat instances = %d, want 2", set.Instances("cat"))
	}

	cat := set.Mask("cat")
	if len(cat) != 4*2*4 {
		t.Fatalf("cat mask is %d bytes, want 32", len(cat))
	}
	for i := 0; i < 8; i++ {
		want := byte(0)
		if i == 1 || i == 7 {
			want = 255
		}
		if cat[i*4] != want || cat[i*4+3] != 255 {
			t.Errorf("cat mask pixel %d = %v, want coverage %d", i, cat[i*4:i*4+4], want)
		}
	}
}

func TestBuildMaskSetSizeMismatch(t *testing.T) {
	dets := []detect.Detection{{Label: "cat", Mask: mask.New(3, 3)}}
	if _, err := buildMaskSet(dets, 4, 4, nil); err == nil {
		t.Error("mismatched instance mask accepted")
	}
}

func TestNilMaskSet(t *testing.T) {
	var s *MaskSet
	if s.Len() != 0 || s.Mask("cat") != nil || s.Labels() != nil {
		t.Error("nil MaskSet is not empty")
	}
}
