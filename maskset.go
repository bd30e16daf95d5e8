package segfx

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/mask"
)

// MaskSet holds one RGBA coverage buffer per detected class. Labels are
// kept sorted so effects chain in a stable order.
type MaskSet struct {
	labels []string
	masks  map[string][]byte
	counts map[string]int
}

// Labels returns the classes in chaining order.
func (s *MaskSet) Labels() []string {
	if s == nil {
		return nil
	}
	return s.labels
}

// Mask returns the RGBA coverage buffer for label, or nil.
func (s *MaskSet) Mask(label string) []byte {
	if s == nil {
		return nil
	}
	return s.masks[label]
}

// Instances returns how many detections were merged into label's mask.
func (s *MaskSet) Instances(label string) int {
	if s == nil {
		return 0
	}
	return s.counts[label]
}

// Len returns the number of classes.
func (s *MaskSet) Len() int { return len(s.Labels()) }

// buildMaskSet merges the instance masks of each class. combined is called
// with every merged mask before it is expanded to RGBA.
func buildMaskSet(dets []detect.Detection, w, h int, combined func(label string, m *mask.Mask)) (*MaskSet, error) {
	groups := detect.GroupByLabel(dets)
	set := &MaskSet{
		labels: slices.Sorted(maps.Keys(groups)),
		masks:  make(map[string][]byte, len(groups)),
		counts: make(map[string]int, len(groups)),
	}
	for _, label := range set.labels {
		m, err := mask.Combine(w, h, groups[label]...)
		if err != nil {
			return nil, fmt.Errorf("segfx: combine %s: %w", label, err)
		}
		if combined != nil {
			combined(label, m)
		}
		set.masks[label] = mask.ToRGBA(m)
		set.counts[label] = len(groups[label])
	}
	return set, nil
}
