// Package diag records what the detector saw, for debugging effect
// placement. Sinks never affect the processed frames.
package diag

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/mask"
)

// Sink receives per-frame detection results. Frame numbers are 0-based
// positions in the ordered frame sequence.
type Sink interface {
	// Detections is called once per frame that ran detection.
	Detections(frame int, dets []detect.Detection) error
	// Mask is called with each combined class mask built on that frame.
	Mask(frame int, label string, m *mask.Mask) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Detections(int, []detect.Detection) error { return nil }
func (Nop) Mask(int, string, *mask.Mask) error       { return nil }
func (Nop) Close() error                             { return nil }

// Dir writes every combined class mask as a grayscale PNG named
// mask_<frame>_<label>.png.
type Dir struct {
	path string
}

// NewDir creates path if needed and returns a Dir sink writing into it.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("diag: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the output directory.
func (d *Dir) Path() string { return d.path }

// Detections is a no-op; Dir only keeps masks.
func (d *Dir) Detections(int, []detect.Detection) error { return nil }

// Mask writes m as a PNG.
func (d *Dir) Mask(frame int, label string, m *mask.Mask) error {
	name := fmt.Sprintf("mask_%d_%s.png", frame, fileSafe(label))
	f, err := os.Create(filepath.Join(d.path, name))
	if err != nil {
		return fmt.Errorf("diag: %w", err)
	}
	if err := png.Encode(f, mask.Visualize(m)); err != nil {
		f.Close()
		return fmt.Errorf("diag: encode %s: %w", name, err)
	}
	return f.Close()
}

// Close is a no-op.
func (d *Dir) Close() error { return nil }

func fileSafe(label string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return '_'
	}, label)
}

// Multi fans every call out to each sink and joins their errors.
type Multi []Sink

func (m Multi) Detections(frame int, dets []detect.Detection) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Detections(frame, dets))
	}
	return errors.Join(errs...)
}

func (m Multi) Mask(frame int, label string, mk *mask.Mask) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Mask(frame, label, mk))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
