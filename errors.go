package segfx

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned for a frame whose size differs from the first
// frame of the run.
var ErrFrameSize = errors.New("segfx: frame size differs from first frame")

// FrameError records a frame that was not written.
type FrameError struct {
	Index int
	Path  string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
