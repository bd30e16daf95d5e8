package segfx

import "github.com/gogpu/segfx/internal/diag"

// DefaultDetectInterval is the number of frames a detection result is
// reused for.
const DefaultDetectInterval = 5

// ProcessorOption configures a Processor.
//
// Example:
//
//	// Detect on every frame and log detections to SQLite
//	db, _ := diag.OpenSQLite("detections.db")
//	p := segfx.NewProcessor(det, effects,
//	    segfx.WithDetectInterval(1),
//	    segfx.WithDiagnostics(db))
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	interval int
	diag     diag.Sink
	global   string
}

func defaultProcessorOptions() processorOptions {
	return processorOptions{
		interval: DefaultDetectInterval,
		diag:     diag.Nop{},
	}
}

// WithDetectInterval runs detection on frames whose index is a multiple
// of n. Values below 1 are treated as 1.
func WithDetectInterval(n int) ProcessorOption {
	return func(o *processorOptions) {
		o.interval = max(1, n)
	}
}

// WithDiagnostics sends detections and combined masks to s.
func WithDiagnostics(s diag.Sink) ProcessorOption {
	return func(o *processorOptions) {
		if s != nil {
			o.diag = s
		}
	}
}

// WithGlobalEffect applies the effect registered under label to the whole
// frame after the per-class effects, on every frame.
func WithGlobalEffect(label string) ProcessorOption {
	return func(o *processorOptions) {
		o.global = label
	}
}
