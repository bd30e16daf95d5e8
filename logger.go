//go:build !nogpu

package segfx

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/effect"
	"github.com/gogpu/segfx/internal/gpu"
)

// nopHandler is a slog.Handler that silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger for segfx and the packages it drives.
// Pass nil to restore silent operation. Safe for concurrent use.
//
// Log levels:
//   - [slog.LevelDebug]: per-frame routing, buffer allocation, detection counts
//   - [slog.LevelInfo]: device, model and registry lifecycle
//   - [slog.LevelWarn]: adapter fallback, failed frames, diagnostics errors
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)

	gpu.SetLogger(l)
	effect.SetLogger(l)
	detect.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
