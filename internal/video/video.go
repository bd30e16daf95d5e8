// Package video splits a video into PPM frames and reassembles processed
// frames into a video by running ffmpeg.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultFPS is the frame rate used for extraction and encoding.
const DefaultFPS = 30

// Frame name patterns understood by ffmpeg's image2 muxer.
const (
	FramePattern     = "frame_%d.ppm"
	ProcessedPattern = "processed_frame_%d.ppm"
)

var (
	// ErrNotFound is returned when the ffmpeg binary cannot be run.
	ErrNotFound = errors.New("video: ffmpeg not found")

	// ErrFFmpeg wraps a non-zero ffmpeg exit.
	ErrFFmpeg = errors.New("video: ffmpeg failed")
)

// Tool runs ffmpeg.
type Tool struct {
	// Path is the ffmpeg binary; empty means "ffmpeg" from PATH.
	Path string
	// Logger receives the command lines at debug level. May be nil.
	Logger *slog.Logger
}

func (t Tool) bin() string {
	if t.Path == "" {
		return "ffmpeg"
	}
	return t.Path
}

func (t Tool) log() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

// Check verifies that ffmpeg can be executed.
func (t Tool) Check(ctx context.Context) error {
	path, err := exec.LookPath(t.bin())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err := t.run(ctx, "-version"); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}
	return nil
}

// Extract decodes input into dir as frame_1.ppm, frame_2.ppm, ... at fps.
// dir is created if needed.
func (t Tool) Extract(ctx context.Context, input, dir string, fps int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	t.log().Info("video: extracting frames", "input", input, "dir", dir, "fps", fps)
	return t.run(ctx, ExtractArgs(input, dir, fps)...)
}

// Encode assembles dir/processed_frame_%d.ppm into output with libx264,
// copying the audio stream of source when it has one.
func (t Tool) Encode(ctx context.Context, dir, source, output string, fps int) error {
	t.log().Info("video: encoding", "dir", dir, "output", output, "fps", fps)
	return t.run(ctx, EncodeArgs(dir, source, output, fps)...)
}

// ExtractArgs returns the ffmpeg arguments Extract uses.
func ExtractArgs(input, dir string, fps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", "fps=" + strconv.Itoa(fps) + ",format=rgb24",
		"-start_number", "1",
		filepath.Join(dir, FramePattern),
	}
}

// EncodeArgs returns the ffmpeg arguments Encode uses.
func EncodeArgs(dir, source, output string, fps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", strconv.Itoa(fps),
		"-i", filepath.Join(dir, ProcessedPattern),
		"-i", source,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0?",
		output,
	}
}

// OutputPath returns output_<name> next to input.
func OutputPath(input string) string {
	return filepath.Join(filepath.Dir(input), "output_"+filepath.Base(input))
}

func (t Tool) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	t.log().Debug("video: exec", "cmd", t.bin()+" "+strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		return fmt.Errorf("%w: %w: %s", ErrFFmpeg, err, msg)
	}
	return nil
}
