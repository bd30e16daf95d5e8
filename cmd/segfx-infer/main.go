//go:build onnx

// Command segfx-infer serves YOLOv8-seg inference over stdin and stdout for
// segfx. It links onnxruntime through cgo, which cannot share a binary with
// the pure-Go Vulkan backend, so segfx starts it as a child process.
//
// Build with:
//
//	CGO_ENABLED=1 go build -tags onnx ./cmd/segfx-infer
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/onnxrt"
)

func main() {
	model := flag.String("model", "yolov8s-seg.onnx", "YOLOv8-seg ONNX model")
	ortLib := flag.String("ort-lib", "", "path to the onnxruntime shared library")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	// stdout carries the protocol; logs go to stderr only.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	onnxrt.SetLogger(logger)
	detect.SetLogger(logger)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *model, *ortLib); err != nil {
		stop()
		log.Fatalf("segfx-infer: %v", err)
	}
}

func run(ctx context.Context, model, ortLib string) (err error) {
	if err := onnxrt.InitRuntime(ortLib); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, onnxrt.ShutdownRuntime()) }()

	b, err := onnxrt.New(model)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, b.Close()) }()

	return detect.Serve(ctx, os.Stdin, os.Stdout, b)
}
