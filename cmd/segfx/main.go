//go:build !nogpu

// Command segfx applies per-object GPU effects to a video.
//
// Frames are extracted with ffmpeg, objects are found every few frames with
// a YOLOv8-seg ONNX model run by the segfx-infer helper process, and each
// detected class is rendered with the compute shader named after it in the
// shader directory. The result is written next to the input as
// output_<name>.
//
// Usage:
//
//	CGO_ENABLED=0 go build ./cmd/segfx
//	CGO_ENABLED=1 go build -tags onnx ./cmd/segfx-infer
//	segfx -video in.mp4 -shaders shaders/ -model yolov8s-seg.onnx -infer ./segfx-infer
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gogpu/segfx"
	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/diag"
	"github.com/gogpu/segfx/internal/effect"
	"github.com/gogpu/segfx/internal/gpu"
	"github.com/gogpu/segfx/internal/video"
	"github.com/gogpu/segfx/internal/vocab"
)

type config struct {
	video      string
	shaders    string
	model      string
	labels     string
	infer      string
	ortLib     string
	backend    string
	interval   int
	fps        int
	conf       float64
	iou        float64
	threshold  string
	cutoff     float64
	percentile float64
	debugDir   string
	detLog     string
	global     string
	keep       bool
	verbose    bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.video, "video", "", "input video (required)")
	flag.StringVar(&cfg.shaders, "shaders", "shaders", "directory of <label>.wgsl / <label>.spv compute shaders")
	flag.StringVar(&cfg.model, "model", "yolov8s-seg.onnx", "YOLOv8-seg ONNX model")
	flag.StringVar(&cfg.labels, "labels", "", "class label file, one per line (default: COCO-80)")
	flag.StringVar(&cfg.infer, "infer", "segfx-infer", "inference helper binary, built with -tags onnx")
	flag.StringVar(&cfg.ortLib, "ort-lib", "", "path to the onnxruntime shared library, passed to the helper")
	flag.StringVar(&cfg.backend, "backend", "", "GPU backend: "+fmt.Sprint(gpu.AvailableBackends()))
	flag.IntVar(&cfg.interval, "interval", segfx.DefaultDetectInterval, "run detection every N frames")
	flag.IntVar(&cfg.fps, "fps", video.DefaultFPS, "extraction and output frame rate")
	flag.Float64Var(&cfg.conf, "conf", detect.DefaultConfThreshold, "minimum class score")
	flag.Float64Var(&cfg.iou, "iou", detect.DefaultIoUThreshold, "NMS IoU threshold")
	flag.StringVar(&cfg.threshold, "threshold", "fixed", "mask threshold mode: fixed or percentile")
	flag.Float64Var(&cfg.cutoff, "cutoff", 0.5, "mask probability cutoff in fixed mode")
	flag.Float64Var(&cfg.percentile, "percentile", 0.5, "per-instance quantile in percentile mode, clamped to [0.3, 0.7]")
	flag.StringVar(&cfg.debugDir, "debug-dir", "", "write combined class masks as PNG into this directory")
	flag.StringVar(&cfg.detLog, "detlog", "", "append detections to this SQLite database")
	flag.StringVar(&cfg.global, "global", "", "label of an effect applied to every full frame")
	flag.BoolVar(&cfg.keep, "keep", false, "keep extracted and processed frames")
	flag.BoolVar(&cfg.verbose, "v", false, "debug logging")
	flag.Parse()

	if cfg.video == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	segfx.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := run(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("segfx: %v", err)
	}
	log.Printf("Output saved to %s\n", out)
}

func run(ctx context.Context, cfg config, logger *slog.Logger) (string, error) {
	tool := video.Tool{Logger: logger}
	if err := tool.Check(ctx); err != nil {
		return "", err
	}

	work, err := os.MkdirTemp("", "segfx-")
	if err != nil {
		return "", err
	}
	if cfg.keep {
		logger.Info("keeping frames", "dir", work)
	} else {
		defer os.RemoveAll(work)
	}
	framesDir := filepath.Join(work, "frames")
	outDir := filepath.Join(work, "processed")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if err := tool.Extract(ctx, cfg.video, framesDir, cfg.fps); err != nil {
		return "", err
	}

	labels := vocab.COCO()
	if cfg.labels != "" {
		if labels, err = vocab.Load(cfg.labels); err != nil {
			return "", err
		}
	}

	gctx, err := gpu.NewContext(gpu.WithBackendName(cfg.backend))
	if err != nil {
		return "", err
	}
	defer gctx.Close()

	effects, err := effect.Scan(gctx, cfg.shaders, labels)
	if err != nil {
		return "", err
	}
	defer effects.Close()
	if effects.Len() == 0 {
		logger.Warn("no shader matches a class label; frames pass through unchanged", "dir", cfg.shaders)
	}

	det, closeDet, err := newDetector(cfg, labels, effects)
	if err != nil {
		return "", err
	}
	defer closeDet()

	sink, err := newDiagnostics(cfg)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing diagnostics", "err", err)
		}
	}()

	frames, err := segfx.ListFrames(framesDir)
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames extracted from %s", cfg.video)
	}

	p := segfx.NewProcessor(det, effects,
		segfx.WithDetectInterval(cfg.interval),
		segfx.WithDiagnostics(sink),
		segfx.WithGlobalEffect(cfg.global))
	report, err := p.Run(ctx, frames, segfx.DirSink(outDir))
	if err != nil {
		return "", err
	}
	logger.Info("frames processed",
		"written", report.Written,
		"failed", len(report.Failed),
		"detections", report.Detections,
		"instances", report.Instances,
		"elapsed", report.Elapsed)
	if len(report.Failed) > 0 {
		// processed_frame_%d must be contiguous for the encoder.
		return "", fmt.Errorf("%d of %d frames failed: %w", len(report.Failed), report.Frames, report.Err())
	}

	output := video.OutputPath(cfg.video)
	if err := tool.Encode(ctx, outDir, cfg.video, output, cfg.fps); err != nil {
		return "", err
	}
	return output, nil
}

func newDetector(cfg config, labels *vocab.Vocabulary, effects *effect.Registry) (detect.Detector, func(), error) {
	var th detect.Threshold
	switch cfg.threshold {
	case "fixed":
		th = detect.FixedThreshold(cfg.cutoff)
	case "percentile":
		th = detect.PercentileThreshold{P: cfg.percentile, Min: 0.3, Max: 0.7}
	default:
		return nil, nil, fmt.Errorf("unknown threshold mode %q", cfg.threshold)
	}

	args := []string{"-model", cfg.model}
	if cfg.ortLib != "" {
		args = append(args, "-ort-lib", cfg.ortLib)
	}
	if cfg.verbose {
		args = append(args, "-v")
	}
	backend, err := detect.StartBackend(cfg.infer, args...)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := backend.Close(); err != nil {
			segfx.Logger().Warn("segfx: closing detector", "err", err)
		}
	}

	det, err := detect.NewYOLOSeg(backend, labels,
		detect.WithConfThreshold(float32(cfg.conf)),
		detect.WithIoUThreshold(float32(cfg.iou)),
		detect.WithMaskThreshold(th),
		detect.WithClassFilter(effects.Has))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return det, closeFn, nil
}

func newDiagnostics(cfg config) (diag.Sink, error) {
	var sinks diag.Multi
	if cfg.debugDir != "" {
		d, err := diag.NewDir(cfg.debugDir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	if cfg.detLog != "" {
		db, err := diag.OpenSQLite(cfg.detLog)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, db)
	}
	if len(sinks) == 0 {
		return diag.Nop{}, nil
	}
	return sinks, nil
}
