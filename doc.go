// Package segfx applies per-object GPU effects to video frames.
//
// A Processor walks an ordered frame sequence. Every few frames it runs an
// object detector, merges the instance masks of each class into one
// coverage mask and caches the set; frames in between reuse the cached
// masks. Each frame is then routed through the compute effect registered
// for every detected class in turn, so later effects see the output of
// earlier ones.
//
// # Quick Start
//
//	ctx, err := gpu.NewContext()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	effects, err := effect.Scan(ctx, "shaders", vocab.COCO())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer effects.Close()
//
//	det, err := detect.NewYOLOSeg(backend, vocab.COCO(), detect.WithClassFilter(effects.Has))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p := segfx.NewProcessor(det, effects)
//	report, err := p.Run(context.Background(), frames, segfx.DirSink("out"))
//
// # Logging
//
// segfx is silent by default. SetLogger enables structured logging in this
// package and every internal package it drives, including the wgpu HAL.
package segfx
