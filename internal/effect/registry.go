//go:build !nogpu

// Package effect owns the per-class compute pipelines. A shader file is
// registered for a class when its base name equals a vocabulary label.
package effect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/segfx/internal/gpu"
	"github.com/gogpu/segfx/internal/vocab"
)

// ErrShader wraps failures to read or build a listed shader.
var ErrShader = errors.New("effect: shader load failed")

// Registry maps class labels to the pipelines that render them. It is the
// only owner of its pipelines; Get lends them out for the duration of a call.
type Registry struct {
	ctx *gpu.Context

	mu        sync.RWMutex
	pipelines map[string]*gpu.Pipeline
	width     int
	height    int
}

// NewRegistry creates an empty registry on ctx.
func NewRegistry(ctx *gpu.Context) *Registry {
	return &Registry{ctx: ctx, pipelines: make(map[string]*gpu.Pipeline)}
}

// Scan creates a registry holding one pipeline for every shader file in dir
// whose base name is a label of v. Other files are ignored.
func Scan(ctx *gpu.Context, dir string, v *vocab.Vocabulary) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShader, err)
	}
	r := NewRegistry(ctx)
	for _, e := range entries {
		if !e.Type().IsRegular() || !gpu.IsShaderFile(e.Name()) {
			continue
		}
		// NFC only: whitespace and case are part of the name.
		label := norm.NFC.String(gpu.ShaderName(e.Name()))
		if !v.Has(label) {
			slogger().Debug("effect: shader matches no label", "file", e.Name())
			continue
		}
		if r.Has(label) {
			slogger().Warn("effect: duplicate shader for label, keeping first", "label", label, "file", e.Name())
			continue
		}
		if err := r.Load(label, filepath.Join(dir, e.Name())); err != nil {
			r.Close()
			return nil, err
		}
	}
	slogger().Info("effect: registry loaded", "dir", dir, "effects", r.Labels())
	return r, nil
}

// Load builds the shader at path and registers it under label, replacing
// and closing any previous pipeline with that label. The pipeline takes the
// registry's current dimensions.
func (r *Registry) Load(label, path string) error {
	p, err := gpu.LoadPipeline(r.ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrShader, path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p.SetDimensions(r.width, r.height)
	if old, ok := r.pipelines[label]; ok {
		old.Close()
	}
	r.pipelines[label] = p
	slogger().Debug("effect: registered", "label", label, "path", path)
	return nil
}

// Get returns the pipeline for label. A missing label is not an error;
// callers skip the class.
func (r *Registry) Get(label string) (*gpu.Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[label]
	return p, ok
}

// Effect returns the pipeline for label as an Effect.
func (r *Registry) Effect(label string) (Effect, bool) {
	p, ok := r.Get(label)
	if !ok {
		return nil, false
	}
	return p, true
}

// Has reports whether label has a pipeline. It doubles as the detector's
// class filter.
func (r *Registry) Has(label string) bool {
	_, ok := r.Get(label)
	return ok
}

// SetDimensions sets the image size on every pipeline. Call it once the
// first frame's size is known.
func (r *Registry) SetDimensions(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = w, h
	for _, p := range r.pipelines {
		p.SetDimensions(w, h)
	}
}

// Labels returns the registered labels in sorted order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	labels := make([]string, 0, len(r.pipelines))
	for l := range r.pipelines {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels
}

// Len returns the number of registered pipelines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}

// Close releases every pipeline. The Context stays open.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for label, p := range r.pipelines {
		p.Close()
		delete(r.pipelines, label)
	}
}
