//go:build !nogpu

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ContextOption configures a Context during creation.
//
// Example:
//
//	// Highest-priority registered backend, first discrete GPU
//	ctx, err := gpu.NewContext()
//
//	// Force the CPU backend
//	ctx, err := gpu.NewContext(gpu.WithBackendName("software"))
type ContextOption func(*contextOptions)

type contextOptions struct {
	backend     hal.Backend
	backendName string
	features    gputypes.Features
	limits      gputypes.Limits
}

func defaultContextOptions() contextOptions {
	return contextOptions{
		features: gputypes.Features(0),
		limits:   gputypes.DefaultLimits(),
	}
}

// WithBackend uses b directly instead of looking one up in the HAL registry.
func WithBackend(b hal.Backend) ContextOption {
	return func(o *contextOptions) {
		o.backend = b
	}
}

// WithBackendName selects a registered backend by name
// ("vulkan", "metal", "dx12", "gles", "software").
func WithBackendName(name string) ContextOption {
	return func(o *contextOptions) {
		o.backendName = name
	}
}

// WithLimits overrides the limits requested when opening the device.
func WithLimits(l gputypes.Limits) ContextOption {
	return func(o *contextOptions) {
		o.limits = l
	}
}

// Context owns the GPU device for the lifetime of a run. Pipelines and the
// BufferManager borrow it; only the creator calls Close.
type Context struct {
	mu sync.Mutex

	backendName string
	instance    hal.Instance
	adapter     hal.Adapter
	info        gputypes.AdapterInfo
	device      hal.Device
	queue       hal.Queue
	limits      gputypes.Limits
	alignment   uint64

	buffers *BufferManager
	closed  bool
}

// NewContext creates an instance on the selected backend, picks an adapter
// with SelectAdapter and opens a device on it. Every failure is wrapped in
// ErrDevice except a missing backend or adapter.
func NewContext(opts ...ContextOption) (*Context, error) {
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}

	backend, name := o.backend, o.backendName
	if backend == nil {
		var err error
		backend, name, err = resolveBackend(o.backendName)
		if err != nil {
			return nil, fmt.Errorf("%w (requested %q, registered %v)", err, name, AvailableBackends())
		}
	} else if name == "" {
		name = backend.Variant().String()
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", ErrDevice, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	idx, fallback := SelectAdapter(adapters)
	selected := &adapters[idx]
	if fallback {
		slogger().Warn("gpu: no discrete GPU with compute support, using fallback adapter",
			"adapter", selected.Info.Name,
			"type", adapterType(selected.Info.DeviceType))
	}

	openDev, err := selected.Adapter.Open(o.features, o.limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device on %q: %w", ErrDevice, selected.Info.Name, err)
	}

	c := &Context{
		backendName: name,
		instance:    instance,
		adapter:     selected.Adapter,
		info:        selected.Info,
		device:      openDev.Device,
		queue:       openDev.Queue,
		limits:      o.limits,
		alignment:   storageAlignment(o.limits, selected.Capabilities.Limits),
	}
	c.buffers = newBufferManager(c.device, c.alignment)

	slogger().Info("gpu: device opened",
		"backend", name,
		"adapter", c.info.Name,
		"type", adapterType(c.info.DeviceType),
		"storage_alignment", c.alignment)
	return c, nil
}

// SelectAdapter returns the index of the first discrete GPU that supports
// compute. Without one it falls back to the first compute-capable adapter,
// then to the first adapter; fallback reports whether either fallback was
// taken. adapters must not be empty.
func SelectAdapter(adapters []hal.ExposedAdapter) (index int, fallback bool) {
	firstCompute := -1
	for i := range adapters {
		if !supportsCompute(&adapters[i]) {
			continue
		}
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			return i, false
		}
		if firstCompute < 0 {
			firstCompute = i
		}
	}
	if firstCompute >= 0 {
		return firstCompute, true
	}
	return 0, true
}

// supportsCompute reports whether an adapter can run compute pipelines.
// Vulkan and Metal guarantee compute on every conformant device; the other
// backends advertise it through downlevel flags.
func supportsCompute(a *hal.ExposedAdapter) bool {
	switch a.Info.Backend {
	case gputypes.BackendVulkan, gputypes.BackendMetal:
		return true
	}
	return a.Capabilities.DownlevelCapabilities.Flags&hal.DownlevelFlagsComputeShaders != 0
}

func storageAlignment(requested, adapter gputypes.Limits) uint64 {
	a := requested.MinStorageBufferOffsetAlignment
	if adapter.MinStorageBufferOffsetAlignment > a {
		a = adapter.MinStorageBufferOffsetAlignment
	}
	if a == 0 {
		a = 4
	}
	return uint64(a)
}

// Device returns the logical device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the device queue used for compute submissions.
func (c *Context) Queue() hal.Queue { return c.queue }

// Buffers returns the buffer manager bound to this device.
func (c *Context) Buffers() *BufferManager { return c.buffers }

// Limits returns the limits the device was opened with.
func (c *Context) Limits() gputypes.Limits { return c.limits }

// StorageAlignment returns the minimum storage-buffer alignment in bytes.
func (c *Context) StorageAlignment() uint64 { return c.alignment }

// BackendName returns the name of the HAL backend in use.
func (c *Context) BackendName() string { return c.backendName }

// AdapterInfo describes the selected adapter.
func (c *Context) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{
		Name: c.info.Name,
		Type: adapterType(c.info.DeviceType),
	}
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WaitIdle blocks until all submitted work has finished.
func (c *Context) WaitIdle() error {
	if err := c.device.WaitIdle(); err != nil {
		return fmt.Errorf("%w: wait idle: %w", ErrDevice, err)
	}
	return nil
}

// Close waits for the device to go idle and releases the device, adapter
// and instance in reverse creation order. Safe to call more than once.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	if c.device != nil {
		if err := c.device.WaitIdle(); err != nil {
			slogger().Warn("gpu: wait idle before close", "err", err)
		}
		if n := c.buffers.Stats().LiveBuffers; n > 0 {
			slogger().Warn("gpu: closing device with live buffers", "count", n)
		}
		c.device.Destroy()
		c.device = nil
	}
	c.queue = nil
	if c.adapter != nil {
		c.adapter.Destroy()
		c.adapter = nil
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}
	slogger().Debug("gpu: context closed", "backend", c.backendName)
}
