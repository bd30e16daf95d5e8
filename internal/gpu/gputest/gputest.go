// Package gputest provides an in-memory HAL backend for exercising compute
// pipelines without a GPU.
//
// The backend is built on hal/noop. Buffers hold real bytes, bind groups
// remember their buffers, and a submitted dispatch runs a Go kernel over
// every invocation of the recorded workgroup grid. Kernels are looked up by
// the label of the shader module the pipeline was created from; pipelines
// without a kernel behave as a pass-through copy of binding 0 into binding 1.
package gputest

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Workgroup is the workgroup edge length the emulated shaders declare.
const Workgroup = 16

// Kernel computes one output pixel. in, mask and out are 4-byte RGBA slices.
// When the params uniform clears the masked flag, mask is fully covered.
type Kernel func(in, mask, out []byte)

// PassThrough copies the input pixel unchanged.
func PassThrough(in, _, out []byte) { copy(out, in) }

// InvertMasked inverts RGB where the mask's red channel is 255.
func InvertMasked(in, mask, out []byte) {
	copy(out, in)
	if mask[0] == 255 {
		out[0], out[1], out[2] = 255-in[0], 255-in[1], 255-in[2]
	}
}

// Backend is a hal.Backend whose instances expose the configured adapters.
// Every adapter opens the same Device.
type Backend struct {
	noop.API

	Adapters []hal.ExposedAdapter
	Device   *Device
	Queue    *Queue
}

// NewBackend returns a backend with one Vulkan-flavored discrete adapter.
func NewBackend() *Backend {
	b := &Backend{}
	b.Device = NewDevice()
	b.Queue = &Queue{}
	b.Adapters = []hal.ExposedAdapter{b.Adapter("Fake Discrete", gputypes.DeviceTypeDiscreteGPU, gputypes.BackendVulkan)}
	return b
}

// Adapter builds an exposed adapter that opens b's device.
func (b *Backend) Adapter(name string, typ gputypes.DeviceType, backend gputypes.Backend) hal.ExposedAdapter {
	return hal.ExposedAdapter{
		Adapter: &Adapter{backend: b, Name: name},
		Info: gputypes.AdapterInfo{
			Name:       name,
			DeviceType: typ,
			Backend:    backend,
		},
		Capabilities: hal.Capabilities{Limits: gputypes.DefaultLimits()},
	}
}

// CreateInstance returns an instance listing b.Adapters.
func (b *Backend) CreateInstance(*hal.InstanceDescriptor) (hal.Instance, error) {
	return &Instance{backend: b}, nil
}

// Instance enumerates the backend's adapters.
type Instance struct {
	noop.Instance
	backend *Backend
}

// EnumerateAdapters returns a copy of the backend's adapter list.
func (i *Instance) EnumerateAdapters(hal.Surface) []hal.ExposedAdapter {
	return append([]hal.ExposedAdapter(nil), i.backend.Adapters...)
}

// Adapter opens the backend's device.
type Adapter struct {
	noop.Adapter
	backend *Backend

	Name   string
	Opened bool
}

// Open marks the adapter opened and returns the shared device and queue.
func (a *Adapter) Open(gputypes.Features, gputypes.Limits) (hal.OpenDevice, error) {
	a.Opened = true
	return hal.OpenDevice{Device: a.backend.Device, Queue: a.backend.Queue}, nil
}

// Buffer is host memory posing as a device buffer.
type Buffer struct {
	ID        uintptr
	Label     string
	Usage     gputypes.BufferUsage
	Data      []byte
	Destroyed bool
}

// Destroy is a no-op; Device.DestroyBuffer does the bookkeeping.
func (b *Buffer) Destroy() {}

// NativeHandle returns the buffer's id, which bind groups resolve.
func (b *Buffer) NativeHandle() uintptr { return b.ID }

type shaderModule struct {
	noop.Resource
	label string
}

type computePipeline struct {
	noop.Resource
	kernel string
}

// BindGroup records the buffers bound to each slot.
type BindGroup struct {
	noop.Resource
	Label   string
	Buffers map[uint32]*Buffer
}

// Dispatch is one recorded Dispatch call.
type Dispatch struct {
	Pipeline string
	X, Y, Z  uint32
}

// Device is an in-memory hal.Device.
type Device struct {
	noop.Device

	mu          sync.Mutex
	nextID      uintptr
	buffers     map[uintptr]*Buffer
	live        int
	maxLive     int
	liveGroups  int
	kernels     map[string]Kernel
	dispatches  []Dispatch
	barriers    []hal.BufferBarrier
	lastGroup   *BindGroup
	failBuffers bool
}

// NewDevice returns an empty device.
func NewDevice() *Device {
	return &Device{
		buffers: make(map[uintptr]*Buffer),
		kernels: make(map[string]Kernel),
	}
}

// SetKernel installs the kernel run for pipelines built from the shader
// module labeled name.
func (d *Device) SetKernel(name string, k Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[name] = k
}

// FailBuffers makes every subsequent CreateBuffer fail.
func (d *Device) FailBuffers(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBuffers = fail
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// MaxLiveBuffers returns the highest simultaneous buffer count observed.
func (d *Device) MaxLiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

// LiveBindGroups returns the number of bind groups not yet destroyed.
func (d *Device) LiveBindGroups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveGroups
}

// Dispatches returns every dispatch executed so far.
func (d *Device) Dispatches() []Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatch(nil), d.dispatches...)
}

// Barriers returns every buffer barrier recorded so far.
func (d *Device) Barriers() []hal.BufferBarrier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hal.BufferBarrier(nil), d.barriers...)
}

// LastBindGroup returns the most recently created bind group.
func (d *Device) LastBindGroup() *BindGroup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastGroup
}

// CreateBuffer allocates zeroed host memory.
func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failBuffers {
		return nil, fmt.Errorf("gputest: out of device memory")
	}
	d.nextID++
	b := &Buffer{ID: d.nextID, Label: desc.Label, Usage: desc.Usage, Data: make([]byte, desc.Size)}
	d.buffers[b.ID] = b
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	return b, nil
}

// DestroyBuffer releases a buffer created by CreateBuffer.
func (d *Device) DestroyBuffer(buffer hal.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := buffer.(*Buffer)
	if !ok || b.Destroyed {
		return
	}
	b.Destroyed = true
	delete(d.buffers, b.ID)
	d.live--
}

// MapBuffer exposes the buffer's bytes.
func (d *Device) MapBuffer(buffer hal.Buffer, offset, size uint64) (hal.BufferMapping, error) {
	b, ok := buffer.(*Buffer)
	if !ok || b.Destroyed {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	if offset+size > uint64(len(b.Data)) || size == 0 {
		return hal.BufferMapping{}, hal.ErrInvalidMapRange
	}
	return hal.BufferMapping{Ptr: unsafe.Pointer(&b.Data[offset]), IsCoherent: true}, nil
}

// UnmapBuffer is a no-op.
func (d *Device) UnmapBuffer(hal.Buffer) error { return nil }

// CreateShaderModule remembers the module's label.
func (d *Device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	return &shaderModule{label: desc.Label}, nil
}

// CreateComputePipeline binds the pipeline to its module's kernel name.
func (d *Device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	name := desc.Label
	if m, ok := desc.Compute.Module.(*shaderModule); ok {
		name = m.label
	}
	return &computePipeline{kernel: name}, nil
}

// CreateBindGroup resolves buffer handles to the device's buffers.
func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := &BindGroup{Label: desc.Label, Buffers: make(map[uint32]*Buffer)}
	for _, e := range desc.Entries {
		bb, ok := e.Resource.(gputypes.BufferBinding)
		if !ok {
			return nil, fmt.Errorf("gputest: binding %d is not a buffer", e.Binding)
		}
		b, ok := d.buffers[bb.Buffer]
		if !ok {
			return nil, fmt.Errorf("gputest: binding %d: unknown buffer %d", e.Binding, bb.Buffer)
		}
		g.Buffers[e.Binding] = b
	}
	d.liveGroups++
	d.lastGroup = g
	return g, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(hal.BindGroup) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.liveGroups--
}

// CreateCommandEncoder returns a recording encoder.
func (d *Device) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &commandEncoder{device: d}, nil
}

type commandEncoder struct {
	noop.CommandEncoder
	device *Device
	ops    []func()
}

func (e *commandEncoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	e.device.mu.Lock()
	defer e.device.mu.Unlock()
	e.device.barriers = append(e.device.barriers, barriers...)
}

func (e *commandEncoder) BeginComputePass(*hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return &computePass{encoder: e}
}

func (e *commandEncoder) EndEncoding() (hal.CommandBuffer, error) {
	cb := &commandBuffer{ops: e.ops}
	e.ops = nil
	return cb, nil
}

type commandBuffer struct {
	noop.Resource
	ops []func()
}

type computePass struct {
	noop.ComputePassEncoder
	encoder  *commandEncoder
	pipeline *computePipeline
	group    *BindGroup
}

func (p *computePass) SetPipeline(pipeline hal.ComputePipeline) {
	p.pipeline, _ = pipeline.(*computePipeline)
}

func (p *computePass) SetBindGroup(_ uint32, group hal.BindGroup, _ []uint32) {
	p.group, _ = group.(*BindGroup)
}

func (p *computePass) Dispatch(x, y, z uint32) {
	d := p.encoder.device
	pipeline, group := p.pipeline, p.group
	p.encoder.ops = append(p.encoder.ops, func() {
		d.run(pipeline, group, x, y, z)
	})
}

// run emulates every invocation of a dispatch grid.
func (d *Device) run(pipeline *computePipeline, group *BindGroup, x, y, z uint32) {
	d.mu.Lock()
	name := ""
	if pipeline != nil {
		name = pipeline.kernel
	}
	d.dispatches = append(d.dispatches, Dispatch{Pipeline: name, X: x, Y: y, Z: z})
	k, ok := d.kernels[name]
	d.mu.Unlock()
	if !ok {
		k = PassThrough
	}
	if group == nil {
		return
	}

	in, out, mask, params := group.Buffers[0], group.Buffers[1], group.Buffers[2], group.Buffers[3]
	if in == nil || out == nil || mask == nil || params == nil || len(params.Data) < 12 {
		return
	}
	w := int(int32(binary.LittleEndian.Uint32(params.Data[0:])))
	h := int(int32(binary.LittleEndian.Uint32(params.Data[4:])))
	masked := binary.LittleEndian.Uint32(params.Data[8:]) != 0
	covered := []byte{255, 255, 255, 255}
	for gy := 0; gy < int(y)*Workgroup; gy++ {
		for gx := 0; gx < int(x)*Workgroup; gx++ {
			if gx >= w || gy >= h {
				continue
			}
			i := (gy*w + gx) * 4
			m := covered
			if masked {
				m = mask.Data[i : i+4]
			}
			k(in.Data[i:i+4], m, out.Data[i:i+4])
		}
	}
}

// Queue executes command buffers synchronously on Submit.
type Queue struct {
	noop.Queue

	mu      sync.Mutex
	submits int
}

// Submit runs every recorded operation.
func (q *Queue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	for _, c := range cmds {
		if cb, ok := c.(*commandBuffer); ok {
			for _, op := range cb.ops {
				op()
			}
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits++
	return uint64(q.submits), nil
}

// Submits returns the number of Submit calls.
func (q *Queue) Submits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}
