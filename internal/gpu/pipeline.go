//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// WorkgroupSize is the edge length of the square workgroup every effect
// shader declares.
const WorkgroupSize = 16

// paramsSize is the byte size of the params uniform: width, height, the
// masked flag and padding to 16 bytes.
const paramsSize = 16

// Binding slots of the effect bind group.
const (
	BindingInput  = 0
	BindingOutput = 1
	BindingMask   = 2
	BindingParams = 3
)

// DispatchSize returns the workgroup grid covering a w x h image.
func DispatchSize(w, h int) (x, y, z uint32) {
	return uint32((w + WorkgroupSize - 1) / WorkgroupSize), uint32((h + WorkgroupSize - 1) / WorkgroupSize), 1
}

// Pipeline is one compute effect bound to an image size.
//
// Between calls a Pipeline holds only its compiled objects. ProcessImage
// creates the input, output, mask and params buffers plus one bind group,
// and destroys them before it returns.
type Pipeline struct {
	ctx  *Context
	name string

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	mu          sync.Mutex
	width       int
	height      int
	res         *invocation
	invocations uint64
	closed      bool
}

// invocation is the resource set of a single ProcessImage call.
type invocation struct {
	input  *Allocation
	output *Allocation
	mask   *Allocation
	params *Allocation
	group  hal.BindGroup
}

// LoadPipeline reads the shader at path and builds a Pipeline named after
// the file's base name.
func LoadPipeline(ctx *Context, path string) (*Pipeline, error) {
	words, err := LoadShader(path)
	if err != nil {
		return nil, err
	}
	return NewPipeline(ctx, ShaderName(path), words)
}

// NewPipeline compiles SPIR-V words into a compute pipeline with the effect
// bind group layout. Dimensions start at 0x0.
func NewPipeline(ctx *Context, name string, spirv []uint32) (*Pipeline, error) {
	if ctx == nil || ctx.Closed() {
		return nil, ErrClosed
	}
	p := &Pipeline{ctx: ctx, name: name}
	if err := p.create(spirv); err != nil {
		p.destroy()
		return nil, err
	}
	slogger().Debug("gpu: pipeline created", "name", name, "words", len(spirv))
	return p, nil
}

func (p *Pipeline) create(spirv []uint32) error {
	device := p.ctx.device

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  p.name,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("%w: create shader module %s: %w", ErrDevice, p.name, err)
	}
	p.shader = shader

	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: p.name + "_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: BindingInput, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: BindingOutput, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: BindingMask, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: BindingParams, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create bind group layout %s: %w", ErrDevice, p.name, err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.name + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("%w: create pipeline layout %s: %w", ErrDevice, p.name, err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  p.name,
		Layout: pipeLayout,
		Compute: hal.ComputeState{
			Module:     shader,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create compute pipeline %s: %w", ErrDevice, p.name, err)
	}
	p.pipeline = pipeline
	return nil
}

// Name returns the effect name, which is the shader's base file name.
func (p *Pipeline) Name() string { return p.name }

// SetDimensions sets the image size used by subsequent ProcessImage calls.
func (p *Pipeline) SetDimensions(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = w, h
}

// Dimensions returns the current image size.
func (p *Pipeline) Dimensions() (w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Live reports whether a resource set is currently allocated. Outside of a
// running ProcessImage call it is always false.
func (p *Pipeline) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res != nil
}

// Invocations returns the number of completed ProcessImage calls.
func (p *Pipeline) Invocations() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invocations
}

// ProcessImage runs the effect over input and writes the result to output.
// input and output must each hold width*height*4 bytes. mask is either
// empty or the same size; when empty, the input buffer is bound to the mask
// slot so the shader's bindings stay complete.
//
// The call blocks until the GPU has finished and the result is copied back.
func (p *Pipeline) ProcessImage(input, output, mask []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.ctx.Closed() {
		return ErrClosed
	}
	p.release()

	w, h := p.width, p.height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %s", ErrNoDimensions, p.name)
	}
	n := w * h * 4
	if len(input) != n {
		return fmt.Errorf("%w: input %d bytes, want %d", ErrSizeMismatch, len(input), n)
	}
	if len(output) != n {
		return fmt.Errorf("%w: output %d bytes, want %d", ErrSizeMismatch, len(output), n)
	}
	if len(mask) != 0 && len(mask) != n {
		return fmt.Errorf("%w: mask %d bytes, want %d", ErrSizeMismatch, len(mask), n)
	}

	defer p.release()
	if err := p.allocate(w, h, input, mask); err != nil {
		return err
	}
	if err := p.dispatch(w, h); err != nil {
		return err
	}
	if err := p.ctx.buffers.CopyFromBuffer(p.res.output, output); err != nil {
		return err
	}
	p.invocations++
	return nil
}

// allocate creates and fills the resource set for one invocation.
func (p *Pipeline) allocate(w, h int, input, mask []byte) error {
	bm := p.ctx.buffers
	size := AlignUp(uint64(w*h*4), bm.Alignment())
	res := &invocation{}
	p.res = res

	var err error
	res.input, err = bm.CreateBuffer(p.name+"_input", size, gputypes.BufferUsageStorage, MemoryHostVisible|MemoryHostCoherent)
	if err != nil {
		return err
	}
	res.output, err = bm.CreateBuffer(p.name+"_output", size, gputypes.BufferUsageStorage, MemoryHostVisible|MemoryHostCached)
	if err != nil {
		return err
	}
	if len(mask) > 0 {
		res.mask, err = bm.CreateBuffer(p.name+"_mask", size, gputypes.BufferUsageStorage, MemoryHostVisible|MemoryHostCoherent)
		if err != nil {
			return err
		}
	}
	res.params, err = bm.CreateBuffer(p.name+"_params", AlignUp(paramsSize, bm.Alignment()), gputypes.BufferUsageUniform, MemoryHostVisible|MemoryHostCoherent)
	if err != nil {
		return err
	}

	if err := bm.CopyToBuffer(res.input, input); err != nil {
		return err
	}
	if res.mask != nil {
		if err := bm.CopyToBuffer(res.mask, mask); err != nil {
			return err
		}
	}
	if err := bm.CopyToBuffer(res.params, encodeParams(w, h, res.mask != nil)); err != nil {
		return err
	}

	maskSlot := res.mask
	if maskSlot == nil {
		maskSlot = res.input
	}
	params := res.params.Binding()
	params.Size = paramsSize
	res.group, err = p.ctx.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  p.name + "_bind",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: BindingInput, Resource: res.input.Binding()},
			{Binding: BindingOutput, Resource: res.output.Binding()},
			{Binding: BindingMask, Resource: maskSlot.Binding()},
			{Binding: BindingParams, Resource: params},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create bind group %s: %w", ErrDevice, p.name, err)
	}
	return nil
}

// dispatch records, submits and waits for one compute pass.
func (p *Pipeline) dispatch(w, h int) error {
	device := p.ctx.device
	res := p.res

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: p.name + "_encoder"})
	if err != nil {
		return fmt.Errorf("%w: create command encoder: %w", ErrDevice, err)
	}
	defer encoder.Destroy()

	if err := encoder.BeginEncoding(p.name); err != nil {
		return fmt.Errorf("%w: begin encoding: %w", ErrDevice, err)
	}

	// Host writes -> shader reads.
	uploads := []hal.BufferBarrier{
		{Buffer: res.input.Buffer(), Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageMapWrite, NewUsage: gputypes.BufferUsageStorage}},
		{Buffer: res.params.Buffer(), Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageMapWrite, NewUsage: gputypes.BufferUsageUniform}},
	}
	if res.mask != nil {
		uploads = append(uploads, hal.BufferBarrier{Buffer: res.mask.Buffer(), Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageMapWrite, NewUsage: gputypes.BufferUsageStorage}})
	}
	encoder.TransitionBuffers(uploads)

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.name + "_pass"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, res.group, nil)
	x, y, z := DispatchSize(w, h)
	pass.Dispatch(x, y, z)
	pass.End()

	// Shader writes -> host reads.
	encoder.TransitionBuffers([]hal.BufferBarrier{
		{Buffer: res.output.Buffer(), Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageStorage, NewUsage: gputypes.BufferUsageMapRead}},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %w", ErrDevice, err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	if _, err := p.ctx.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("%w: submit %s: %w", ErrDevice, p.name, err)
	}
	return p.ctx.WaitIdle()
}

// release destroys the current resource set, if any.
func (p *Pipeline) release() {
	res := p.res
	if res == nil {
		return
	}
	if res.group != nil {
		p.ctx.device.DestroyBindGroup(res.group)
	}
	bm := p.ctx.buffers
	bm.Destroy(res.params)
	bm.Destroy(res.mask)
	bm.Destroy(res.output)
	bm.Destroy(res.input)
	p.res = nil
}

// Close releases the pipeline's compiled objects. The Context stays open.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.ctx.Closed() {
		return
	}
	p.release()
	p.destroy()
}

// destroy releases compiled objects in reverse creation order.
func (p *Pipeline) destroy() {
	device := p.ctx.device
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}

// encodeParams packs (width, height, masked) as little-endian int32 into the
// params uniform layout. masked is 0 when slot 2 aliases the input, and
// shaders then treat every pixel as covered.
func encodeParams(w, h int, masked bool) []byte {
	b := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(int32(w)))
	binary.LittleEndian.PutUint32(b[4:], uint32(int32(h)))
	if masked {
		binary.LittleEndian.PutUint32(b[8:], 1)
	}
	return b
}
