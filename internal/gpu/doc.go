//go:build !nogpu

// Package gpu runs single-image compute shaders on a GPU through the
// gogpu/wgpu hardware abstraction layer.
//
// The package has three layers:
//
//   - Context: owns the HAL instance, the selected adapter, the logical
//     device and its queue. One Context exists per run; everything else
//     borrows it.
//   - BufferManager: creates device buffers from memory-property requests
//     and copies host data in and out through mapped memory.
//   - Pipeline: one compute shader bound to an image size. ProcessImage
//     uploads an RGBA frame (and an optional RGBA mask), dispatches the
//     shader over a 16x16 workgroup grid and reads the result back.
//
// # Shader Contract
//
// Every effect shader exposes the same bind group:
//
//	@group(0) @binding(0) var<storage, read>       src:    array<u32>;
//	@group(0) @binding(1) var<storage, read_write> dst:    array<u32>;
//	@group(0) @binding(2) var<storage, read>       mask:   array<u32>;
//	@group(0) @binding(3) var<uniform>             params: Params; // {width: i32, height: i32}
//
// with @workgroup_size(16, 16, 1). When no mask is supplied, binding 2
// aliases the input buffer.
//
// # Synchronization
//
// All work is synchronous. ProcessImage submits a single command buffer and
// blocks until the device is idle before reading back. Resources created for
// one invocation are destroyed before the call returns, so a Pipeline never
// holds more than one resource set.
package gpu
