//go:build !nogpu

package gpu

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MemoryProperty requests characteristics of the memory backing a buffer.
type MemoryProperty uint32

const (
	// MemoryDeviceLocal prefers memory with the fastest shader access.
	MemoryDeviceLocal MemoryProperty = 1 << iota
	// MemoryHostVisible makes the buffer mappable from the CPU.
	MemoryHostVisible
	// MemoryHostCoherent makes host writes visible without explicit flushes.
	MemoryHostCoherent
	// MemoryHostCached makes host reads fast; used for readback buffers.
	MemoryHostCached
)

// String returns the property names joined with "|".
func (p MemoryProperty) String() string {
	if p == 0 {
		return "None"
	}
	var parts []string
	for _, f := range []struct {
		bit  MemoryProperty
		name string
	}{
		{MemoryDeviceLocal, "DeviceLocal"},
		{MemoryHostVisible, "HostVisible"},
		{MemoryHostCoherent, "HostCoherent"},
		{MemoryHostCached, "HostCached"},
	} {
		if p&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// hostUsage translates memory properties into the HAL usage bits that make
// its allocator pick a matching memory type. The HAL walks the device's
// memory types in enumeration order and takes the first one whose bit is set
// in the buffer's requirement mask and which satisfies the usage.
func hostUsage(props MemoryProperty) (gputypes.BufferUsage, error) {
	if props&(MemoryHostCoherent|MemoryHostCached) != 0 && props&MemoryHostVisible == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoMemoryType, props)
	}
	switch {
	case props&MemoryHostVisible == 0:
		return 0, nil
	case props&MemoryHostCached != 0:
		return gputypes.BufferUsageMapRead, nil
	default:
		return gputypes.BufferUsageMapWrite, nil
	}
}

// Allocation is a device buffer together with the request that created it.
type Allocation struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
	Props MemoryProperty

	buffer hal.Buffer
}

// Buffer returns the underlying HAL buffer, or nil after Destroy.
func (a *Allocation) Buffer() hal.Buffer { return a.buffer }

// Binding describes the whole allocation as a bind group resource.
func (a *Allocation) Binding() gputypes.BufferBinding {
	return gputypes.BufferBinding{
		Buffer: a.buffer.NativeHandle(),
		Offset: 0,
		Size:   a.Size,
	}
}

// BufferStats counts buffer allocations made through a BufferManager.
type BufferStats struct {
	// LiveBuffers is the number of buffers created and not yet destroyed.
	LiveBuffers int
	// LiveBytes is the total size of live buffers.
	LiveBytes uint64
	// TotalAllocations counts every successful CreateBuffer call.
	TotalAllocations uint64
}

// String returns a human-readable summary.
func (s BufferStats) String() string {
	return fmt.Sprintf("Buffers[%d live, %d KiB, %d allocations]",
		s.LiveBuffers, s.LiveBytes/1024, s.TotalAllocations)
}

// BufferManager allocates storage and uniform buffers on one device and
// moves host data through mapped memory. It never stages: every buffer that
// is written or read from the CPU is host-visible.
//
// BufferManager is safe for concurrent use.
type BufferManager struct {
	device    hal.Device
	alignment uint64

	mu    sync.Mutex
	stats BufferStats
}

func newBufferManager(device hal.Device, alignment uint64) *BufferManager {
	return &BufferManager{device: device, alignment: alignment}
}

// Alignment returns the storage-buffer alignment sizes must respect.
func (m *BufferManager) Alignment() uint64 { return m.alignment }

// Stats returns a snapshot of allocation counters.
func (m *BufferManager) Stats() BufferStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// CreateBuffer allocates a buffer of size bytes with the given usage and
// memory properties. size must already be a multiple of Alignment.
func (m *BufferManager) CreateBuffer(label string, size uint64, usage gputypes.BufferUsage, props MemoryProperty) (*Allocation, error) {
	if size == 0 || size%m.alignment != 0 {
		return nil, fmt.Errorf("%w: %s size %d, alignment %d", ErrUnaligned, label, size, m.alignment)
	}
	extra, err := hostUsage(props)
	if err != nil {
		return nil, err
	}
	usage |= extra

	buf, err := m.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create buffer %s (%d bytes, %s): %w", ErrDevice, label, size, props, err)
	}

	m.mu.Lock()
	m.stats.LiveBuffers++
	m.stats.LiveBytes += size
	m.stats.TotalAllocations++
	m.mu.Unlock()

	slogger().Debug("gpu: buffer created", "label", label, "size", size, "props", props.String())
	return &Allocation{
		Label:  label,
		Size:   size,
		Usage:  usage,
		Props:  props,
		buffer: buf,
	}, nil
}

// CopyToBuffer maps the allocation, writes data at offset 0 and unmaps.
func (m *BufferManager) CopyToBuffer(a *Allocation, data []byte) error {
	if a == nil || a.buffer == nil {
		return fmt.Errorf("%w: copy into destroyed buffer", ErrDevice)
	}
	if uint64(len(data)) > a.Size {
		return fmt.Errorf("%w: %d bytes into %s (%d bytes)", ErrSizeMismatch, len(data), a.Label, a.Size)
	}
	if len(data) == 0 {
		return nil
	}
	mapping, err := m.device.MapBuffer(a.buffer, 0, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: map %s: %w", ErrDevice, a.Label, err)
	}
	copy(unsafe.Slice((*byte)(mapping.Ptr), len(data)), data)
	if err := m.device.UnmapBuffer(a.buffer); err != nil {
		return fmt.Errorf("%w: unmap %s: %w", ErrDevice, a.Label, err)
	}
	return nil
}

// CopyFromBuffer maps the allocation and copies len(dst) bytes from offset 0.
func (m *BufferManager) CopyFromBuffer(a *Allocation, dst []byte) error {
	if a == nil || a.buffer == nil {
		return fmt.Errorf("%w: copy from destroyed buffer", ErrDevice)
	}
	if uint64(len(dst)) > a.Size {
		return fmt.Errorf("%w: %d bytes from %s (%d bytes)", ErrSizeMismatch, len(dst), a.Label, a.Size)
	}
	if len(dst) == 0 {
		return nil
	}
	mapping, err := m.device.MapBuffer(a.buffer, 0, uint64(len(dst)))
	if err != nil {
		return fmt.Errorf("%w: map %s: %w", ErrDevice, a.Label, err)
	}
	copy(dst, unsafe.Slice((*byte)(mapping.Ptr), len(dst)))
	if err := m.device.UnmapBuffer(a.buffer); err != nil {
		return fmt.Errorf("%w: unmap %s: %w", ErrDevice, a.Label, err)
	}
	return nil
}

// Destroy releases the buffer. Nil-safe and idempotent.
func (m *BufferManager) Destroy(a *Allocation) {
	if a == nil || a.buffer == nil {
		return
	}
	m.device.DestroyBuffer(a.buffer)
	a.buffer = nil

	m.mu.Lock()
	m.stats.LiveBuffers--
	m.stats.LiveBytes -= a.Size
	m.mu.Unlock()
}

// AlignUp rounds n up to a multiple of align. align must be a power of two.
func AlignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
